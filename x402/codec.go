package x402

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrMalformedChallenge is returned when a challenge header cannot be decoded.
var ErrMalformedChallenge = errors.New("malformed payment challenge")

// Extensions maps an extension name to its raw JSON value.
type Extensions map[string]json.RawMessage

// AcceptedOption is one entry of a challenge's accepts list. Only the
// extensions map is interpreted; every other field passes through verbatim.
type AcceptedOption struct {
	Extensions Extensions
	Fields     map[string]json.RawMessage
}

// Challenge is a decoded PAYMENT-REQUIRED payload.
//
// Accepts and Extensions are only populated when the payload carries them in
// the expected shape (array of objects, object). Anything else, including a
// malformed accepts value, stays in Fields untouched.
type Challenge struct {
	Accepts    []AcceptedOption
	Extensions Extensions
	Fields     map[string]json.RawMessage
}

// X402Version returns the protocol version advertised by the challenge, or 0.
func (c *Challenge) X402Version() int {
	var v int
	if raw, ok := c.Fields["x402Version"]; ok {
		_ = json.Unmarshal(raw, &v)
	}
	return v
}

// Field unmarshals a pass-through field into v.
func (c *Challenge) Field(name string, v any) error {
	raw, ok := c.Fields[name]
	if !ok {
		return fmt.Errorf("field %q not present", name)
	}
	return json.Unmarshal(raw, v)
}

// Map returns the challenge as a generic JSON object.
func (c *Challenge) Map() (map[string]any, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Clone returns a deep copy of the challenge.
func (c *Challenge) Clone() *Challenge {
	out := &Challenge{
		Fields:     cloneRawMap(c.Fields),
		Extensions: Extensions(cloneRawMap(c.Extensions)),
	}
	if c.Accepts != nil {
		out.Accepts = make([]AcceptedOption, len(c.Accepts))
		for i, a := range c.Accepts {
			out.Accepts[i] = AcceptedOption{
				Extensions: Extensions(cloneRawMap(a.Extensions)),
				Fields:     cloneRawMap(a.Fields),
			}
		}
	}
	return out
}

// MarshalJSON writes the challenge as a single JSON object.
func (c Challenge) MarshalJSON() ([]byte, error) {
	obj := cloneRawMap(c.Fields)
	if obj == nil {
		obj = map[string]json.RawMessage{}
	}
	if c.Accepts != nil {
		raw, err := json.Marshal(c.Accepts)
		if err != nil {
			return nil, err
		}
		obj["accepts"] = raw
	}
	if c.Extensions != nil {
		raw, err := marshalExtensions(c.Extensions)
		if err != nil {
			return nil, err
		}
		obj["extensions"] = raw
	}
	return marshalSorted(obj)
}

// UnmarshalJSON accepts any JSON object.
func (c *Challenge) UnmarshalJSON(data []byte) error {
	fields, err := decodeObject(data)
	if err != nil {
		return err
	}
	*c = Challenge{Fields: fields}

	if raw, ok := fields["accepts"]; ok {
		if accepts, ok := decodeAccepts(raw); ok {
			c.Accepts = accepts
			delete(c.Fields, "accepts")
		}
	}
	if raw, ok := fields["extensions"]; ok {
		if ext, err := decodeObject(raw); err == nil {
			c.Extensions = Extensions(ext)
			delete(c.Fields, "extensions")
		}
	}
	return nil
}

// MarshalJSON writes the option as a single JSON object.
func (a AcceptedOption) MarshalJSON() ([]byte, error) {
	obj := cloneRawMap(a.Fields)
	if obj == nil {
		obj = map[string]json.RawMessage{}
	}
	if a.Extensions != nil {
		raw, err := marshalExtensions(a.Extensions)
		if err != nil {
			return nil, err
		}
		obj["extensions"] = raw
	}
	return marshalSorted(obj)
}

// EncodeChallenge serializes c to canonical JSON and base64-encodes it.
func EncodeChallenge(c *Challenge) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode challenge: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeChallenge reverses EncodeChallenge. Padded and unpadded standard
// base64 are both accepted.
func DecodeChallenge(header string) (*Challenge, error) {
	if header == "" {
		return nil, fmt.Errorf("%w: empty header", ErrMalformedChallenge)
	}
	payload, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		payload, err = base64.RawStdEncoding.DecodeString(header)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedChallenge, err)
		}
	}
	return ParseChallenge(payload)
}

// ParseChallenge decodes a challenge from its JSON form.
func ParseChallenge(payload []byte) (*Challenge, error) {
	var c Challenge
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedChallenge, err)
	}
	return &c, nil
}

// decodeAccepts reports false for anything but an array of objects. A JSON
// null is not an array and stays a pass-through field.
func decodeAccepts(raw json.RawMessage) ([]AcceptedOption, bool) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	accepts := make([]AcceptedOption, 0, len(items))
	for _, item := range items {
		fields, err := decodeObject(item)
		if err != nil {
			return nil, false
		}
		opt := AcceptedOption{Fields: fields}
		if rawExt, ok := fields["extensions"]; ok {
			ext, err := decodeObject(rawExt)
			if err != nil {
				return nil, false
			}
			opt.Extensions = Extensions(ext)
			delete(opt.Fields, "extensions")
		}
		accepts = append(accepts, opt)
	}
	return accepts, true
}

// decodeObject parses a JSON object into compacted raw members.
func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("challenge is not a JSON object")
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &members); err != nil {
		return nil, err
	}
	for k, v := range members {
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return nil, err
		}
		members[k] = json.RawMessage(buf.Bytes())
	}
	return members, nil
}

func marshalExtensions(ext Extensions) ([]byte, error) {
	if ext == nil {
		return []byte("{}"), nil
	}
	return marshalSorted(map[string]json.RawMessage(ext))
}

// marshalSorted writes obj with sorted keys. Values are canonicalized, so
// nested objects are key-sorted as well.
func marshalSorted(obj map[string]json.RawMessage) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := canonicalValue(obj[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// canonicalValue re-encodes one JSON value with object keys sorted at every
// depth. Numbers keep their original text.
func canonicalValue(raw json.RawMessage) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func cloneRawMap(in map[string]json.RawMessage) map[string]json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
