package x402

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	extypes "github.com/coinbase/x402/go/extensions/types"
)

// BazaarKey is the extension name under which discovery metadata is published.
var BazaarKey = string(extypes.BAZAAR)

var (
	// ErrAcceptsNotSequence is returned when a challenge carries an accepts
	// value that is not an array of objects.
	ErrAcceptsNotSequence = errors.New("challenge accepts is not a sequence")

	// ErrExtensionsNotObject is returned when a challenge carries an
	// extensions value that is not an object.
	ErrExtensionsNotObject = errors.New("challenge extensions is not an object")
)

const jsonSchemaDraft = "https://json-schema.org/draft/2020-12/schema"

// DiscoveryMetadata describes how an automated caller should invoke a paid
// resource and what it returns.
type DiscoveryMetadata struct {
	// Input is an example set of arguments. It becomes queryParams or a JSON
	// body depending on the request method.
	Input map[string]any
	// InputSchema describes Input.
	InputSchema extypes.JSONSchema
	// Output carries an example response and its schema.
	Output *extypes.OutputConfig
	// Category and Tags are surfaced to discovery catalogs as-is.
	Category string
	Tags     []string
}

// DiscoveryExtension is the value stored at extensions["bazaar"].
type DiscoveryExtension struct {
	Info     DiscoveryInfo      `json:"info"`
	Schema   extypes.JSONSchema `json:"schema"`
	Category string             `json:"category,omitempty"`
	Tags     []string           `json:"tags,omitempty"`
}

// DiscoveryInfo holds the concrete example call.
type DiscoveryInfo struct {
	Input  DiscoveryInput   `json:"input"`
	Output *DiscoveryOutput `json:"output,omitempty"`
}

// DiscoveryInput places example arguments where the method expects them.
type DiscoveryInput struct {
	Type         string         `json:"type"`
	Method       string         `json:"method,omitempty"`
	Discoverable bool           `json:"discoverable"`
	QueryParams  map[string]any `json:"queryParams,omitempty"`
	BodyType     string         `json:"bodyType,omitempty"`
	Body         map[string]any `json:"body,omitempty"`
}

// DiscoveryOutput is an example response.
type DiscoveryOutput struct {
	Type    string `json:"type"`
	Example any    `json:"example"`
}

// IsBodyMethod reports whether arguments for method travel in the request body.
func IsBodyMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// BuildDiscoveryExtension renders meta for a call made with method.
func BuildDiscoveryExtension(meta DiscoveryMetadata, method string) DiscoveryExtension {
	method = strings.ToUpper(method)
	bodyMethod := IsBodyMethod(method)

	input := DiscoveryInput{
		Type:         "http",
		Method:       method,
		Discoverable: true,
	}
	if meta.Input != nil {
		if bodyMethod {
			input.BodyType = "json"
			input.Body = meta.Input
		} else {
			input.QueryParams = meta.Input
		}
	}

	inputProps := map[string]any{
		"type":         map[string]any{"type": "string", "const": "http"},
		"method":       map[string]any{"type": "string"},
		"discoverable": map[string]any{"type": "boolean"},
	}
	if bodyMethod {
		inputProps["bodyType"] = map[string]any{"type": "string", "enum": []string{"json", "form-data", "text"}}
		if meta.InputSchema != nil {
			inputProps["body"] = meta.InputSchema
		} else {
			inputProps["body"] = map[string]any{"type": "object"}
		}
	} else if meta.InputSchema != nil {
		queryParams := map[string]any{"type": "object"}
		for k, v := range meta.InputSchema {
			queryParams[k] = v
		}
		inputProps["queryParams"] = queryParams
	}

	properties := map[string]any{
		"input": map[string]any{
			"type":       "object",
			"properties": inputProps,
			"required":   []string{"type"},
		},
	}

	ext := DiscoveryExtension{
		Category: meta.Category,
		Tags:     meta.Tags,
		Info:     DiscoveryInfo{Input: input},
	}

	if meta.Output != nil && meta.Output.Example != nil {
		ext.Info.Output = &DiscoveryOutput{Type: "json", Example: meta.Output.Example}
		example := map[string]any{"type": "object"}
		for k, v := range meta.Output.Schema {
			example[k] = v
		}
		properties["output"] = map[string]any{
			"type": "object",
			"properties": map[string]any{
				"type":    map[string]any{"type": "string"},
				"example": example,
			},
			"required": []string{"type"},
		}
	}

	ext.Schema = extypes.JSONSchema{
		"$schema":    jsonSchemaDraft,
		"type":       "object",
		"properties": properties,
		"required":   []string{"input"},
	}
	return ext
}

// SetDiscovery stores ext under the bazaar key, replacing any previous value.
func (e *Extensions) SetDiscovery(ext DiscoveryExtension) error {
	raw, err := json.Marshal(ext)
	if err != nil {
		return fmt.Errorf("marshal discovery extension: %w", err)
	}
	if *e == nil {
		*e = Extensions{}
	}
	(*e)[BazaarKey] = raw
	return nil
}

// Discovery returns the bazaar extension, if present.
func (e Extensions) Discovery() (*DiscoveryExtension, bool) {
	raw, ok := e[BazaarKey]
	if !ok {
		return nil, false
	}
	var ext DiscoveryExtension
	if err := json.Unmarshal(raw, &ext); err != nil {
		return nil, false
	}
	return &ext, true
}

// MergeDiscovery returns a copy of c with meta published at extensions["bazaar"]
// on every accepted option and at the top level. The input is never modified.
// A nil meta returns c unchanged. On error c is returned as-is together with the
// error so callers can log and carry on with the original challenge.
func MergeDiscovery(c *Challenge, meta *DiscoveryMetadata, method string) (*Challenge, error) {
	if c == nil || meta == nil {
		return c, nil
	}
	if _, ok := c.Fields["accepts"]; ok {
		return c, ErrAcceptsNotSequence
	}
	if _, ok := c.Fields["extensions"]; ok {
		return c, ErrExtensionsNotObject
	}

	ext := BuildDiscoveryExtension(*meta, method)
	merged := c.Clone()
	for i := range merged.Accepts {
		if err := merged.Accepts[i].Extensions.SetDiscovery(ext); err != nil {
			return c, err
		}
	}
	if err := merged.Extensions.SetDiscovery(ext); err != nil {
		return c, err
	}
	return merged, nil
}
