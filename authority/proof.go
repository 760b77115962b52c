package authority

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coinbase/x402/go/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/andrewreder/x402-marketplace/x402"
)

// SchemeExact is the only payment scheme the dev authority settles.
const SchemeExact = "exact"

// Authorization is the signed statement binding a payment to one call.
type Authorization struct {
	Resource    string `json:"resource"`
	Method      string `json:"method"`
	Network     string `json:"network"`
	Asset       string `json:"asset"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// Digest is the EIP-191 personal-message hash of the canonical authorization.
func (a Authorization) Digest() ([]byte, error) {
	msg, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)
	return crypto.Keccak256([]byte(prefixed)), nil
}

// Proof is a decoded PAYMENT-SIGNATURE value.
type Proof struct {
	X402Version   int
	Accepted      x402.PaymentRequirements
	Authorization Authorization
	Signature     []byte
}

var errMalformedProof = errors.New("malformed proof")

// DecodeProof parses a base64 JSON payment payload.
func DecodeProof(header string) (*Proof, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimSpace(header))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformedProof, err)
		}
	}
	version, err := types.DetectVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedProof, err)
	}
	var payload x402.PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedProof, err)
	}

	proof := &Proof{X402Version: version, Accepted: payload.Accepted}
	authRaw, err := json.Marshal(payload.Payload["authorization"])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedProof, err)
	}
	if err := json.Unmarshal(authRaw, &proof.Authorization); err != nil {
		return nil, fmt.Errorf("%w: authorization: %v", errMalformedProof, err)
	}
	sig, ok := payload.Payload["signature"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing signature", errMalformedProof)
	}
	if proof.Signature, err = hexutil.Decode(sig); err != nil {
		return nil, fmt.Errorf("%w: signature: %v", errMalformedProof, err)
	}
	return proof, nil
}

// Signer recovers the address that signed the authorization.
func (p *Proof) Signer() (common.Address, error) {
	if len(p.Signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	digest, err := p.Authorization.Digest()
	if err != nil {
		return common.Address{}, err
	}
	sig := append([]byte(nil), p.Signature...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignProof signs auth with key, filling in From, and returns the value to
// send in the PAYMENT-SIGNATURE header.
func SignProof(key *ecdsa.PrivateKey, accepted x402.PaymentRequirements, auth Authorization) (string, error) {
	auth.From = crypto.PubkeyToAddress(key.PublicKey).Hex()
	digest, err := auth.Digest()
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", fmt.Errorf("sign authorization: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	var authMap map[string]any
	authRaw, err := json.Marshal(auth)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(authRaw, &authMap); err != nil {
		return "", err
	}

	payload := x402.PaymentPayload{
		X402Version: 2,
		Accepted:    accepted,
		Payload: map[string]interface{}{
			"authorization": authMap,
			"signature":     hexutil.Encode(sig),
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// PrepareProof answers a challenge: it picks the first exact-scheme option,
// binds it to the challenge's resource and method, and signs it.
func PrepareProof(key *ecdsa.PrivateKey, challenge *x402.Challenge, method string, now time.Time) (string, error) {
	raw, err := json.Marshal(challenge.Accepts)
	if err != nil {
		return "", err
	}
	var accepts []x402.PaymentRequirements
	if err := json.Unmarshal(raw, &accepts); err != nil {
		return "", fmt.Errorf("decode accepts: %w", err)
	}
	var resource x402.ResourceInfo
	if err := challenge.Field("resource", &resource); err != nil {
		return "", fmt.Errorf("challenge has no resource: %w", err)
	}

	for _, accepted := range accepts {
		if accepted.Scheme != SchemeExact {
			continue
		}
		validAfter := now.Unix()
		return SignProof(key, accepted, Authorization{
			Resource:    resource.URL,
			Method:      strings.ToUpper(method),
			Network:     string(accepted.Network),
			Asset:       accepted.Asset,
			To:          accepted.PayTo,
			Value:       accepted.Amount,
			ValidAfter:  validAfter,
			ValidBefore: validAfter + int64(accepted.MaxTimeoutSeconds),
			Nonce:       uuid.NewString(),
		})
	}
	return "", errors.New("challenge offers no exact payment option")
}
