package mcp

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	x402types "github.com/coinbase/x402/go/types"

	"github.com/andrewreder/x402-marketplace/x402"
)

type paymentHeader struct {
	Name    string
	Value   string
	Version int
}

// proofHeader encodes a payment payload for the header its version expects:
// PAYMENT-SIGNATURE from v2 on, X-PAYMENT before.
func proofHeader(payment map[string]any) (*paymentHeader, error) {
	raw, err := json.Marshal(payment)
	if err != nil {
		return nil, err
	}
	version, err := x402types.DetectVersion(raw)
	if err != nil {
		return nil, err
	}
	name := x402.HeaderPaymentSignature
	if version < 2 {
		name = x402.HeaderXPayment
	}
	return &paymentHeader{
		Name:    name,
		Value:   base64.StdEncoding.EncodeToString(raw),
		Version: version,
	}, nil
}

// responseChallenge returns the payment challenge carried by resp. The
// PAYMENT-REQUIRED header wins; otherwise a 402 body is used when it has an
// accepts list.
func responseChallenge(resp *http.Response, body []byte) *x402.Challenge {
	if header := resp.Header.Get(x402.HeaderPaymentRequired); header != "" {
		if challenge, err := x402.DecodeChallenge(header); err == nil {
			return challenge
		}
	}
	if resp.StatusCode != http.StatusPaymentRequired || len(body) == 0 {
		return nil
	}
	challenge, err := x402.ParseChallenge(body)
	if err != nil || challenge.Accepts == nil {
		return nil
	}
	return challenge
}

// responseReceipt decodes PAYMENT-RESPONSE, or X-PAYMENT-RESPONSE for v1
// resources.
func responseReceipt(resp *http.Response) map[string]any {
	for _, name := range []string{x402.HeaderPaymentResponse, x402.HeaderXPaymentResponse} {
		value := resp.Header.Get(name)
		if value == "" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			if raw, err = base64.RawStdEncoding.DecodeString(value); err != nil {
				continue
			}
		}
		var receipt map[string]any
		if err := json.Unmarshal(raw, &receipt); err == nil {
			return receipt
		}
	}
	return nil
}
