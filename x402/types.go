package x402

// X402 Payment Protocol types for the pay-per-call gate.
// Wire vocabulary follows github.com/coinbase/x402/go; challenge payloads stay
// loosely typed (see Challenge) because the Settlement Authority owns their shape.

import (
	x402sdk "github.com/coinbase/x402/go"
	"github.com/coinbase/x402/go/types"
)

// Header names used on the wire.
const (
	HeaderPaymentRequired  = "PAYMENT-REQUIRED"
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	HeaderPaymentResponse  = "PAYMENT-RESPONSE"
	HeaderXPayment         = "X-PAYMENT"
	HeaderXPaymentResponse = "X-PAYMENT-RESPONSE"
)

// MCP _meta keys.
const (
	MetaKeyPayment         = "x402/payment"
	MetaKeyPaymentResponse = "x402/payment-response"
	MetaKeyPaymentRequired = "x402/payment-required"
)

const (
	// DefaultMimeType is the content type declared for every paid resource.
	DefaultMimeType = "application/json"

	// DefaultMaxTimeoutSeconds is how long an issued challenge stays redeemable.
	DefaultMaxTimeoutSeconds = 60 * 60
)

// DefaultProofHeaders lists the request headers that may carry a payment proof,
// in priority order. PAYMENT-SIGNATURE is the x402 v2 header; X-PAYMENT is kept
// as a compatibility shim for v1 clients.
var DefaultProofHeaders = []string{HeaderPaymentSignature, HeaderXPayment}

// Re-export official types for convenience
type (
	// Network is the official x402 network type (CAIP-2 format)
	Network = x402sdk.Network

	// SettleResponse is the official x402 settle response type
	SettleResponse = x402sdk.SettleResponse

	// PaymentRequirements is the official x402 payment requirements type
	PaymentRequirements = types.PaymentRequirements

	// PaymentRequired is the official x402 payment required response type
	PaymentRequired = types.PaymentRequired

	// PaymentPayload is the official x402 payment payload type
	PaymentPayload = types.PaymentPayload

	// ResourceInfo describes the resource requiring payment
	ResourceInfo = types.ResourceInfo
)

// ResourceDescriptor identifies what a single call is paying for.
type ResourceDescriptor struct {
	ResourceURL string
	Method      string
	Price       string
	Description string
}

// RouteConfig is the per-resource settlement context forwarded to the Authority.
type RouteConfig struct {
	Description       string `json:"description"`
	MimeType          string `json:"mimeType"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
}

// Route is the static per-endpoint configuration of a paid resource.
type Route struct {
	// Price is a decimal amount in the settlement asset, e.g. "0.001".
	Price       string
	Description string
	// Discovery is optional; when set it is merged into every challenge.
	Discovery *DiscoveryMetadata
}
