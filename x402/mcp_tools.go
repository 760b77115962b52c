package x402

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolGate runs MCP tool calls through a Gate. Each priced tool is addressed
// as <baseURL>/tools/<name>; the proof travels in _meta["x402/payment"].
type ToolGate struct {
	gate    *Gate
	baseURL string

	mu      sync.RWMutex
	pricing map[string]Route
}

// NewToolGate creates a ToolGate. Tools without a price pass through untouched.
func NewToolGate(gate *Gate, baseURL string) *ToolGate {
	return &ToolGate{
		gate:    gate,
		baseURL: strings.TrimRight(baseURL, "/"),
		pricing: make(map[string]Route),
	}
}

// SetToolPrice prices toolName.
func (t *ToolGate) SetToolPrice(toolName string, route Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pricing[toolName] = route
}

// Route returns the pricing for toolName, if any.
func (t *ToolGate) Route(toolName string) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	route, ok := t.pricing[toolName]
	return route, ok
}

// ResourceURL is the resource a payment for toolName must be bound to.
func (t *ToolGate) ResourceURL(toolName string) string {
	return fmt.Sprintf("%s/tools/%s", t.baseURL, toolName)
}

// WrapToolHandler gates handler behind the price registered for toolName.
// A denial becomes an error result carrying the challenge in
// _meta["x402/payment-required"]; a settled call gets the receipt in
// _meta["x402/payment-response"].
func WrapToolHandler[In, Out any](
	t *ToolGate,
	toolName string,
	handler func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, Out, error),
) func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, Out, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input In) (*mcp.CallToolResult, Out, error) {
		var zero Out

		route, ok := t.Route(toolName)
		if !ok {
			return handler(ctx, req, input)
		}

		proof, err := proofFromMeta(extractMeta(req))
		if err != nil {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{
					&mcp.TextContent{Text: fmt.Sprintf("Payment validation failed: %s", err.Error())},
				},
			}, zero, nil
		}

		res := t.gate.AuthorizeCall(ctx, Call{
			ResourceURL: t.ResourceURL(toolName),
			Method:      http.MethodPost,
			Proof:       proof,
		}, route)

		if !res.Authorized {
			meta := map[string]any{}
			if res.Challenge != nil {
				if challenge, err := res.Challenge.Map(); err == nil {
					meta[MetaKeyPaymentRequired] = challenge
				}
			}
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{
					&mcp.TextContent{Text: string(res.Body)},
				},
				Meta: meta,
			}, zero, nil
		}

		result, out, err := handler(ctx, req, input)
		if err != nil {
			return result, out, err
		}
		if result == nil {
			result = &mcp.CallToolResult{}
		}
		if result.Meta == nil {
			result.Meta = make(map[string]any)
		}
		result.Meta[MetaKeyPaymentResponse] = receiptMeta(res.Headers)
		return result, out, nil
	}
}

// proofFromMeta returns the proof as it would appear in a proof header:
// string values are used verbatim, objects are JSON-encoded and base64'd.
func proofFromMeta(meta map[string]any) (string, error) {
	payment, ok := meta[MetaKeyPayment]
	if !ok || payment == nil {
		return "", nil
	}
	if s, ok := payment.(string); ok {
		return strings.TrimSpace(s), nil
	}
	raw, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("invalid payment format: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// receiptMeta decodes the PAYMENT-RESPONSE receipt when present and falls
// back to the raw receipt headers.
func receiptMeta(headers map[string]string) any {
	for _, name := range []string{HeaderPaymentResponse, HeaderXPaymentResponse} {
		key, ok := lookupHeader(headers, name)
		if !ok {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(headers[key])
		if err != nil {
			continue
		}
		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			return decoded
		}
	}
	return headers
}

// extractMeta extracts the _meta field from a CallToolRequest.
func extractMeta(req *mcp.CallToolRequest) map[string]any {
	result := make(map[string]any)
	if req == nil || req.Params == nil {
		return result
	}
	for k, v := range req.Params.GetMeta() {
		result[k] = v
	}
	return result
}
