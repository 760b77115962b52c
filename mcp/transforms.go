package mcp

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/andrewreder/x402-marketplace/x402"
)

const maxProxyResponseBytes = 1 << 20

// resourceCall is how a discovery resource is invoked over HTTP.
type resourceCall struct {
	method      string
	description string
	// query and headers map a parameter name to its description.
	query   map[string]string
	headers map[string]string
	body    bool
}

// describeResource reads the call shape from the first accepted option that
// declares an input, then metadata.input, then the bazaar extension.
func describeResource(resource X402DiscoveryResource) resourceCall {
	call := resourceCall{}
	var input map[string]any
	if resource.Accepts != nil {
		for _, req := range *resource.Accepts {
			in, _ := req.OutputSchema["input"].(map[string]any)
			if req.Description == "" && in == nil {
				continue
			}
			call.description = req.Description
			input = in
			break
		}
	}
	if input == nil && resource.Metadata != nil {
		input, _ = (*resource.Metadata)["input"].(map[string]any)
	}
	if call.description == "" && resource.Metadata != nil {
		call.description, _ = (*resource.Metadata)["description"].(string)
	}

	if input != nil {
		call.method, _ = input["method"].(string)
		call.query = describeParams(input["queryParams"])
		call.headers = describeParams(input["headers"])
		_, call.body = input["body"]
	}

	if ext, ok := bazaarExtension(resource); ok {
		in := ext.Info.Input
		if call.method == "" {
			call.method = in.Method
		}
		if call.query == nil && len(in.QueryParams) > 0 {
			call.query = make(map[string]string, len(in.QueryParams))
			for name, example := range in.QueryParams {
				call.query[name] = fmt.Sprintf("e.g. %v", example)
			}
		}
		if in.Body != nil || in.BodyType != "" {
			call.body = true
		}
	}

	call.method = strings.ToUpper(call.method)
	if call.method == "" {
		call.method = http.MethodGet
	}
	return call
}

func describeParams(raw any) map[string]string {
	params, ok := raw.(map[string]any)
	if !ok || len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for name, desc := range params {
		if desc == nil {
			out[name] = ""
			continue
		}
		out[name] = fmt.Sprint(desc)
	}
	return out
}

// bazaarExtension returns metadata.bazaar whether it holds the typed
// extension or decoded JSON.
func bazaarExtension(resource X402DiscoveryResource) (*x402.DiscoveryExtension, bool) {
	if resource.Metadata == nil {
		return nil, false
	}
	switch v := (*resource.Metadata)[x402.BazaarKey].(type) {
	case nil:
		return nil, false
	case x402.DiscoveryExtension:
		return &v, true
	case *x402.DiscoveryExtension:
		return v, v != nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		var ext x402.DiscoveryExtension
		if err := json.Unmarshal(raw, &ext); err != nil {
			return nil, false
		}
		return &ext, true
	}
}

func resourceToTool(resource X402DiscoveryResource) *mcp.Tool {
	if !strings.EqualFold(resource.Type, "http") {
		return nil
	}
	call := describeResource(resource)
	name := toolNameFromResource(resource.Resource, call.method)

	description := strings.TrimSpace(call.description)
	if description == "" {
		description = "Proxy call to " + resource.Resource + "."
	}
	description += " Use proxy_tool_call with payment to execute."

	tool := &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: proxyInputSchema(resource.Resource, call),
		Meta: map[string]any{
			"x402/call-with": map[string]any{"tool": "proxy_tool_call"},
		},
	}
	if challenge, err := pricingChallenge(resource, name, description); err == nil && challenge != nil {
		if payload, err := challenge.Map(); err == nil {
			tool.Meta[x402.MetaKeyPaymentRequired] = payload
		}
	}
	return tool
}

func toolNameFromResource(resource, method string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(method) + " " + resource))
	prefix := ""
	if method != "" {
		prefix = sanitizeToolName(method) + "_"
	}
	return "x402_" + prefix + sanitizeToolName(resource) + "_" + hex.EncodeToString(sum[:4])
}

func sanitizeToolName(value string) string {
	out := []byte(strings.ToLower(value))
	for i, c := range out {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			out[i] = '_'
		}
	}
	if s := strings.Trim(string(out), "_"); s != "" {
		return s
	}
	return "resource"
}

func proxyInputSchema(resourceURL string, call resourceCall) map[string]any {
	params := map[string]any{}
	if len(call.query) > 0 {
		params["query"] = stringObjectSchema("Query parameters to include on the request.", call.query)
	}
	if len(call.headers) > 0 {
		params["headers"] = stringObjectSchema("Additional headers to include on the request.", call.headers)
	}
	if call.body {
		params["body"] = map[string]any{"description": "JSON body to include on the request."}
	}

	schema := map[string]any{
		"type":        "object",
		"description": fmt.Sprintf("HTTP %s to %s", call.method, resourceURL),
		"properties": map[string]any{
			"parameters": map[string]any{"type": "object", "properties": params},
		},
	}
	if len(params) > 0 {
		schema["required"] = []string{"parameters"}
	}
	return schema
}

func stringObjectSchema(description string, fields map[string]string) map[string]any {
	props := make(map[string]any, len(fields))
	for name, desc := range fields {
		prop := map[string]any{"type": "string"}
		if desc != "" {
			prop["description"] = desc
		}
		props[name] = prop
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"description":          description,
		"properties":           props,
	}
}

// pricingChallenge renders a resource's payment options as the challenge an
// MCP client would receive for tool, with the bazaar extension attached.
func pricingChallenge(resource X402DiscoveryResource, tool, description string) (*x402.Challenge, error) {
	if resource.Accepts == nil || len(*resource.Accepts) == 0 {
		return nil, nil
	}
	version := resource.X402Version
	if version < 2 {
		version = 2
	}
	required := x402.PaymentRequired{
		X402Version: version,
		Resource: &x402.ResourceInfo{
			URL:         "mcp://tool/" + tool,
			Description: description,
		},
	}
	for _, req := range *resource.Accepts {
		amount := req.Amount
		if amount == "" {
			amount = req.MaxAmountRequired
		}
		if required.Resource.MimeType == "" {
			required.Resource.MimeType = req.MimeType
		}
		required.Accepts = append(required.Accepts, x402.PaymentRequirements{
			Scheme:            req.Scheme,
			Network:           req.Network,
			Asset:             req.Asset,
			Amount:            amount,
			PayTo:             req.PayTo,
			MaxTimeoutSeconds: req.MaxTimeoutSeconds,
			Extra:             req.Extra,
		})
	}

	raw, err := json.Marshal(required)
	if err != nil {
		return nil, err
	}
	challenge, err := x402.ParseChallenge(raw)
	if err != nil {
		return nil, err
	}
	if ext, ok := bazaarExtension(resource); ok {
		for i := range challenge.Accepts {
			if err := challenge.Accepts[i].Extensions.SetDiscovery(*ext); err != nil {
				return nil, err
			}
		}
		if err := challenge.Extensions.SetDiscovery(*ext); err != nil {
			return nil, err
		}
	}
	return challenge, nil
}

func findResourceForToolName(items []X402DiscoveryResource, toolName string) (*X402DiscoveryResource, error) {
	for i := range items {
		if !strings.EqualFold(items[i].Type, "http") {
			continue
		}
		if toolNameFromResource(items[i].Resource, describeResource(items[i]).method) == toolName {
			return &items[i], nil
		}
	}
	return nil, fmt.Errorf("tool %q not found", toolName)
}

// proxyToolCallToHTTPRequest builds the upstream request. parameters may hold
// query, headers and body; a body turns a GET into a POST.
func proxyToolCallToHTTPRequest(ctx context.Context, resource X402DiscoveryResource, parameters map[string]any) (*http.Request, error) {
	method := describeResource(resource).method

	endpoint, err := url.Parse(resource.Resource)
	if err != nil {
		return nil, fmt.Errorf("invalid resource url: %w", err)
	}
	query := endpoint.Query()
	if extra, ok := parameters["query"].(map[string]any); ok {
		for key, value := range extra {
			query.Set(key, fmt.Sprint(value))
		}
	}
	endpoint.RawQuery = query.Encode()

	var body io.Reader
	if payload, ok := parameters["body"]; ok && payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid body payload: %w", err)
		}
		body = bytes.NewReader(raw)
		if method == http.MethodGet {
			method = http.MethodPost
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := parameters["headers"].(map[string]any); ok {
		for key, value := range headers {
			req.Header.Set(key, fmt.Sprint(value))
		}
	}
	return req, nil
}

// httpResponseToMCPResult turns an upstream response into a tool result. A
// payment challenge becomes structured content; a receipt becomes meta.
func httpResponseToMCPResult(resp *http.Response) (*mcp.CallToolResult, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read proxy response: %w", err)
	}

	if challenge := responseChallenge(resp, body); challenge != nil {
		structured, err := challenge.Map()
		if err != nil {
			return nil, fmt.Errorf("failed to decode payment challenge: %w", err)
		}
		text, err := json.Marshal(challenge)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payment challenge: %w", err)
		}
		return &mcp.CallToolResult{
			Content:           []mcp.Content{&mcp.TextContent{Text: string(text)}},
			StructuredContent: structured,
			IsError:           true,
		}, nil
	}

	text, err := json.MarshalIndent(map[string]any{
		"status":  resp.StatusCode,
		"headers": flattenHeaders(resp.Header),
		"body":    string(body),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proxy response: %w", err)
	}
	result := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
		IsError: resp.StatusCode >= http.StatusBadRequest,
	}
	if receipt := responseReceipt(resp); receipt != nil {
		result.Meta = map[string]any{x402.MetaKeyPaymentResponse: receipt}
	}
	return result, nil
}

// flattenHeaders joins repeated header values.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}
