package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/andrewreder/x402-marketplace/authority"
	"github.com/andrewreder/x402-marketplace/catalog"
	"github.com/andrewreder/x402-marketplace/x402"
)

const (
	testAsset   = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	testNetwork = "eip155:84532"
	testBaseURL = "https://market.example.com"
)

func listingRequest(t *testing.T, id string) x402.SettleRequest {
	t.Helper()
	listing, ok := catalog.ByID(id)
	if !ok {
		t.Fatalf("no listing %q", id)
	}
	return x402.SettleRequest{
		ResourceURL: testBaseURL + listing.Endpoint,
		Method:      listing.Method,
		PayTo:       testPayTo,
		Network:     testNetwork,
		Price:       listing.Price,
		RouteConfig: x402.RouteConfig{Description: listing.Summary, MimeType: x402.DefaultMimeType},
	}
}

func newAuthority() *authority.Authority {
	return authority.New(authority.Config{Asset: testAsset, AssetDecimals: 6}, nil, nil)
}

// gateChallenge is the challenge the gate hands out for a listing: the
// authority's challenge with the listing's bazaar metadata merged in.
func gateChallenge(t *testing.T, id string) *x402.Challenge {
	t.Helper()
	req := listingRequest(t, id)
	required, err := newAuthority().Challenge(req)
	if err != nil {
		t.Fatalf("Challenge error: %v", err)
	}
	raw, err := json.Marshal(required)
	if err != nil {
		t.Fatalf("marshal challenge: %v", err)
	}
	c, err := x402.ParseChallenge(raw)
	if err != nil {
		t.Fatalf("ParseChallenge error: %v", err)
	}
	listing, _ := catalog.ByID(id)
	merged, err := x402.MergeDiscovery(c, listing.Discovery, req.Method)
	if err != nil {
		t.Fatalf("MergeDiscovery error: %v", err)
	}
	return merged
}

func toolResult(t *testing.T, resp *http.Response) *sdkmcp.CallToolResult {
	t.Helper()
	result, err := httpResponseToMCPResult(resp)
	if err != nil {
		t.Fatalf("httpResponseToMCPResult error: %v", err)
	}
	return result
}

func firstAccept(t *testing.T, c *x402.Challenge) x402.PaymentRequirements {
	t.Helper()
	if len(c.Accepts) == 0 {
		t.Fatalf("challenge has no accepts")
	}
	raw, err := json.Marshal(c.Accepts[0])
	if err != nil {
		t.Fatalf("marshal accept: %v", err)
	}
	var req x402.PaymentRequirements
	if err := json.Unmarshal(raw, &req); err != nil {
		t.Fatalf("unmarshal accept: %v", err)
	}
	return req
}

func TestResourceToToolPricingMeta(t *testing.T) {
	t.Parallel()

	weather := testResources(t, testBaseURL)[0]
	tool := resourceToTool(weather)
	if tool.Name != toolNameFromResource(weather.Resource, http.MethodGet) {
		t.Fatalf("unexpected tool name %q", tool.Name)
	}
	if !strings.HasSuffix(tool.Description, "Use proxy_tool_call with payment to execute.") {
		t.Fatalf("unexpected description %q", tool.Description)
	}
	if tool.Meta["x402/call-with"] == nil {
		t.Fatalf("expected call-with meta")
	}

	raw, err := json.Marshal(tool.Meta[x402.MetaKeyPaymentRequired])
	if err != nil {
		t.Fatalf("marshal pricing meta: %v", err)
	}
	c, err := x402.ParseChallenge(raw)
	if err != nil {
		t.Fatalf("pricing meta is not a challenge: %v", err)
	}
	if c.X402Version() != 2 {
		t.Fatalf("expected v2 pricing, got %d", c.X402Version())
	}
	var resource x402.ResourceInfo
	if err := c.Field("resource", &resource); err != nil {
		t.Fatalf("resource: %v", err)
	}
	if resource.URL != "mcp://tool/"+tool.Name || resource.MimeType != x402.DefaultMimeType {
		t.Fatalf("unexpected resource %#v", resource)
	}
	accept := firstAccept(t, c)
	if accept.Amount != "1000" || accept.PayTo != testPayTo || accept.Network != testNetwork {
		t.Fatalf("unexpected accept %#v", accept)
	}

	ext, ok := c.Extensions.Discovery()
	if !ok {
		t.Fatalf("expected bazaar extension on pricing meta")
	}
	if ext.Info.Input.Method != http.MethodGet || ext.Info.Input.QueryParams["city"] != "London" {
		t.Fatalf("unexpected bazaar input %#v", ext.Info.Input)
	}
	if _, ok := c.Accepts[0].Extensions.Discovery(); !ok {
		t.Fatalf("expected bazaar extension on the accepted option")
	}

	schema := tool.InputSchema.(map[string]any)
	params := schema["properties"].(map[string]any)["parameters"].(map[string]any)["properties"].(map[string]any)
	query, ok := params["query"].(map[string]any)
	if !ok {
		t.Fatalf("expected query schema, got %#v", params)
	}
	if _, ok := query["properties"].(map[string]any)["city"]; !ok {
		t.Fatalf("expected city parameter, got %#v", query)
	}
}

func foreignResource(t *testing.T) X402DiscoveryResource {
	t.Helper()
	ext := x402.BuildDiscoveryExtension(x402.DiscoveryMetadata{Input: map[string]any{"text": "hello"}}, http.MethodPost)
	raw, err := json.Marshal(ext)
	if err != nil {
		t.Fatalf("marshal extension: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal extension: %v", err)
	}
	metadata := map[string]any{"description": "Translate text", x402.BazaarKey: decoded}
	return X402DiscoveryResource{
		Accepts: &[]X402PaymentRequirements{{
			Scheme:            "exact",
			Network:           "base-sepolia",
			MaxAmountRequired: "2500",
			Asset:             testAsset,
			PayTo:             testPayTo,
			MaxTimeoutSeconds: 60,
		}},
		Resource:    "https://other.example.com/api/translate",
		Type:        "http",
		X402Version: 1,
		Metadata:    &metadata,
	}
}

func TestResourceToToolFallsBackToBazaar(t *testing.T) {
	t.Parallel()

	resource := foreignResource(t)
	tool := resourceToTool(resource)
	if tool.Name != toolNameFromResource(resource.Resource, http.MethodPost) {
		t.Fatalf("expected POST tool name, got %q", tool.Name)
	}
	if !strings.HasPrefix(tool.Description, "Translate text") {
		t.Fatalf("expected metadata description, got %q", tool.Description)
	}
	schema := tool.InputSchema.(map[string]any)
	params := schema["properties"].(map[string]any)["parameters"].(map[string]any)["properties"].(map[string]any)
	if _, ok := params["body"]; !ok {
		t.Fatalf("expected body parameter, got %#v", params)
	}

	raw, err := json.Marshal(tool.Meta[x402.MetaKeyPaymentRequired])
	if err != nil {
		t.Fatalf("marshal pricing meta: %v", err)
	}
	c, err := x402.ParseChallenge(raw)
	if err != nil {
		t.Fatalf("pricing meta is not a challenge: %v", err)
	}
	if accept := firstAccept(t, c); accept.Amount != "2500" {
		t.Fatalf("expected v1 amount to carry over, got %#v", accept)
	}

	found, err := findResourceForToolName([]X402DiscoveryResource{resource}, tool.Name)
	if err != nil || found.Resource != resource.Resource {
		t.Fatalf("findResourceForToolName: %v", err)
	}
	req, err := proxyToolCallToHTTPRequest(context.Background(), *found, map[string]any{
		"body": map[string]any{"text": "hola"},
	})
	if err != nil {
		t.Fatalf("proxyToolCallToHTTPRequest error: %v", err)
	}
	if req.Method != http.MethodPost || req.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected request %s %v", req.Method, req.Header)
	}
	body, _ := io.ReadAll(req.Body)
	if string(body) != `{"text":"hola"}` {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestResourceToToolSkipsNonHTTP(t *testing.T) {
	t.Parallel()

	if resourceToTool(X402DiscoveryResource{Type: "mcp", Resource: "mcp://tool/x"}) != nil {
		t.Fatalf("expected no tool for non-http resource")
	}
}

func TestProxyToolCallToHTTPRequest(t *testing.T) {
	t.Parallel()

	uuidAPI := testResources(t, testBaseURL)[3]
	req, err := proxyToolCallToHTTPRequest(context.Background(), uuidAPI, map[string]any{
		"query":   map[string]any{"count": 3},
		"headers": map[string]any{"X-Request-ID": "req-1"},
	})
	if err != nil {
		t.Fatalf("proxyToolCallToHTTPRequest error: %v", err)
	}
	if req.Method != http.MethodGet || req.URL.String() != testBaseURL+"/api/uuid?count=3" {
		t.Fatalf("unexpected request %s %s", req.Method, req.URL)
	}
	if req.Header.Get("X-Request-ID") != "req-1" || req.Header.Get("Accept") != "application/json" {
		t.Fatalf("unexpected headers %v", req.Header)
	}

	bodied, err := proxyToolCallToHTTPRequest(context.Background(), uuidAPI, map[string]any{"body": map[string]any{"n": 1}})
	if err != nil {
		t.Fatalf("proxyToolCallToHTTPRequest error: %v", err)
	}
	if bodied.Method != http.MethodPost {
		t.Fatalf("expected a body to switch GET to POST, got %s", bodied.Method)
	}
}

func TestHTTPResponseToMCPResultChallengeHeader(t *testing.T) {
	t.Parallel()

	challenge := gateChallenge(t, "joke-api")
	header, err := x402.EncodeChallenge(challenge)
	if err != nil {
		t.Fatalf("EncodeChallenge error: %v", err)
	}
	result := toolResult(t, &http.Response{
		StatusCode: http.StatusPaymentRequired,
		Header:     http.Header{"Payment-Required": []string{header}},
		Body:       io.NopCloser(strings.NewReader(`{"error":"Payment required"}`)),
	})

	if !result.IsError {
		t.Fatalf("expected IsError for a payment challenge")
	}
	structured, ok := result.StructuredContent.(map[string]any)
	if !ok {
		t.Fatalf("expected structured challenge, got %T", result.StructuredContent)
	}
	accepts, _ := structured["accepts"].([]any)
	if len(accepts) != 1 || accepts[0].(map[string]any)["payTo"] != testPayTo {
		t.Fatalf("unexpected accepts %#v", structured["accepts"])
	}
	extensions, _ := structured["extensions"].(map[string]any)
	if extensions[x402.BazaarKey] == nil {
		t.Fatalf("expected bazaar extension in structured content")
	}

	text, ok := result.Content[0].(*sdkmcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	relayed, err := x402.ParseChallenge([]byte(text.Text))
	if err != nil {
		t.Fatalf("content is not a challenge: %v", err)
	}
	again, err := x402.EncodeChallenge(relayed)
	if err != nil {
		t.Fatalf("EncodeChallenge error: %v", err)
	}
	if again != header {
		t.Fatalf("relayed challenge differs from the header")
	}
}

func TestHTTPResponseToMCPResultChallengeBody(t *testing.T) {
	t.Parallel()

	outcome, err := newAuthority().Settle(context.Background(), listingRequest(t, "uuid-api"))
	if err != nil {
		t.Fatalf("Settle error: %v", err)
	}
	result := toolResult(t, &http.Response{
		StatusCode: outcome.Status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(string(outcome.Result.ResponseBody))),
	})

	structured, ok := result.StructuredContent.(map[string]any)
	if !result.IsError || !ok {
		t.Fatalf("expected structured challenge, got %#v", result)
	}
	if structured["error"] != "Payment required" || structured["x402Version"] != float64(2) {
		t.Fatalf("unexpected challenge %#v", structured)
	}
}

func TestHTTPResponseToMCPResultWithoutChallenge(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		status  int
		body    string
		isError bool
	}{
		"plain 402": {http.StatusPaymentRequired, `{"error":"upstream declined"}`, true},
		"not found": {http.StatusNotFound, `{"error":"missing"}`, true},
		"ok":        {http.StatusOK, `{"uuids":["a"]}`, false},
	}
	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			result := toolResult(t, &http.Response{
				StatusCode: tc.status,
				Header:     http.Header{},
				Body:       io.NopCloser(strings.NewReader(tc.body)),
			})
			if result.StructuredContent != nil || result.Meta != nil {
				t.Fatalf("expected a plain result, got %#v", result)
			}
			if result.IsError != tc.isError {
				t.Fatalf("expected IsError=%v", tc.isError)
			}
			var payload map[string]any
			if err := json.Unmarshal([]byte(result.Content[0].(*sdkmcp.TextContent).Text), &payload); err != nil {
				t.Fatalf("content is not JSON: %v", err)
			}
			if payload["status"] != float64(tc.status) || payload["body"] != tc.body {
				t.Fatalf("unexpected payload %#v", payload)
			}
		})
	}
}

func TestHTTPResponseToMCPResultReceiptMeta(t *testing.T) {
	t.Parallel()

	a := newAuthority()
	req := listingRequest(t, "joke-api")
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey error: %v", err)
	}
	proof, err := authority.PrepareProof(key, gateChallenge(t, "joke-api"), req.Method, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("PrepareProof error: %v", err)
	}
	req.PaymentData = proof
	outcome, err := a.Settle(context.Background(), req)
	if err != nil || outcome.Status != http.StatusOK {
		t.Fatalf("Settle: outcome=%#v err=%v", outcome, err)
	}
	receipt := outcome.Result.ReceiptHeaders[x402.HeaderPaymentResponse]
	payer := crypto.PubkeyToAddress(key.PublicKey).Hex()

	for _, name := range []string{x402.HeaderPaymentResponse, x402.HeaderXPaymentResponse} {
		name := name
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			header := http.Header{}
			header.Set(name, receipt)
			result := toolResult(t, &http.Response{
				StatusCode: http.StatusOK,
				Header:     header,
				Body:       io.NopCloser(strings.NewReader(`{"setup":"a","punchline":"b"}`)),
			})
			meta, ok := result.Meta[x402.MetaKeyPaymentResponse].(map[string]any)
			if !ok {
				t.Fatalf("expected receipt meta, got %#v", result.Meta)
			}
			if meta["success"] != true || meta["payer"] != payer || meta["network"] != testNetwork {
				t.Fatalf("unexpected receipt %#v", meta)
			}
		})
	}
}

func decodeProofHeader(t *testing.T, params map[string]any, name string) map[string]any {
	t.Helper()
	headers, ok := params["headers"].(map[string]any)
	if !ok {
		t.Fatalf("expected headers object, got %T", params["headers"])
	}
	value, _ := headers[name].(string)
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		t.Fatalf("decode %s: %v", name, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal %s: %v", name, err)
	}
	return payload
}

func TestInjectPaymentSignatureSignedProof(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey error: %v", err)
	}
	proof, err := authority.PrepareProof(key, gateChallenge(t, "weather-api"), http.MethodGet, time.Now())
	if err != nil {
		t.Fatalf("PrepareProof error: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(proof)
	if err != nil {
		t.Fatalf("decode proof: %v", err)
	}
	var payment map[string]any
	if err := json.Unmarshal(raw, &payment); err != nil {
		t.Fatalf("unmarshal proof: %v", err)
	}

	params, err := injectPaymentSignature(map[string]any{"query": map[string]any{"city": "London"}}, payment)
	if err != nil {
		t.Fatalf("injectPaymentSignature error: %v", err)
	}
	sent := decodeProofHeader(t, params, x402.HeaderPaymentSignature)
	accepted, _ := sent["accepted"].(map[string]any)
	if sent["x402Version"] != float64(2) || accepted["payTo"] != testPayTo || accepted["amount"] != "1000" {
		t.Fatalf("unexpected proof %#v", sent)
	}
	if params["query"] == nil {
		t.Fatalf("expected existing parameters to be kept")
	}

	encoded, err := injectPaymentSignature(nil, proof)
	if err != nil {
		t.Fatalf("injectPaymentSignature error: %v", err)
	}
	if encoded["headers"].(map[string]any)[x402.HeaderPaymentSignature] != proof {
		t.Fatalf("expected encoded proof to pass through")
	}
}

func TestInjectPaymentSignatureV1UsesXPayment(t *testing.T) {
	t.Parallel()

	params, err := injectPaymentSignature(nil, map[string]any{
		"x402Version": 1,
		"scheme":      "exact",
		"network":     "base-sepolia",
		"payload":     map[string]any{"signature": "0x01"},
	})
	if err != nil {
		t.Fatalf("injectPaymentSignature error: %v", err)
	}
	sent := decodeProofHeader(t, params, x402.HeaderXPayment)
	if sent["network"] != "base-sepolia" {
		t.Fatalf("unexpected v1 payload %#v", sent)
	}
}

func TestInjectPaymentSignatureRejects(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		params  map[string]any
		payment any
	}{
		"empty string":      {nil, ""},
		"wrong type":        {nil, 42},
		"missing payload":   {nil, map[string]any{"x402Version": 2, "accepted": map[string]any{}}},
		"missing version":   {nil, map[string]any{"payload": map[string]any{}}},
		"v2 missing option": {nil, map[string]any{"x402Version": 2, "payload": map[string]any{}}},
		"headers not object": {
			map[string]any{"headers": "X-A: b"},
			"cHJvb2Y=",
		},
	}
	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := injectPaymentSignature(tc.params, tc.payment); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestInjectPaymentSignatureKeepsCallerHeader(t *testing.T) {
	t.Parallel()

	params, err := injectPaymentSignature(map[string]any{
		"headers": map[string]any{x402.HeaderPaymentSignature: "caller"},
	}, "meta")
	if err != nil {
		t.Fatalf("injectPaymentSignature error: %v", err)
	}
	if params["headers"].(map[string]any)[x402.HeaderPaymentSignature] != "caller" {
		t.Fatalf("expected caller header to win")
	}
}
