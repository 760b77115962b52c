package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	x402http "github.com/coinbase/x402/go/http"
	"go.uber.org/zap"
)

// ErrSettlementTransport marks failures to obtain a verdict from the
// Settlement Authority: DNS, connect, timeout or an unparseable response.
var ErrSettlementTransport = errors.New("settlement authority unavailable")

const (
	// DefaultSettleTimeout bounds a single call to the Settlement Authority.
	DefaultSettleTimeout = 10 * time.Second

	// SecretKeyHeader authenticates the gate to the Settlement Authority.
	SecretKeyHeader = "x-secret-key"

	maxSettleResponseBytes = 1 << 20 // 1MB
)

// Settler obtains a settlement verdict for one call.
type Settler interface {
	Settle(ctx context.Context, req SettleRequest) (*Verdict, error)
}

// SettleRequest binds a proof to exactly one resource, method, price,
// recipient and network.
type SettleRequest struct {
	ResourceURL string      `json:"resourceUrl"`
	Method      string      `json:"method"`
	PaymentData string      `json:"paymentData,omitempty"`
	PayTo       string      `json:"payTo"`
	Network     Network     `json:"network"`
	Price       string      `json:"price"`
	RouteConfig RouteConfig `json:"routeConfig"`
}

// SettleResult is the Settlement Authority's response body.
type SettleResult struct {
	ReceiptHeaders  map[string]string `json:"receiptHeaders,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	ResponseBody    json.RawMessage   `json:"responseBody,omitempty"`
}

// Verdict is the outcome of one settlement attempt. It is never reused.
type Verdict struct {
	Status int
	// ReceiptHeaders are set on success and copied onto the paid response.
	ReceiptHeaders map[string]string
	// Headers and Body carry the Authority's denial verbatim.
	Headers map[string]string
	Body    json.RawMessage
}

// Authorized reports whether the Authority accepted and settled the payment.
func (v *Verdict) Authorized() bool {
	return v != nil && v.Status == http.StatusOK
}

// SettlementClientConfig configures a SettlementClient.
type SettlementClientConfig struct {
	// URL is the Authority's settle endpoint.
	URL       string
	SecretKey string
	// AuthProvider, when set, contributes its Settle headers to every call.
	AuthProvider x402http.AuthProvider
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// SettlementClient talks to the external Settlement Authority over HTTP.
// It is safe for concurrent use.
type SettlementClient struct {
	url          string
	secretKey    string
	authProvider x402http.AuthProvider
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewSettlementClient builds a client. A zero Timeout uses DefaultSettleTimeout.
func NewSettlementClient(cfg SettlementClientConfig) *SettlementClient {
	client := &http.Client{}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		client = &copied
	}
	if client.Timeout == 0 {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultSettleTimeout
		}
		client.Timeout = timeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettlementClient{
		url:          cfg.URL,
		secretKey:    cfg.SecretKey,
		authProvider: cfg.AuthProvider,
		httpClient:   client,
		logger:       logger,
	}
}

// Settle posts req to the Authority. A 200 response is a success verdict,
// any other status a denial. Transport problems are returned as errors
// wrapping ErrSettlementTransport, never as denials.
func (c *SettlementClient) Settle(ctx context.Context, req SettleRequest) (*Verdict, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal settle request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrSettlementTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.secretKey != "" {
		httpReq.Header.Set(SecretKeyHeader, c.secretKey)
	}
	if c.authProvider != nil {
		headers, err := c.authProvider.GetAuthHeaders(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: auth headers: %v", ErrSettlementTransport, err)
		}
		for k, v := range headers.Settle {
			httpReq.Header.Set(k, v)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSettlementTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSettleResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrSettlementTransport, err)
	}

	var result SettleResult
	if err := json.Unmarshal(body, &result); err != nil && !headerOnlyDenial(resp, body) {
		return nil, fmt.Errorf("%w: decode response (status %d): %v", ErrSettlementTransport, resp.StatusCode, err)
	}

	c.logger.Debug("settlement verdict",
		zap.String("resource", req.ResourceURL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode == http.StatusOK {
		receipts := make(map[string]string, len(result.ReceiptHeaders)+len(result.ResponseHeaders))
		for k, v := range result.ResponseHeaders {
			receipts[k] = v
		}
		for k, v := range result.ReceiptHeaders {
			receipts[k] = v
		}
		return &Verdict{Status: http.StatusOK, ReceiptHeaders: receipts}, nil
	}

	headers := make(map[string]string, len(result.ResponseHeaders)+1)
	for k, v := range result.ResponseHeaders {
		headers[k] = v
	}
	if v := resp.Header.Get(HeaderPaymentRequired); v != "" {
		if _, ok := lookupHeader(headers, HeaderPaymentRequired); !ok {
			headers[HeaderPaymentRequired] = v
		}
	}
	return &Verdict{
		Status:  resp.StatusCode,
		Headers: headers,
		Body:    result.ResponseBody,
	}, nil
}

// headerOnlyDenial reports whether a non-200 response carries its verdict
// outside the JSON envelope: an empty body or a PAYMENT-REQUIRED header.
func headerOnlyDenial(resp *http.Response, body []byte) bool {
	if resp.StatusCode == http.StatusOK {
		return false
	}
	return len(bytes.TrimSpace(body)) == 0 || resp.Header.Get(HeaderPaymentRequired) != ""
}

// lookupHeader finds name in headers case-insensitively and returns the
// stored key.
func lookupHeader(headers map[string]string, name string) (string, bool) {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return k, true
		}
	}
	return "", false
}
