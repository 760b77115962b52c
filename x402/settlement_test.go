package x402

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSettlementClientSuccess(t *testing.T) {
	t.Parallel()

	var got SettleRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get(SecretKeyHeader) != "sk_test" {
			t.Errorf("expected secret key header, got %q", r.Header.Get(SecretKeyHeader))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"receiptHeaders":{"PAYMENT-RESPONSE":"cmVjZWlwdA=="},"responseHeaders":{"X-Extra":"1"}}`))
	}))
	defer server.Close()

	client := NewSettlementClient(SettlementClientConfig{URL: server.URL, SecretKey: "sk_test"})
	verdict, err := client.Settle(context.Background(), SettleRequest{
		ResourceURL: "https://api.example.com/api/joke",
		Method:      "GET",
		PaymentData: "proof",
		PayTo:       "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Network:     "eip155:84532",
		Price:       "0.0005",
		RouteConfig: RouteConfig{Description: "joke", MimeType: DefaultMimeType, MaxTimeoutSeconds: 3600},
	})
	if err != nil {
		t.Fatalf("Settle error: %v", err)
	}
	if !verdict.Authorized() {
		t.Fatalf("expected authorized verdict, got status %d", verdict.Status)
	}
	if verdict.ReceiptHeaders[HeaderPaymentResponse] != "cmVjZWlwdA==" {
		t.Fatalf("expected receipt header, got %#v", verdict.ReceiptHeaders)
	}
	if verdict.ReceiptHeaders["X-Extra"] != "1" {
		t.Fatalf("expected response headers to be kept, got %#v", verdict.ReceiptHeaders)
	}
	if got.ResourceURL != "https://api.example.com/api/joke" || got.PaymentData != "proof" || got.Price != "0.0005" {
		t.Fatalf("unexpected request forwarded: %#v", got)
	}
	if got.RouteConfig.MaxTimeoutSeconds != 3600 {
		t.Fatalf("expected routeConfig to be forwarded, got %#v", got.RouteConfig)
	}
}

func TestSettlementClientOmitsEmptyProof(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if _, ok := raw["paymentData"]; ok {
			t.Errorf("expected paymentData to be omitted")
		}
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"responseBody":{"x402Version":2,"accepts":[]}}`))
	}))
	defer server.Close()

	client := NewSettlementClient(SettlementClientConfig{URL: server.URL})
	verdict, err := client.Settle(context.Background(), SettleRequest{ResourceURL: "https://x/y", Method: "GET"})
	if err != nil {
		t.Fatalf("Settle error: %v", err)
	}
	if verdict.Authorized() || verdict.Status != http.StatusPaymentRequired {
		t.Fatalf("expected 402 denial, got %d", verdict.Status)
	}
	if string(verdict.Body) != `{"x402Version":2,"accepts":[]}` {
		t.Fatalf("unexpected body: %s", verdict.Body)
	}
}

func TestSettlementClientDenialPassesThrough(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderPaymentRequired, "from-http-header")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"responseHeaders":{"X-Reason":"amount"},"responseBody":{"error":"insufficient amount"}}`))
	}))
	defer server.Close()

	client := NewSettlementClient(SettlementClientConfig{URL: server.URL})
	verdict, err := client.Settle(context.Background(), SettleRequest{PaymentData: "proof"})
	if err != nil {
		t.Fatalf("Settle error: %v", err)
	}
	if verdict.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", verdict.Status)
	}
	if verdict.Headers["X-Reason"] != "amount" {
		t.Fatalf("expected response headers, got %#v", verdict.Headers)
	}
	if verdict.Headers[HeaderPaymentRequired] != "from-http-header" {
		t.Fatalf("expected challenge from HTTP header, got %#v", verdict.Headers)
	}
	if string(verdict.Body) != `{"error":"insufficient amount"}` {
		t.Fatalf("unexpected body: %s", verdict.Body)
	}
}

func TestSettlementClientTransportErrors(t *testing.T) {
	t.Parallel()

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer garbage.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	cases := map[string]SettlementClientConfig{
		"unparseable": {URL: garbage.URL},
		"timeout":     {URL: slow.URL, Timeout: 50 * time.Millisecond},
		"refused":     {URL: closedURL},
	}
	for name, cfg := range cases {
		cfg := cfg
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := NewSettlementClient(cfg).Settle(context.Background(), SettleRequest{})
			if !errors.Is(err, ErrSettlementTransport) {
				t.Fatalf("expected ErrSettlementTransport, got %v", err)
			}
		})
	}
}

func TestAuthProviderForRequiresBothKeyParts(t *testing.T) {
	t.Parallel()

	if AuthProviderFor("", "secret", "https://x/settle") != nil {
		t.Fatalf("expected nil provider without key id")
	}
	if AuthProviderFor("id", "", "https://x/settle") != nil {
		t.Fatalf("expected nil provider without key secret")
	}
}

func TestSettlementClientHeaderOnlyDenial(t *testing.T) {
	t.Parallel()

	bodies := map[string]string{
		"empty":      "",
		"whitespace": " \n",
		"text":       "Payment Required",
	}
	for name, body := range bodies {
		body := body
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set(HeaderPaymentRequired, "challenge")
				w.WriteHeader(http.StatusPaymentRequired)
				_, _ = w.Write([]byte(body))
			}))
			defer server.Close()

			verdict, err := NewSettlementClient(SettlementClientConfig{URL: server.URL}).
				Settle(context.Background(), SettleRequest{})
			if err != nil {
				t.Fatalf("Settle error: %v", err)
			}
			if verdict.Status != http.StatusPaymentRequired {
				t.Fatalf("expected 402, got %d", verdict.Status)
			}
			if verdict.Headers[HeaderPaymentRequired] != "challenge" {
				t.Fatalf("expected challenge header, got %#v", verdict.Headers)
			}
			if len(verdict.Body) != 0 {
				t.Fatalf("expected no body, got %s", verdict.Body)
			}
		})
	}
}

func TestSettlementClientEmptyDenialWithoutChallenge(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	verdict, err := NewSettlementClient(SettlementClientConfig{URL: server.URL}).
		Settle(context.Background(), SettleRequest{PaymentData: "proof"})
	if err != nil {
		t.Fatalf("Settle error: %v", err)
	}
	if verdict.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", verdict.Status)
	}
}

func TestSettlementClientEmptySuccessIsTransportError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderPaymentRequired, "challenge")
	}))
	defer server.Close()

	_, err := NewSettlementClient(SettlementClientConfig{URL: server.URL}).
		Settle(context.Background(), SettleRequest{PaymentData: "proof"})
	if !errors.Is(err, ErrSettlementTransport) {
		t.Fatalf("expected ErrSettlementTransport, got %v", err)
	}
}

func TestNewSettlementClientLeavesInjectedClientAlone(t *testing.T) {
	t.Parallel()

	shared := &http.Client{}
	client := NewSettlementClient(SettlementClientConfig{
		URL:        "http://localhost/settle",
		Timeout:    3 * time.Second,
		HTTPClient: shared,
	})
	if shared.Timeout != 0 {
		t.Fatalf("injected client timeout changed to %s", shared.Timeout)
	}
	if client.httpClient == shared {
		t.Fatalf("expected a copy of the injected client")
	}
	if client.httpClient.Timeout != 3*time.Second {
		t.Fatalf("expected 3s timeout on the copy, got %s", client.httpClient.Timeout)
	}

	preset := NewSettlementClient(SettlementClientConfig{HTTPClient: &http.Client{Timeout: time.Second}})
	if preset.httpClient.Timeout != time.Second {
		t.Fatalf("expected injected timeout to win, got %s", preset.httpClient.Timeout)
	}
}
