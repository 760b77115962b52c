package authority

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"

	"github.com/andrewreder/x402-marketplace/x402"
)

const testSecret = "sk_test"

func newAuthorityServer(t *testing.T) (*Authority, *httptest.Server) {
	t.Helper()
	a := New(Config{Asset: testAsset, AssetDecimals: 6}, nil, nil)
	srv := httptest.NewServer(NewRouter(a, ServerConfig{SecretKey: testSecret}))
	t.Cleanup(srv.Close)
	return a, srv
}

// newPaidAPI serves GET /api/joke behind a Gate that settles against authorityURL.
func newPaidAPI(t *testing.T, authorityURL, secret string) *httptest.Server {
	t.Helper()
	client := x402.NewSettlementClient(x402.SettlementClientConfig{URL: authorityURL + "/settle", SecretKey: secret})
	gate := x402.NewGate(client, x402.GateConfig{PayTo: testPayTo, Network: "eip155:84532"})

	router := gin.New()
	router.GET("/api/joke", gate.Protect(x402.Route{Price: "0.0005", Description: "Random joke"}), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"joke": "Why do programmers prefer dark mode? Because light attracts bugs!"})
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("NewRequest error: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPaidCallThroughGate(t *testing.T) {
	t.Parallel()

	a, authority := newAuthorityServer(t)
	api := newPaidAPI(t, authority.URL, testSecret)
	key := newKey(t)

	resp := get(t, api.URL+"/api/joke", nil)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", resp.StatusCode)
	}
	challenge, err := x402.DecodeChallenge(resp.Header.Get(x402.HeaderPaymentRequired))
	if err != nil {
		t.Fatalf("DecodeChallenge error: %v", err)
	}

	proof, err := PrepareProof(key, challenge, http.MethodGet, time.Now())
	if err != nil {
		t.Fatalf("PrepareProof error: %v", err)
	}
	paid := get(t, api.URL+"/api/joke", map[string]string{x402.HeaderPaymentSignature: proof})
	if paid.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", paid.StatusCode)
	}
	raw, err := base64.StdEncoding.DecodeString(paid.Header.Get(x402.HeaderPaymentResponse))
	if err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	var receipt x402.SettleResponse
	if err := json.Unmarshal(raw, &receipt); err != nil {
		t.Fatalf("unmarshal receipt: %v", err)
	}
	if !receipt.Success || receipt.Payer != crypto.PubkeyToAddress(key.PublicKey).Hex() {
		t.Fatalf("unexpected receipt %#v", receipt)
	}

	replay := get(t, api.URL+"/api/joke", map[string]string{x402.HeaderXPayment: proof})
	if replay.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected replay to be refused with 402, got %d", replay.StatusCode)
	}
	var body x402.PaymentRequired
	if err := json.NewDecoder(replay.Body).Decode(&body); err != nil {
		t.Fatalf("decode replay body: %v", err)
	}
	if body.Error != ReasonReplayed {
		t.Fatalf("expected %q, got %q", ReasonReplayed, body.Error)
	}

	list := get(t, authority.URL+"/settlements", map[string]string{x402.SecretKeyHeader: testSecret})
	var listed struct {
		Settlements []Settlement `json:"settlements"`
		Total       int          `json:"total"`
	}
	if err := json.NewDecoder(list.Body).Decode(&listed); err != nil {
		t.Fatalf("decode settlements: %v", err)
	}
	if listed.Total != 1 || listed.Settlements[0].Transaction != receipt.Transaction {
		t.Fatalf("unexpected settlements %#v", listed)
	}
	if stored, _ := a.Ledger().List(t.Context(), 0); len(stored) != 1 {
		t.Fatalf("expected one stored settlement, got %d", len(stored))
	}
}

func TestWrongSecretIsPassedThrough(t *testing.T) {
	t.Parallel()

	_, authority := newAuthorityServer(t)
	api := newPaidAPI(t, authority.URL, "wrong")

	resp := get(t, api.URL+"/api/joke", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 passthrough, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "invalid secret key" {
		t.Fatalf("unexpected body %#v", body)
	}
}

func TestSettleEndpointValidation(t *testing.T) {
	t.Parallel()

	_, authority := newAuthorityServer(t)
	cases := []struct {
		body   string
		status int
	}{
		{`not json`, http.StatusBadRequest},
		{`{"resourceUrl":"https://x/api","method":"GET","payTo":"nope","network":"eip155:84532","price":"0.001"}`, http.StatusBadRequest},
		{`{"resourceUrl":"https://x/api","method":"GET","payTo":"` + testPayTo + `","network":"eip155:84532","price":"0.001"}`, http.StatusPaymentRequired},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest(http.MethodPost, authority.URL+"/settle", strings.NewReader(tc.body))
		req.Header.Set(x402.SecretKeyHeader, testSecret)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST /settle: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Fatalf("body %s: expected %d, got %d", tc.body, tc.status, resp.StatusCode)
		}
		if tc.status == http.StatusPaymentRequired && resp.Header.Get(x402.HeaderPaymentRequired) == "" {
			t.Fatalf("expected PAYMENT-REQUIRED header on 402")
		}
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	_, authority := newAuthorityServer(t)
	if resp := get(t, authority.URL+"/healthz", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
