package x402

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	cdpjwt "github.com/coinbase/cdp-sdk/go/auth"
	x402http "github.com/coinbase/x402/go/http"
)

// HeaderCorrelationContext identifies the calling SDK to CDP-hosted authorities.
const HeaderCorrelationContext = "Correlation-Context"

// correlationContext is sent on every settle call. Keys are listed in sorted order.
var correlationContext = "sdk_language=go" +
	",sdk_version=" + url.QueryEscape("1.29.0") +
	",source=x402" +
	",source_version=" + url.QueryEscape("0.7.3")

// CDPAuthProvider signs Settlement Authority calls with CDP API key JWTs.
// A JWT is scoped to one method, host and path, so both come from the
// configured settle URL. Only settle headers are produced; the gate never
// calls verify or supported.
type CDPAuthProvider struct {
	keyID     string
	keySecret string
	host      string
	path      string
}

// AuthProviderFor returns a CDP auth provider when both key parts are set and
// settleURL names a host, nil otherwise.
func AuthProviderFor(apiKeyID, apiKeySecret, settleURL string) x402http.AuthProvider {
	if apiKeyID == "" || apiKeySecret == "" {
		return nil
	}
	parsed, err := url.Parse(settleURL)
	if err != nil || parsed.Host == "" {
		return nil
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	return &CDPAuthProvider{keyID: apiKeyID, keySecret: apiKeySecret, host: parsed.Host, path: path}
}

// GetAuthHeaders implements the x402 HTTP AuthProvider interface.
func (p *CDPAuthProvider) GetAuthHeaders(ctx context.Context) (x402http.AuthHeaders, error) {
	jwt, err := cdpjwt.GenerateJWT(cdpjwt.JwtOptions{
		KeyID:         p.keyID,
		KeySecret:     p.keySecret,
		RequestMethod: http.MethodPost,
		RequestHost:   p.host,
		RequestPath:   p.path,
	})
	if err != nil {
		return x402http.AuthHeaders{}, fmt.Errorf("sign settle request: %w", err)
	}
	return x402http.AuthHeaders{
		Settle: map[string]string{
			HeaderCorrelationContext: correlationContext,
			"Authorization":          "Bearer " + jwt,
		},
	}, nil
}
