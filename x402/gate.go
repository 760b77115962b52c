package x402

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

var processingFailedBody = json.RawMessage(`{"error":"Payment processing failed"}`)

// GateConfig is the process-wide, read-only configuration of a Gate.
type GateConfig struct {
	// PayTo is the recipient address every payment must be made to.
	PayTo   string
	Network Network
	// ProofHeaders lists request headers that may carry the proof, first
	// non-empty wins. Defaults to DefaultProofHeaders.
	ProofHeaders      []string
	MimeType          string
	MaxTimeoutSeconds int
	Logger            *zap.Logger
}

// Gate turns ordinary endpoints into pay-per-call endpoints. It holds no
// per-request state and is safe for concurrent use.
type Gate struct {
	settler           Settler
	payTo             string
	network           Network
	proofHeaders      []string
	mimeType          string
	maxTimeoutSeconds int
	logger            *zap.Logger
}

// Call is the transport-independent view of one paid invocation.
type Call struct {
	ResourceURL string
	Method      string
	Proof       string
}

// Result is the Gate's decision for one call.
type Result struct {
	Authorized bool
	Status     int
	// Headers are receipt headers when Authorized, challenge headers otherwise.
	Headers map[string]string
	// Body is the JSON denial body; empty when Authorized.
	Body json.RawMessage
	// Challenge is the decoded (and possibly discovery-augmented) challenge
	// of a denial, when one was available.
	Challenge *Challenge
}

// NewGate builds a Gate that settles through settler.
func NewGate(settler Settler, cfg GateConfig) *Gate {
	headers := cfg.ProofHeaders
	if len(headers) == 0 {
		headers = DefaultProofHeaders
	}
	mimeType := cfg.MimeType
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	maxTimeout := cfg.MaxTimeoutSeconds
	if maxTimeout <= 0 {
		maxTimeout = DefaultMaxTimeoutSeconds
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		settler:           settler,
		payTo:             cfg.PayTo,
		network:           cfg.Network,
		proofHeaders:      append([]string(nil), headers...),
		mimeType:          mimeType,
		maxTimeoutSeconds: maxTimeout,
		logger:            logger,
	}
}

// ExtractProof returns the first non-empty proof header value.
func (g *Gate) ExtractProof(h http.Header) string {
	for _, name := range g.proofHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// ResourceURL reconstructs the URL the caller actually used, honouring
// X-Forwarded-Proto and X-Forwarded-Host set by a reverse proxy.
func ResourceURL(r *http.Request) string {
	host := firstForwarded(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = r.Host
	}
	proto := firstForwarded(r.Header.Get("X-Forwarded-Proto"))
	if proto == "" {
		proto = "https"
	}
	target := r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return proto + "://" + host + target
}

func firstForwarded(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

// Authorize runs the payment exchange for an inbound HTTP request.
func (g *Gate) Authorize(r *http.Request, route Route) Result {
	return g.AuthorizeCall(r.Context(), Call{
		ResourceURL: ResourceURL(r),
		Method:      strings.ToUpper(r.Method),
		Proof:       g.ExtractProof(r.Header),
	}, route)
}

// AuthorizeCall runs the payment exchange for call. Settlement transport
// failures are the only path to a 500; every payment rejection is returned
// with the Authority's status and challenge.
func (g *Gate) AuthorizeCall(ctx context.Context, call Call, route Route) Result {
	logger := g.logger.With(
		zap.String("resource", call.ResourceURL),
		zap.String("method", call.Method),
	)
	logger.Debug("processing x402 payment", zap.Bool("proof_present", call.Proof != ""))

	verdict, err := g.settler.Settle(ctx, SettleRequest{
		ResourceURL: call.ResourceURL,
		Method:      call.Method,
		PaymentData: call.Proof,
		PayTo:       g.payTo,
		Network:     g.network,
		Price:       route.Price,
		RouteConfig: RouteConfig{
			Description:       route.Description,
			MimeType:          g.mimeType,
			MaxTimeoutSeconds: g.maxTimeoutSeconds,
		},
	})
	if err != nil {
		logger.Error("x402 payment error", zap.Error(err))
		return Result{
			Status:  http.StatusInternalServerError,
			Headers: map[string]string{},
			Body:    processingFailedBody,
		}
	}

	if verdict.Authorized() {
		logger.Info("x402 payment settled")
		return Result{
			Authorized: true,
			Status:     http.StatusOK,
			Headers:    verdict.ReceiptHeaders,
		}
	}
	return g.deny(logger, call, route, verdict)
}

func (g *Gate) deny(logger *zap.Logger, call Call, route Route, verdict *Verdict) Result {
	headers := make(map[string]string, len(verdict.Headers)+1)
	for k, v := range verdict.Headers {
		headers[k] = v
	}
	res := Result{Status: verdict.Status, Headers: headers, Body: verdict.Body}

	headerKey, hasHeader := lookupHeader(headers, HeaderPaymentRequired)
	if !hasHeader {
		headerKey = HeaderPaymentRequired
	}

	var challenge *Challenge
	reencode := false
	if hasHeader {
		decoded, err := DecodeChallenge(headers[headerKey])
		if err != nil {
			logger.Warn("skipping discovery merge on malformed challenge", zap.Error(err))
		} else {
			challenge = decoded
		}
	} else if len(verdict.Body) > 0 {
		if decoded, err := ParseChallenge(verdict.Body); err == nil && decoded.Accepts != nil {
			challenge = decoded
			reencode = true
		}
	}

	if challenge != nil && route.Discovery != nil {
		merged, err := MergeDiscovery(challenge, route.Discovery, call.Method)
		if err != nil {
			logger.Warn("failed to inject bazaar extension", zap.Error(err))
		} else {
			challenge = merged
			reencode = true
			if body, err := json.Marshal(challenge); err == nil {
				res.Body = body
			}
		}
	}

	if challenge != nil {
		if reencode {
			encoded, err := EncodeChallenge(challenge)
			if err != nil {
				logger.Error("failed to encode payment challenge", zap.Error(err))
			} else {
				headers[headerKey] = encoded
			}
		}
		if len(res.Body) == 0 {
			if body, err := json.Marshal(challenge); err == nil {
				res.Body = body
			}
		}
		if call.Proof == "" {
			res.Status = http.StatusPaymentRequired
		}
		res.Challenge = challenge
	}

	if len(res.Body) == 0 {
		res.Body = json.RawMessage(`{"error":"Payment required"}`)
	}
	if res.Status == 0 {
		res.Status = http.StatusPaymentRequired
	}

	logger.Info("x402 payment required",
		zap.Int("status", res.Status),
		zap.Bool("proof_present", call.Proof != ""),
		zap.Bool("discovery", route.Discovery != nil),
	)
	return res
}
