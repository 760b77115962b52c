// Package authority is a development Settlement Authority. It issues x402 v2
// challenges, verifies signed dev proofs, rejects replays and records every
// settlement it accepts.
package authority

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andrewreder/x402-marketplace/x402"
)

// ErrInvalidRequest marks settle requests the authority cannot price.
var ErrInvalidRequest = errors.New("invalid settle request")

// Config configures an Authority.
type Config struct {
	Asset         string
	AssetDecimals int
	// AssetName and AssetVersion are advertised in the challenge's extra field.
	AssetName    string
	AssetVersion string
	Logger       *zap.Logger
}

// Authority verifies and settles dev payment proofs.
type Authority struct {
	asset         string
	assetDecimals int
	extra         map[string]interface{}
	nonces        NonceStore
	ledger        Ledger
	logger        *zap.Logger
	now           func() time.Time
}

// New builds an Authority. Nil stores fall back to in-memory ones.
func New(cfg Config, nonces NonceStore, ledger Ledger) *Authority {
	if nonces == nil {
		nonces = NewMemoryNonces()
	}
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.AssetName
	if name == "" {
		name = "USDC"
	}
	version := cfg.AssetVersion
	if version == "" {
		version = "2"
	}
	return &Authority{
		asset:         cfg.Asset,
		assetDecimals: cfg.AssetDecimals,
		extra:         map[string]interface{}{"name": name, "version": version},
		nonces:        nonces,
		ledger:        ledger,
		logger:        logger,
		now:           time.Now,
	}
}

// Ledger returns the settlement ledger.
func (a *Authority) Ledger() Ledger { return a.ledger }

// Outcome is the HTTP response the authority gives for one settle request.
type Outcome struct {
	Status int
	Result x402.SettleResult
}

// Challenge builds the PAYMENT-REQUIRED payload for req.
func (a *Authority) Challenge(req x402.SettleRequest) (*x402.PaymentRequired, error) {
	if !common.IsHexAddress(req.PayTo) {
		return nil, fmt.Errorf("%w: payTo %q is not an address", ErrInvalidRequest, req.PayTo)
	}
	if req.Network == "" || req.ResourceURL == "" {
		return nil, fmt.Errorf("%w: network and resourceUrl are required", ErrInvalidRequest)
	}
	amount, err := x402.AtomicAmount(req.Price, a.assetDecimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	timeout := req.RouteConfig.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = x402.DefaultMaxTimeoutSeconds
	}
	mimeType := req.RouteConfig.MimeType
	if mimeType == "" {
		mimeType = x402.DefaultMimeType
	}
	return &x402.PaymentRequired{
		X402Version: 2,
		Resource: &x402.ResourceInfo{
			URL:         req.ResourceURL,
			Description: req.RouteConfig.Description,
			MimeType:    mimeType,
		},
		Accepts: []x402.PaymentRequirements{
			{
				Scheme:            SchemeExact,
				Network:           string(req.Network),
				Amount:            amount,
				Asset:             a.asset,
				PayTo:             common.HexToAddress(req.PayTo).Hex(),
				MaxTimeoutSeconds: timeout,
				Extra:             a.extra,
			},
		},
	}, nil
}

// Settle answers one settle request. A missing or rejected proof is a 402
// outcome carrying the challenge; errors are reserved for requests that
// cannot be priced (ErrInvalidRequest) and storage failures.
func (a *Authority) Settle(ctx context.Context, req x402.SettleRequest) (*Outcome, error) {
	challenge, err := a.Challenge(req)
	if err != nil {
		return nil, err
	}
	logger := a.logger.With(zap.String("resource", req.ResourceURL), zap.String("method", req.Method))

	if strings.TrimSpace(req.PaymentData) == "" {
		return a.paymentRequired(challenge, "Payment required")
	}

	settlement, err := a.verify(req, challenge)
	if err != nil {
		var rejection *Rejection
		if errors.As(err, &rejection) {
			logger.Info("payment rejected", zap.String("reason", rejection.Reason))
			return a.paymentRequired(challenge, rejection.Reason)
		}
		return nil, err
	}

	ttl := time.Unix(settlement.validBefore, 0).Sub(a.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	claimed, err := a.nonces.Claim(ctx, settlement.Payer, settlement.Nonce, ttl)
	if err != nil {
		return nil, fmt.Errorf("claim nonce: %w", err)
	}
	if !claimed {
		logger.Info("payment rejected", zap.String("reason", ReasonReplayed))
		return a.paymentRequired(challenge, ReasonReplayed)
	}

	if err := a.ledger.Record(ctx, settlement.Settlement); err != nil {
		if errors.Is(err, ErrDuplicateSettlement) {
			return a.paymentRequired(challenge, ReasonReplayed)
		}
		// An unrecorded settlement leaves its proof spendable.
		if relErr := a.nonces.Release(context.WithoutCancel(ctx), settlement.Payer, settlement.Nonce); relErr != nil {
			logger.Error("failed to release nonce", zap.String("payer", settlement.Payer), zap.Error(relErr))
		}
		return nil, fmt.Errorf("record settlement: %w", err)
	}

	receipt, err := json.Marshal(x402.SettleResponse{
		Success:     true,
		Payer:       settlement.Payer,
		Transaction: settlement.Transaction,
		Network:     req.Network,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal receipt: %w", err)
	}
	logger.Info("payment settled",
		zap.String("payer", settlement.Payer),
		zap.String("amount", settlement.Amount),
		zap.String("transaction", settlement.Transaction),
	)
	return &Outcome{
		Status: http.StatusOK,
		Result: x402.SettleResult{
			ReceiptHeaders: map[string]string{
				x402.HeaderPaymentResponse: base64.StdEncoding.EncodeToString(receipt),
			},
		},
	}, nil
}

func (a *Authority) paymentRequired(challenge *x402.PaymentRequired, reason string) (*Outcome, error) {
	challenge.Error = reason
	body, err := json.Marshal(challenge)
	if err != nil {
		return nil, fmt.Errorf("marshal challenge: %w", err)
	}
	return &Outcome{
		Status: http.StatusPaymentRequired,
		Result: x402.SettleResult{
			ResponseHeaders: map[string]string{
				x402.HeaderPaymentRequired: base64.StdEncoding.EncodeToString(body),
			},
			ResponseBody: body,
		},
	}, nil
}

type verifiedSettlement struct {
	Settlement
	validBefore int64
}

func (a *Authority) verify(req x402.SettleRequest, challenge *x402.PaymentRequired) (*verifiedSettlement, error) {
	proof, err := DecodeProof(req.PaymentData)
	if err != nil {
		return nil, reject(ReasonMalformedProof)
	}
	if proof.X402Version != 2 {
		return nil, reject(ReasonUnsupportedVersion)
	}
	want := challenge.Accepts[0]
	auth := proof.Authorization

	if proof.Accepted.Scheme != SchemeExact {
		return nil, reject(ReasonUnsupportedScheme)
	}
	if auth.Network != want.Network || string(proof.Accepted.Network) != want.Network {
		return nil, reject(ReasonWrongNetwork)
	}
	if !common.IsHexAddress(auth.To) || common.HexToAddress(auth.To).Hex() != want.PayTo {
		return nil, reject(ReasonWrongRecipient)
	}
	if auth.Value != want.Amount {
		return nil, reject(ReasonWrongAmount)
	}
	if !strings.EqualFold(auth.Asset, want.Asset) {
		return nil, reject(ReasonWrongAsset)
	}
	if auth.Resource != req.ResourceURL || !strings.EqualFold(auth.Method, req.Method) {
		return nil, reject(ReasonWrongResource)
	}

	signer, err := proof.Signer()
	if err != nil || !common.IsHexAddress(auth.From) || signer != common.HexToAddress(auth.From) {
		return nil, reject(ReasonBadSignature)
	}

	now := a.now().Unix()
	if now < auth.ValidAfter {
		return nil, reject(ReasonNotYetValid)
	}
	if now >= auth.ValidBefore {
		return nil, reject(ReasonExpired)
	}
	if auth.ValidBefore-auth.ValidAfter > int64(want.MaxTimeoutSeconds) {
		return nil, reject(ReasonWindowTooLong)
	}
	if auth.Nonce == "" {
		return nil, reject(ReasonMalformedProof)
	}

	return &verifiedSettlement{
		Settlement: Settlement{
			Transaction: "0x" + strings.ReplaceAll(uuid.NewString(), "-", ""),
			Payer:       signer.Hex(),
			PayTo:       want.PayTo,
			Network:     want.Network,
			Asset:       want.Asset,
			Amount:      want.Amount,
			Resource:    req.ResourceURL,
			Method:      strings.ToUpper(req.Method),
			Nonce:       auth.Nonce,
			SettledAt:   a.now().UTC(),
		},
		validBefore: auth.ValidBefore,
	}, nil
}
