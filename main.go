// Command x402-marketplace serves the pay-per-call API marketplace: paid
// example APIs gated by x402, free catalog endpoints and the MCP discovery server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/andrewreder/x402-marketplace/config"
	httpapi "github.com/andrewreder/x402-marketplace/http-api"
	"github.com/andrewreder/x402-marketplace/providers"
	"github.com/andrewreder/x402-marketplace/telemetry"
	"github.com/andrewreder/x402-marketplace/x402"
)

const serviceName = "x402-marketplace"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Server.GinMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("marketplace stopped", zap.Error(err))
	}
}

func newLogger(ginMode string) (*zap.Logger, error) {
	if ginMode == gin.DebugMode {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if cfg.Payment.Recipient == "" {
		return errors.New("PAYMENT_RECIPIENT (or SERVER_WALLET_ADDRESS) is required")
	}
	gin.SetMode(cfg.Server.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, serviceName, logger)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	settlement := x402.NewSettlementClient(x402.SettlementClientConfig{
		URL:       cfg.Settlement.URL,
		SecretKey: cfg.Settlement.SecretKey,
		AuthProvider: x402.AuthProviderFor(
			cfg.Settlement.CDPAPIKeyID,
			cfg.Settlement.CDPAPIKeySecret,
			cfg.Settlement.URL,
		),
		Timeout:    cfg.Settlement.Timeout,
		HTTPClient: telemetry.InstrumentClient(&http.Client{}),
		Logger:     logger.Named("settlement"),
	})
	if cfg.Settlement.SecretKey == "" {
		logger.Warn("no settlement secret key configured; the authority may reject every call")
	}

	gate := x402.NewGate(settlement, x402.GateConfig{
		PayTo:             cfg.Payment.Recipient,
		Network:           cfg.Payment.Network,
		ProofHeaders:      cfg.Payment.ProofHeaders,
		MaxTimeoutSeconds: cfg.Payment.MaxTimeoutSeconds,
		Logger:            logger.Named("x402"),
	})

	upstream := telemetry.InstrumentClient(&http.Client{Timeout: 10 * time.Second})
	deps := httpapi.Deps{
		Config:     cfg,
		Gate:       gate,
		HTTPClient: telemetry.InstrumentClient(&http.Client{Timeout: 30 * time.Second}),
		Logger:     logger,
	}
	if key := cfg.Providers.OpenWeatherAPIKey; key != "" {
		deps.Weather = providers.NewOpenWeather("", key, upstream)
	} else {
		logger.Warn("OPENWEATHER_API_KEY not set; /api/weather will answer 503")
	}
	if key := cfg.Providers.ExchangeRateAPIKey; key != "" {
		deps.Rates = providers.NewExchangeRate("", key, upstream)
	} else {
		logger.Warn("EXCHANGERATE_API_KEY not set; /api/exchange-rate will answer 503")
	}

	router, err := httpapi.NewRouter(deps)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           telemetry.HTTPMiddleware(serviceName)(router),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return serve(ctx, server, logger)
}

// serve runs server until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, server *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
