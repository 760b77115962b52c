// Command devauthority runs a local Settlement Authority that verifies signed
// development proofs, so the marketplace can be exercised without a hosted
// facilitator. Point SETTLEMENT_AUTHORITY_URL at http://localhost:8403/settle.
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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/andrewreder/x402-marketplace/authority"
	"github.com/andrewreder/x402-marketplace/config"
	"github.com/andrewreder/x402-marketplace/telemetry"
)

const serviceName = "x402-devauthority"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	var logger *zap.Logger
	if cfg.Server.GinMode == gin.DebugMode {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("authority stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, serviceName, logger)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	var redisClient *redis.Client
	if cfg.Authority.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Authority.RedisAddr})
		defer redisClient.Close()
	}
	nonces := authority.NewNonceStore(ctx, redisClient)
	if _, ok := nonces.(*authority.RedisNonces); ok {
		logger.Info("using redis nonce store", zap.String("addr", cfg.Authority.RedisAddr))
	} else {
		logger.Warn("using in-memory nonce store; replays are only detected until restart")
	}

	var ledger authority.Ledger
	if cfg.Authority.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Authority.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect ledger database: %w", err)
		}
		defer pool.Close()
		pg := authority.NewPostgresLedger(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		ledger = pg
		logger.Info("using postgres settlement ledger")
	}

	a := authority.New(authority.Config{
		Asset:         cfg.Payment.Asset,
		AssetDecimals: cfg.Payment.AssetDecimals,
		Logger:        logger.Named("authority"),
	}, nonces, ledger)

	router := authority.NewRouter(a, authority.ServerConfig{
		SecretKey: cfg.Settlement.SecretKey,
		GinMode:   cfg.Server.GinMode,
		Logger:    logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Authority.Port,
		Handler:           telemetry.HTTPMiddleware(serviceName)(router),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

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
