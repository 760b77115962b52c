package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "GIN_MODE", "PUBLIC_BASE_URL", "PAYMENT_RECIPIENT", "SERVER_WALLET_ADDRESS",
		"X402_NETWORK", "X402_PROOF_HEADERS", "X402_MAX_TIMEOUT_SEC", "SETTLEMENT_AUTHORITY_URL",
		"SETTLEMENT_SECRET_KEY", "THIRDWEB_SECRET_KEY", "SETTLEMENT_TIMEOUT_SEC",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Port != "8080" || cfg.Server.PublicBaseURL != "http://localhost:8080" {
		t.Fatalf("unexpected server config: %#v", cfg.Server)
	}
	if cfg.Payment.Network != DefaultNetwork || cfg.Payment.MaxTimeoutSeconds != 3600 {
		t.Fatalf("unexpected payment config: %#v", cfg.Payment)
	}
	if cfg.Payment.ProofHeaders != nil {
		t.Fatalf("expected default proof headers to be left to the gate")
	}
	if cfg.Settlement.URL != DefaultSettlementURL || cfg.Settlement.Timeout != 10*time.Second {
		t.Fatalf("unexpected settlement config: %#v", cfg.Settlement)
	}
}

func TestLoadRecipientFallbackAndChecksum(t *testing.T) {
	t.Setenv("PAYMENT_RECIPIENT", "")
	t.Setenv("SERVER_WALLET_ADDRESS", "0x209693bc6afc0c5328ba36faf03c514ef312287c")
	t.Setenv("THIRDWEB_SECRET_KEY", "tw-secret")
	t.Setenv("SETTLEMENT_SECRET_KEY", "")
	t.Setenv("X402_PROOF_HEADERS", " PAYMENT-SIGNATURE, ,X-PAYMENT ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Payment.Recipient != "0x209693Bc6afc0C5328bA36FaF03C514EF312287C" {
		t.Fatalf("expected checksummed recipient, got %q", cfg.Payment.Recipient)
	}
	if cfg.Settlement.SecretKey != "tw-secret" {
		t.Fatalf("expected thirdweb secret fallback, got %q", cfg.Settlement.SecretKey)
	}
	if len(cfg.Payment.ProofHeaders) != 2 || cfg.Payment.ProofHeaders[1] != "X-PAYMENT" {
		t.Fatalf("unexpected proof headers %#v", cfg.Payment.ProofHeaders)
	}
}

func TestLoadRejectsInvalidRecipient(t *testing.T) {
	t.Setenv("PAYMENT_RECIPIENT", "not-an-address")

	if _, err := Load(); !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("expected ErrInvalidRecipient, got %v", err)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("CONFIG_TEST_INT", "42")
	if got := getEnvInt("CONFIG_TEST_INT", 1); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	t.Setenv("CONFIG_TEST_INT", "bad")
	if got := getEnvInt("CONFIG_TEST_INT", 7); got != 7 {
		t.Fatalf("expected default 7, got %d", got)
	}
}
