// Package config handles loading and managing application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	x402sdk "github.com/coinbase/x402/go"
	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidRecipient is returned when the configured payment recipient is
// not an EVM address.
var ErrInvalidRecipient = errors.New("invalid payment recipient")

const (
	// DefaultNetwork is Base Sepolia in CAIP-2 form.
	DefaultNetwork = "eip155:84532"
	// DefaultAsset is USDC on Base Sepolia.
	DefaultAsset = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	// DefaultSettlementURL is the thirdweb x402 settle endpoint.
	DefaultSettlementURL = "https://api.thirdweb.com/v1/payments/x402/settle"
)

// Config holds all configuration for the application. It is read once at
// startup and never mutated.
type Config struct {
	Server     ServerConfig
	Payment    PaymentConfig
	Settlement SettlementConfig
	Providers  ProvidersConfig
	Authority  AuthorityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port    string
	GinMode string // "debug", "release", or "test"
	// PublicBaseURL is used for discovery listings and MCP proxying.
	PublicBaseURL string
}

// PaymentConfig describes what every paid call must pay and to whom.
type PaymentConfig struct {
	Recipient         string
	Network           x402sdk.Network
	Asset             string
	AssetDecimals     int
	ProofHeaders      []string
	MaxTimeoutSeconds int
}

// SettlementConfig locates and authenticates the Settlement Authority.
type SettlementConfig struct {
	URL             string
	SecretKey       string
	CDPAPIKeyID     string
	CDPAPIKeySecret string
	Timeout         time.Duration
}

// ProvidersConfig holds upstream API credentials.
type ProvidersConfig struct {
	OpenWeatherAPIKey  string
	ExchangeRateAPIKey string
}

// AuthorityConfig configures the local development Settlement Authority.
type AuthorityConfig struct {
	Port        string
	RedisAddr   string
	DatabaseURL string
}

// Load reads configuration from environment variables. The only error it
// returns is a malformed recipient address; a missing one is left for the
// caller to decide on.
func Load() (*Config, error) {
	recipient := getEnv("PAYMENT_RECIPIENT", getEnv("SERVER_WALLET_ADDRESS", ""))
	if recipient != "" {
		normalized, err := NormalizeAddress(recipient)
		if err != nil {
			return nil, err
		}
		recipient = normalized
	}

	port := getEnv("PORT", "8080")
	return &Config{
		Server: ServerConfig{
			Port:          port,
			GinMode:       getEnv("GIN_MODE", "debug"),
			PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
		},
		Payment: PaymentConfig{
			Recipient:         recipient,
			Network:           x402sdk.Network(getEnv("X402_NETWORK", DefaultNetwork)),
			Asset:             getEnv("X402_ASSET", DefaultAsset),
			AssetDecimals:     getEnvInt("X402_ASSET_DECIMALS", 6),
			ProofHeaders:      getEnvList("X402_PROOF_HEADERS"),
			MaxTimeoutSeconds: getEnvInt("X402_MAX_TIMEOUT_SEC", 3600),
		},
		Settlement: SettlementConfig{
			URL:             getEnv("SETTLEMENT_AUTHORITY_URL", DefaultSettlementURL),
			SecretKey:       getEnv("SETTLEMENT_SECRET_KEY", getEnv("THIRDWEB_SECRET_KEY", "")),
			CDPAPIKeyID:     getEnv("CDP_API_KEY", ""),
			CDPAPIKeySecret: getEnv("CDP_API_KEY_SECRET", ""),
			Timeout:         time.Duration(getEnvInt("SETTLEMENT_TIMEOUT_SEC", 10)) * time.Second,
		},
		Providers: ProvidersConfig{
			OpenWeatherAPIKey:  getEnv("OPENWEATHER_API_KEY", ""),
			ExchangeRateAPIKey: getEnv("EXCHANGERATE_API_KEY", ""),
		},
		Authority: AuthorityConfig{
			Port:        getEnv("AUTHORITY_PORT", "8403"),
			RedisAddr:   getEnv("REDIS_ADDR", ""),
			DatabaseURL: getEnv("DATABASE_URL", ""),
		},
	}, nil
}

// NormalizeAddress validates an EVM address and returns its checksum form.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}

// getEnv retrieves an environment variable with a fallback default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer with a fallback.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
