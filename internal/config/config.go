// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbd888/agentbazaar/internal/usdc"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"
	BaseURL   string // Public origin used to build x402 resource URLs

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// x402 settlement
	FacilitatorURL      string
	FacilitatorSecret   string
	ServerWalletAddress string
	MerchantAddress     string // payTo for every gated route
	SettlementTimeout   time.Duration

	// Chain
	RPCURL                string
	ChainID               int64
	Network               string
	USDCContract          string
	RegistryAddress       string
	CoordinatorPrivateKey string // Hex-encoded, with or without 0x
	PublicClientID        string
	WatchChain            bool
	WatchInterval         time.Duration

	// Prices in decimal USDC
	BasicPrice       string
	PremiumPrice     string
	AgentAccessPrice string

	// Security
	RateLimitRPM int
	CORSOrigins  []string

	// Tracing
	OTLPEndpoint string
}

// Avalanche Fuji defaults
const (
	DefaultRPCURL            = "https://api.avax-test.network/ext/bc/C/rpc"
	DefaultChainID           = 43113
	DefaultNetwork           = "avalanche-fuji"
	DefaultUSDCContract      = "0x5425890298aed601595a70AB815c96711a31Bc65" // Fuji USDC
	DefaultFacilitatorURL    = "https://x402.org/facilitator"
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultBasicPrice        = "0.01"
	DefaultPremiumPrice      = "0.15"
	DefaultAgentAccessPrice  = "0.01"
	DefaultRateLimitRPM      = 120
	DefaultSettlementTimeout = 15 * time.Second
	DefaultWatchInterval     = 15 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	port := getEnv("PORT", DefaultPort)
	cfg := &Config{
		Port:                  port,
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:             getEnv("LOG_FORMAT", DefaultLogFormat),
		BaseURL:               strings.TrimRight(getEnv("BASE_URL", "http://localhost:"+port), "/"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		FacilitatorURL:        strings.TrimRight(getEnv("FACILITATOR_URL", DefaultFacilitatorURL), "/"),
		FacilitatorSecret:     os.Getenv("FACILITATOR_SECRET_KEY"),
		ServerWalletAddress:   os.Getenv("SERVER_WALLET_ADDRESS"),
		MerchantAddress:       os.Getenv("MERCHANT_WALLET_ADDRESS"),
		SettlementTimeout:     getEnvDuration("SETTLEMENT_TIMEOUT", DefaultSettlementTimeout),
		RPCURL:                getEnv("RPC_URL", DefaultRPCURL),
		ChainID:               getEnvInt64("CHAIN_ID", DefaultChainID),
		Network:               getEnv("NETWORK", DefaultNetwork),
		USDCContract:          getEnv("USDC_CONTRACT", DefaultUSDCContract),
		RegistryAddress:       os.Getenv("REGISTRY_CONTRACT_ADDRESS"),
		CoordinatorPrivateKey: os.Getenv("COORDINATOR_PRIVATE_KEY"),
		PublicClientID:        os.Getenv("PUBLIC_CLIENT_ID"),
		WatchChain:            getEnvBool("WATCH_CHAIN", false),
		WatchInterval:         getEnvDuration("WATCH_INTERVAL", DefaultWatchInterval),
		BasicPrice:            getEnv("BASIC_PRICE", DefaultBasicPrice),
		PremiumPrice:          getEnv("PREMIUM_PRICE", DefaultPremiumPrice),
		AgentAccessPrice:      getEnv("AGENT_ACCESS_PRICE", DefaultAgentAccessPrice),
		RateLimitRPM:          int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		CORSOrigins:           splitList(getEnv("CORS_ORIGINS", "*")),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks structural problems only. Missing payment or chain
// secrets are not errors here: the routes that need them answer 500.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID must be positive")
	}
	for name, price := range map[string]string{
		"BASIC_PRICE":        c.BasicPrice,
		"PREMIUM_PRICE":      c.PremiumPrice,
		"AGENT_ACCESS_PRICE": c.AgentAccessPrice,
	} {
		if _, ok := usdc.Parse(price); !ok {
			return fmt.Errorf("%s must be a decimal USDC amount, got %q", name, price)
		}
	}

	if c.CoordinatorPrivateKey != "" {
		key := strings.TrimPrefix(c.CoordinatorPrivateKey, "0x")
		if len(key) != 64 {
			return fmt.Errorf("COORDINATOR_PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
		}
	}

	return nil
}

// PaymentConfigured reports whether every value the settlement path needs
// is present.
func (c *Config) PaymentConfigured() bool {
	return c.FacilitatorSecret != "" && c.ServerWalletAddress != "" && c.MerchantAddress != ""
}

// RegistryConfigured reports whether on-chain reads are possible.
func (c *Config) RegistryConfigured() bool {
	return c.RegistryAddress != "" && c.RPCURL != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
