// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Chain access
	RPCURL         string // Empty disables on-chain lookups; every signal reports unknown
	ChainID        int64  // Used for explorer queries
	ExplorerURL    string
	ExplorerAPIKey string // Empty disables verification and age lookups
	SignalTimeout  time.Duration
	SignalAttempts int

	// Intelligence sources; any combination may be set
	DatabaseURL     string // PostgreSQL scam_records/association_edges (optional)
	IntelFeedPath   string
	IntelFeedURL    string
	GraphPath       string
	KafkaBrokers    []string
	KafkaIntelTopic string

	// Snapshot
	SnapshotRefresh time.Duration // 0 loads once at startup
	MaxHopDepth     int

	// Security
	AdminSecret  string // Guards /v1/admin; admin routes are disabled when empty
	RateLimitRPM int

	// Observability
	OTLPEndpoint string // Empty disables tracing
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultChainID         = 1 // Ethereum mainnet
	DefaultExplorerURL     = "https://api.etherscan.io/v2/api"
	DefaultSignalTimeout   = 2 * time.Second
	DefaultSignalAttempts  = 2
	DefaultSnapshotRefresh = 5 * time.Minute
	DefaultMaxHopDepth     = 3
	MaxHopDepthLimit       = 6
	DefaultRateLimit       = 120
	DefaultKafkaIntelTopic = "scam-intel"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:       getEnv("LOG_FORMAT", DefaultLogFormat),
		RPCURL:          os.Getenv("RPC_URL"),
		ChainID:         getEnvInt64("CHAIN_ID", DefaultChainID),
		ExplorerURL:     getEnv("EXPLORER_URL", DefaultExplorerURL),
		ExplorerAPIKey:  os.Getenv("EXPLORER_API_KEY"),
		SignalTimeout:   getEnvDuration("SIGNAL_TIMEOUT", DefaultSignalTimeout),
		SignalAttempts:  int(getEnvInt64("SIGNAL_ATTEMPTS", DefaultSignalAttempts)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		IntelFeedPath:   os.Getenv("INTEL_FEED_PATH"),
		IntelFeedURL:    os.Getenv("INTEL_FEED_URL"),
		GraphPath:       os.Getenv("GRAPH_PATH"),
		KafkaBrokers:    getEnvList("KAFKA_BROKERS"),
		KafkaIntelTopic: getEnv("KAFKA_INTEL_TOPIC", DefaultKafkaIntelTopic),
		SnapshotRefresh: getEnvDuration("SNAPSHOT_REFRESH", DefaultSnapshotRefresh),
		MaxHopDepth:     int(getEnvInt64("MAX_HOP_DEPTH", DefaultMaxHopDepth)),
		AdminSecret:     os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:    int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are usable
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}
	if c.MaxHopDepth < 1 || c.MaxHopDepth > MaxHopDepthLimit {
		return fmt.Errorf("MAX_HOP_DEPTH must be between 1 and %d", MaxHopDepthLimit)
	}
	if c.SignalTimeout <= 0 {
		return fmt.Errorf("SIGNAL_TIMEOUT must be positive")
	}
	if c.SignalAttempts < 1 {
		return fmt.Errorf("SIGNAL_ATTEMPTS must be at least 1")
	}
	if c.SnapshotRefresh < 0 {
		return fmt.Errorf("SNAPSHOT_REFRESH must not be negative")
	}
	if c.RateLimitRPM < 1 {
		return fmt.Errorf("RATE_LIMIT_RPM must be at least 1")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaIntelTopic == "" {
		return fmt.Errorf("KAFKA_INTEL_TOPIC is required when KAFKA_BROKERS is set")
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	return nil
}

// HasIntelSource reports whether any scam intelligence source is configured.
func (c *Config) HasIntelSource() bool {
	return c.DatabaseURL != "" || c.IntelFeedPath != "" || c.IntelFeedURL != "" || len(c.KafkaBrokers) > 0
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
