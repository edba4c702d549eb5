package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/seqmarket/genomeledger/service/ledger"
)

// Config holds all application configuration loaded from environment
// variables. All required fields are validated at startup to ensure fail-fast
// behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Ledger policy configuration
	RequireSellerCancel bool
	ForbidSelfPurchase  bool
	EnforceOfferExpiry  bool

	// Expiry sweep configuration
	ExpirySweepInterval time.Duration
}

// Load reads configuration from environment variables and validates all
// required fields. Returns an error if any required configuration is missing
// or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "genomeledger-expiry")

	// Ledger policy configuration. Defaults are the hardened policy; each
	// check can be switched off to recover the original permissive behavior.
	var err error
	cfg.RequireSellerCancel, err = parseBool("REQUIRE_SELLER_CANCEL", true)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.ForbidSelfPurchase, err = parseBool("FORBID_SELF_PURCHASE", true)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.EnforceOfferExpiry, err = parseBool("ENFORCE_OFFER_EXPIRY", true)
	if err != nil {
		errs = append(errs, err)
	}

	// Expiry sweep configuration
	sweepInterval, err := parseDuration("EXPIRY_SWEEP_INTERVAL", "1m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ExpirySweepInterval = sweepInterval
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid. Useful for
// server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid. This is useful for testing
// configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.ExpirySweepInterval < time.Second {
		errs = append(errs, fmt.Errorf("ExpirySweepInterval must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// Policy returns the ledger transition policy described by this config.
func (c *Config) Policy() ledger.Policy {
	return ledger.Policy{
		RequireSellerCancel: c.RequireSellerCancel,
		ForbidSelfPurchase:  c.ForbidSelfPurchase,
		EnforceExpiry:       c.EnforceOfferExpiry,
	}
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseBool parses a boolean from an environment variable or uses a default.
func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
