package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cleanupEnv() {
	os.Unsetenv("DATABASE_URL")
	os.Unsetenv("NATS_URL")
	os.Unsetenv("SERVER_ADDR")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("TEMPORAL_HOST")
	os.Unsetenv("TEMPORAL_NAMESPACE")
	os.Unsetenv("TEMPORAL_TASK_QUEUE")
	os.Unsetenv("REQUIRE_SELLER_CANCEL")
	os.Unsetenv("FORBID_SELF_PURCHASE")
	os.Unsetenv("ENFORCE_OFFER_EXPIRY")
	os.Unsetenv("EXPIRY_SWEEP_INTERVAL")
}

func TestLoad_ValidConfig(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, ":8080", cfg.ServerAddr) // Default
	assert.Equal(t, "info", cfg.LogLevel)    // Default
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, "localhost:7233", cfg.TemporalHost)
	assert.Equal(t, "genomeledger-expiry", cfg.TemporalTaskQueue)
	assert.Equal(t, time.Minute, cfg.ExpirySweepInterval)

	// Hardened policy by default
	assert.True(t, cfg.RequireSellerCancel)
	assert.True(t, cfg.ForbidSelfPurchase)
	assert.True(t, cfg.EnforceOfferExpiry)
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestLoad_InvalidSweepInterval(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("EXPIRY_SWEEP_INTERVAL", "invalid")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_SweepIntervalTooSmall(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("EXPIRY_SWEEP_INTERVAL", "100ms")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "at least 1 second")
}

func TestLoad_InvalidPolicyFlag(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("REQUIRE_SELLER_CANCEL", "not-a-bool")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid boolean")
}

func TestLoad_PermissivePolicy(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("REQUIRE_SELLER_CANCEL", "false")
	os.Setenv("FORBID_SELF_PURCHASE", "false")
	os.Setenv("ENFORCE_OFFER_EXPIRY", "false")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)

	policy := cfg.Policy()
	assert.False(t, policy.RequireSellerCancel)
	assert.False(t, policy.ForbidSelfPurchase)
	assert.False(t, policy.EnforceExpiry)
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("SERVER_ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("NATS_URL", "nats://nats.internal:4222")
	os.Setenv("TEMPORAL_HOST", "temporal.internal:7233")
	os.Setenv("EXPIRY_SWEEP_INTERVAL", "30s")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "nats://nats.internal:4222", cfg.NATSURL)
	assert.Equal(t, "temporal.internal:7233", cfg.TemporalHost)
	assert.Equal(t, 30*time.Second, cfg.ExpirySweepInterval)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		DatabaseURL:         "postgres://localhost/test",
		TemporalHost:        "localhost:7233",
		TemporalNamespace:   "default",
		TemporalTaskQueue:   "genomeledger-expiry",
		ExpirySweepInterval: time.Minute,
	}
	require.NoError(t, cfg.Validate())

	cfg.TemporalTaskQueue = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TemporalTaskQueue is required")
}
