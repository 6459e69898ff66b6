package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https", cfg.OriginScheme)
	assert.Equal(t, 20, cfg.RetryMaxAttempts)
	assert.Equal(t, 900, cfg.RetryBaseDelayMs)
	assert.Equal(t, 30000, cfg.RetryMaxDelayMs)
	assert.Equal(t, 5000, cfg.PollIntervalMs)
	assert.NotEmpty(t, cfg.DeviceName)
	assert.NotEmpty(t, cfg.TrustStorePath)
}

func TestLoad_RetryFloors(t *testing.T) {
	t.Setenv("CP_RETRY_MAX_ATTEMPTS", "0")
	t.Setenv("CP_RETRY_BASE_DELAY_MS", "50")
	t.Setenv("CP_RETRY_MAX_DELAY_MS", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.RetryMaxAttempts)
	assert.Equal(t, 200, cfg.RetryBaseDelayMs)
	// maxDelay floor is the (clamped) base delay.
	assert.Equal(t, 200, cfg.RetryMaxDelayMs)
}

func TestLoad_NegativePollIntervalFallsBack(t *testing.T) {
	t.Setenv("CP_POLL_INTERVAL_MS", "-100")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.PollIntervalMs)
}

func TestLoad_InvalidOriginScheme(t *testing.T) {
	t.Setenv("CP_ORIGIN_SCHEME", "ftp")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CP_ORIGIN_SCHEME")
}

func TestLoad_ExplicitValues(t *testing.T) {
	t.Setenv("CP_SERVER_SOCKET", "chat.example.org:8443")
	t.Setenv("CP_ORIGIN_SCHEME", "http")
	t.Setenv("CP_DEVICE_NAME", "test-device")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "chat.example.org:8443", cfg.ServerSocket)
	assert.Equal(t, "http", cfg.OriginScheme)
	assert.Equal(t, "test-device", cfg.DeviceName)
}

func TestIsProduction(t *testing.T) {
	cfg := &Config{Environment: "production"}
	assert.True(t, cfg.IsProduction())

	cfg.Environment = "development"
	assert.False(t, cfg.IsProduction())
}
