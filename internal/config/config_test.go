package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/courier")
	t.Setenv("JWT_SECRET", "s3cret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 10, cfg.StoreMaxConns)
	assert.Equal(t, "messaging.outbound", cfg.QueueExchange)
	assert.Equal(t, 32, cfg.QueuePullBatch)
	assert.Equal(t, 30*time.Second, cfg.QueueAckWait)
	assert.Equal(t, 4, cfg.QueueWorkers)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 4, cfg.RetryMaxDoublings)
	assert.Equal(t, 60*time.Second, cfg.SweeperInterval)
	assert.Equal(t, "https://api.telegram.org", cfg.TelegramAPIBase)
	assert.True(t, cfg.RLEnabled)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("RETRY_BASE_DELAY", "2m")
	t.Setenv("RL_ENABLED", "false")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.RetryBaseDelay)
	assert.False(t, cfg.RLEnabled)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadFallsBackOnGarbageValues(t *testing.T) {
	setRequired(t)
	t.Setenv("RETRY_MAX_ATTEMPTS", "many")
	t.Setenv("QUEUE_ACK_WAIT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.QueueAckWait)
}

func TestLoadRejectsMissingRequired(t *testing.T) {
	t.Run("database_url", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")
		t.Setenv("JWT_SECRET", "s3cret")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DATABASE_URL")
	})

	t.Run("jwt_secret", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost:5432/courier")
		t.Setenv("JWT_SECRET", "")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JWT_SECRET")
	})

	t.Run("queue_url_outside_dev", func(t *testing.T) {
		setRequired(t)
		t.Setenv("APP_ENV", "prod")
		t.Setenv("QUEUE_URL", "")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "QUEUE_URL")
	})
}
