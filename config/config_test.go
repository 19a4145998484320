package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "fern-api", cfg.AppName)
	assert.Equal(t, 120*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 10, cfg.HTTPMaxRedirects)
	assert.Equal(t, time.Hour, cfg.RetryDelay)
	assert.Equal(t, "fern:jobs", cfg.RedisStreamsJobQueue)
	assert.Equal(t, "fern:dlq", cfg.RedisStreamsDLQ)
	assert.Equal(t, "tenant_id", cfg.AuthTenantClaim)
	assert.False(t, cfg.AuthEnabled)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("EXECUTION_RETRY_DELAY", "15m")
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("QUEUE_WORKERS", "8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 15*time.Minute, cfg.RetryDelay)
	assert.True(t, cfg.AuthEnabled)
	assert.Equal(t, "a:9092,b:9092", cfg.KafkaBrokers)
	assert.Equal(t, 8, cfg.QueueWorkers)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}
