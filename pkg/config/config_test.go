package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"SERVICE_NAME", "ENV", "LOG_LEVEL", "INVESTEC_PORT", "INVESTEC_BASE_URL",
		"INVESTEC_TOKEN", "INVESTEC_REUSE_SESSION", "INVESTEC_RETRY_MAX",
		"INVESTEC_HTTP_TIMEOUT", "INVESTEC_POLL_INTERVAL", "REDIS_ADDR", "RABBITMQ_URL",
		"INVESTEC_RATE_RPS", "INVESTEC_RATE_BURST", "SESSION_TTL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "investec-adapter", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "investec", cfg.Venue)
	assert.Equal(t, 9040, cfg.Port)
	assert.Empty(t, cfg.BaseURL, "the client falls back to the production host")
	assert.Empty(t, cfg.Token)
	assert.False(t, cfg.ReuseSession, "session reuse must be opt-in")
	assert.Equal(t, 0, cfg.RetryMax, "retries must be opt-in")
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 5*time.Minute, cfg.PollInterval)
	assert.Equal(t, 24*time.Hour, cfg.SummaryRefresh)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Empty(t, cfg.RabbitMQURL)
	assert.Equal(t, 5, cfg.RateRPS)
	assert.Equal(t, 10, cfg.RateBurst)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("INVESTEC_PORT", "9999")
	t.Setenv("INVESTEC_REUSE_SESSION", "true")
	t.Setenv("INVESTEC_RETRY_MAX", "3")
	t.Setenv("INVESTEC_HTTP_TIMEOUT", "5s")
	t.Setenv("INVESTEC_BASE_URL", "https://sandbox.example.com")

	cfg := Load()

	assert.Equal(t, 9999, cfg.Port)
	assert.True(t, cfg.ReuseSession)
	assert.Equal(t, 3, cfg.RetryMax)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "https://sandbox.example.com", cfg.BaseURL)
}

func TestGetEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("X_INT", "abc")
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_DUR", "soon")

	assert.Equal(t, 7, GetEnvInt("X_INT", 7))
	assert.True(t, GetEnvBool("X_BOOL", true))
	assert.Equal(t, time.Second, GetEnvDuration("X_DUR", time.Second))
}

func TestGetEnv_BlankIsUnset(t *testing.T) {
	t.Setenv("X_STR", "   ")
	assert.Equal(t, "def", GetEnv("X_STR", "def"))
}
