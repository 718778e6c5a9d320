package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestDefaultTimeoutValues verifies that timeout configurations have sensible defaults
func TestDefaultTimeoutValues(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 30*time.Second, cfg.DBInitTimeout, "DB init timeout should be 30s")
	assert.Equal(t, 5*time.Second, cfg.RedisConnTimeout, "Redis connection timeout should be 5s")
	assert.Equal(t, 5*time.Second, cfg.CacheInitTimeout, "Cache init timeout should be 5s")
	assert.Equal(
		t,
		5*time.Second,
		cfg.ServerShutdownTimeout,
		"Server shutdown timeout should be 5s",
	)
	assert.Equal(
		t,
		10*time.Second,
		cfg.AuditShutdownTimeout,
		"Audit shutdown timeout should be 10s",
	)
}

func TestCustomTimeoutValues(t *testing.T) {
	t.Setenv("DB_INIT_TIMEOUT", "1m")
	t.Setenv("SERVER_SHUTDOWN_TIMEOUT", "not-a-duration")

	cfg := Load()

	assert.Equal(t, time.Minute, cfg.DBInitTimeout)
	assert.Equal(t, 5*time.Second, cfg.ServerShutdownTimeout, "invalid values fall back to defaults")
}
