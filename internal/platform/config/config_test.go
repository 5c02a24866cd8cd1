package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("test_service")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "memory", cfg.ReservationStore)
	assert.Equal(t, 600*time.Second, cfg.ReservationTTL())
	assert.Equal(t, 3*time.Second, cfg.SearchTimeout())
	assert.Equal(t, 5, cfg.BreakerFailureThreshold)
	assert.Equal(t, time.Minute, cfg.BreakerRecoveryTimeout())
	assert.Equal(t, time.Minute, cfg.HealthProbeInterval())
	require.NotEmpty(t, cfg.Providers)
	for _, p := range cfg.Providers {
		assert.NotEmpty(t, p.Name)
		assert.Positive(t, p.RateBudget)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("APP_HTTP_PORT", "9090")
	t.Setenv("APP_LOG_LEVEL", "debug")
	t.Setenv("APP_RESERVATION_TTL_SECONDS", "120")

	cfg, err := Load("test_service")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 120*time.Second, cfg.ReservationTTL())
}
