package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/pkg/observability"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KEYFOLD_POSTGRES_URL", "postgres://localhost/keyfold")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 30*time.Second, cfg.App.SideEffectTimeout)
	assert.Equal(t, "@hourly", cfg.App.InviteCleanupSchedule)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.False(t, cfg.App.Hosted())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KEYFOLD_POSTGRES_URL", "postgres://localhost/keyfold")
	t.Setenv("KEYFOLD_PORT", "9000")
	t.Setenv("KEYFOLD_LOG_LEVEL", "debug")
	t.Setenv("KEYFOLD_SIDE_EFFECT_TIMEOUT", "45s")
	t.Setenv("KEYFOLD_APP_HOST", "cloud")
	t.Setenv("KEYFOLD_BILLING_API_URL", "https://billing.example")
	t.Setenv("KEYFOLD_BILLING_API_KEY", "sk_test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, 45*time.Second, cfg.App.SideEffectTimeout)
	assert.True(t, cfg.App.Hosted())
}

func TestValidate(t *testing.T) {
	t.Run("missing postgres URL", func(t *testing.T) {
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("cloud mode requires billing config", func(t *testing.T) {
		t.Setenv("KEYFOLD_POSTGRES_URL", "postgres://localhost/keyfold")
		t.Setenv("KEYFOLD_APP_HOST", "cloud")

		_, err := Load()
		assert.ErrorContains(t, err, "billing")
	})

	t.Run("ports must differ", func(t *testing.T) {
		t.Setenv("KEYFOLD_POSTGRES_URL", "postgres://localhost/keyfold")
		t.Setenv("KEYFOLD_PORT", "8080")
		t.Setenv("KEYFOLD_HEALTH_PORT", "8080")

		_, err := Load()
		assert.ErrorContains(t, err, "must be different")
	})
}
