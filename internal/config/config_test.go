package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/funnelbot/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("FUNNEL_GEMINI_API_KEY", "key")
	t.Setenv("FUNNEL_TELEGRAM_ENABLED", "false")

	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "key", cfg.Gemini.APIKey)
	assert.False(t, cfg.Telegram.Enabled)
	assert.Equal(t, 1, cfg.Funnel.MaxPaymentChecks)
	assert.Equal(t, 7, cfg.Funnel.AffinityThreshold)
	assert.Equal(t, 60*time.Second, cfg.Funnel.GeneratorTimeout)
	assert.Equal(t, 800*time.Millisecond, cfg.Delivery.ReadingMin)
	assert.Equal(t, 8*time.Second, cfg.Delivery.TypingMax)
	assert.InDelta(t, 25.0, cfg.Funnel.Pricing.Default.Floor, 0.001)
	assert.InDelta(t, 80.0, cfg.Funnel.Pricing.TierFor("ios").Anchor, 0.001)
	assert.True(t, cfg.Scheduler.Tasks["payment_reconcile"].Enabled)
}

func TestLoadConfig_FileOverrides(t *testing.T) {
	t.Setenv("FUNNEL_GEMINI_API_KEY", "key")

	path := writeConfig(t, `
logger:
  level: debug
  json: true
telegram:
  token: "123:abc"
  admin_user_id: 42
funnel:
  max_payment_checks: 2
  generator_timeout: 30s
realtime:
  poll_interval: 500ms
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.True(t, cfg.Logger.JSON)
	assert.Equal(t, int64(42), cfg.Telegram.AdminUserID)
	assert.Equal(t, 2, cfg.Funnel.MaxPaymentChecks)
	assert.Equal(t, 30*time.Second, cfg.Funnel.GeneratorTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Realtime.PollInterval)
	assert.True(t, cfg.IsAdmin(42))
	assert.False(t, cfg.IsAdmin(7))
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		body string
	}{
		{
			name: "missing api key",
			env:  map[string]string{"FUNNEL_TELEGRAM_ENABLED": "false"},
		},
		{
			name: "telegram enabled without token",
			env:  map[string]string{"FUNNEL_GEMINI_API_KEY": "key"},
		},
		{
			name: "bad log level",
			env:  map[string]string{"FUNNEL_GEMINI_API_KEY": "key", "FUNNEL_TELEGRAM_ENABLED": "false"},
			body: "logger:\n  level: loud\n",
		},
		{
			name: "inverted typing clamp",
			env:  map[string]string{"FUNNEL_GEMINI_API_KEY": "key", "FUNNEL_TELEGRAM_ENABLED": "false"},
			body: "delivery:\n  typing_min: 9s\n  typing_max: 1s\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("FUNNEL_GEMINI_API_KEY", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			path := writeConfig(t, tc.body)

			_, err := config.LoadConfig(path)
			require.ErrorIs(t, err, config.ErrConfiguration)
		})
	}
}
