package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: "9090"
telegram:
  token: abc
delivery:
  timeout: 2s
payment:
  payee_vpa: desk@okaxis
plans:
  - code: P1
    price: "499"
    duration_months: 1
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 2*time.Second, cfg.Delivery.Timeout)
	assert.Equal(t, 3, cfg.Delivery.MaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Payment.TTL)
	assert.Equal(t, 30*time.Second, cfg.Processor.RequeueInterval)
	assert.Equal(t, int64(5<<20), cfg.Payment.MaxProofBytes)
	assert.Equal(t, "https://api.telegram.org", cfg.Telegram.BaseURL)
	assert.True(t, cfg.Log.Console)
	require.Len(t, cfg.Plans, 1)
	assert.Equal(t, "P1", cfg.Plans[0].Code)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeFile(t, "bad.yaml", "server: [unclosed"))
	assert.Error(t, err)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Admin.JWTSecret = "s3cret"
	cfg.Plans = []PlanConfig{{Code: "P1", Name: "Monthly", Price: "499", Currency: "INR", DurationMonths: 1}}

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadUserConfig(t *testing.T) {
	path := writeFile(t, "users.yaml", `
users:
  - email: trader@example.com
    chat_id: "42"
    alerts:
      - symbol: BTCUSDT
        strategy: Trend
        signals: [BUY, TP_HIT]
`)

	uc, err := LoadUserConfig(path)
	require.NoError(t, err)
	require.Len(t, uc.Users, 1)
	assert.Equal(t, "42", uc.Users[0].ChatID)
	assert.Equal(t, []string{"BUY", "TP_HIT"}, uc.Users[0].Alerts[0].Signals)
}
