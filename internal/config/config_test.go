package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
security:
  token_key: "0123456789abcdef0123"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, MarketTonnel, cfg.Arbitrage.Source)
	assert.Equal(t, MarketPortals, cfg.Arbitrage.Target)
	assert.Equal(t, 45*time.Second, cfg.Scheduler.DataUpdateInterval)
	assert.Equal(t, time.Hour, cfg.Scheduler.AuthUpdateInterval)
	assert.Equal(t, 1200*time.Millisecond, cfg.Markets[MarketTonnel].Spacing)
	assert.Equal(t, time.Second, cfg.Markets[MarketPortals].Spacing)
	assert.Equal(t, "0.06", cfg.Markets[MarketTonnel].CommissionRate().String())
	assert.Equal(t, "0.22", cfg.Arbitrage.TransferFeeAmount().String())
	assert.Len(t, cfg.Ranges(), 4)
}

func TestLoadConfig_FileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
security:
  token_key: "0123456789abcdef0123"
arbitrage:
  interval: 10s
  test_mode: false
price_ranges:
  - low: 2
    high: 4
`)
	t.Setenv("GIFTARB_TELEGRAM_ADMIN_CHAT_ID", "42")
	t.Setenv("GIFTARB_MARKETS_PORTALS_TOKEN", "secret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Arbitrage.Interval)
	assert.False(t, cfg.Arbitrage.TestMode)
	assert.Equal(t, int64(42), cfg.Telegram.AdminChatID)
	assert.Equal(t, "secret", cfg.Markets[MarketPortals].Token)

	ranges := cfg.Ranges()
	require.Len(t, ranges, 1)
	assert.Equal(t, "2-4", ranges[0].Label)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Run("missing token key", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "logging:\n  level: info\n"))
		assert.Error(t, err)
	})

	t.Run("same source and target", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, `
security:
  token_key: "0123456789abcdef0123"
arbitrage:
  source: portals
  target: portals
`))
		assert.Error(t, err)
	})

	t.Run("unknown market", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, `
security:
  token_key: "0123456789abcdef0123"
arbitrage:
  target: fragment
`))
		assert.ErrorContains(t, err, "fragment")
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/n?sslmode=disable", d.DSN())

	d.URL = "postgres://override"
	assert.Equal(t, "postgres://override", d.DSN())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"key":"value"`)
}
