package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "data/ohlcv_cache.db", cfg.Database.SQLitePath)
	assert.Equal(t, 1825, cfg.Refresh.LookbackDays)
	assert.Equal(t, 800*time.Millisecond, cfg.Refresh.Pacing)
	assert.Equal(t, "vci", cfg.Sources.Primary.Name)
	assert.Equal(t, "tcbs", cfg.Sources.Secondary.Name)
	assert.Equal(t, 1, cfg.Refresh.MaxAttempts)
	assert.Equal(t, "ticker", cfg.Universe.Column)
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	t.Setenv("SQLITE_PATH", "/tmp/override.db")
	t.Setenv("REFRESH_PACING", "250ms")

	path := writeConfig(t, `
database:
  sqlite_path: from-yaml.db
refresh:
  default_history_start: "2020-01-02"
  pacing: 2s
  batch_size: 20
  max_attempts: 3
sources:
  primary:
    name: tcbs
    base_url: http://localhost:9000
  secondary:
    name: vci
    base_url: http://localhost:9001
    timeout: 3s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/tmp/override.db", cfg.Database.SQLitePath)
	assert.Equal(t, 250*time.Millisecond, cfg.Refresh.Pacing)
	assert.Equal(t, 20, cfg.Refresh.BatchSize)
	assert.Equal(t, 3, cfg.Refresh.MaxAttempts)
	assert.Equal(t, "tcbs", cfg.Sources.Primary.Name)
	assert.Equal(t, 3*time.Second, cfg.Sources.Secondary.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Sources.Primary.Timeout)
}

func TestLoad_BadYAML(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	_, err := Load(writeConfig(t, "database: [unterminated"))
	require.Error(t, err)
}

func TestValidate_Errors(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad history start", func(c *Config) { c.Refresh.DefaultHistoryStart = "2020/01/01" }},
		{"same sources", func(c *Config) { c.Sources.Secondary.Name = c.Sources.Primary.Name }},
		{"unknown source", func(c *Config) { c.Sources.Primary.Name = "ssi" }},
		{"bad timezone", func(c *Config) { c.Refresh.Timezone = "Mars/Olympus" }},
		{"token without chat", func(c *Config) { c.Telegram.BotToken = "abc" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"proxy without scheme", func(c *Config) { c.Proxy = "proxy.local:8080" }},
		{"proxy without host", func(c *Config) { c.Proxy = "http://" }},
		{"unparseable proxy", func(c *Config) { c.Proxy = "http://[::1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestHistoryStart(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	cfg, err := Load("")
	require.NoError(t, err)

	today := time.Date(2024, 7, 2, 15, 0, 0, 0, time.UTC)
	cfg.Refresh.LookbackDays = 10
	assert.Equal(t, time.Date(2024, 6, 22, 0, 0, 0, 0, time.UTC), cfg.HistoryStart(today))

	cfg.Refresh.DefaultHistoryStart = "2019-01-01"
	assert.Equal(t, time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), cfg.HistoryStart(today))
}

func TestValidate_AcceptsProxy(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	for _, p := range []string{"http://10.0.0.1:3128", "socks5://user:pw@proxy.local:1080"} {
		cfg, err := Load("")
		require.NoError(t, err)
		cfg.Proxy = p
		assert.NoError(t, cfg.Validate(), p)
	}
}
