package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvOpenAIKey, "sk-test")
	t.Setenv(EnvGeminiKey, "")
	t.Setenv(EnvGoogleKey, "g-key")

	t.Setenv("HOME", t.TempDir())

	cfg, v, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, 1500*time.Millisecond, cfg.Client.Debounce)
	assert.Equal(t, "sk-test", cfg.Speech.OpenAIKey)
	assert.Equal(t, "g-key", cfg.Providers.GeminiAPIKey)
	assert.NoError(t, cfg.ValidateClient())
	assert.NoError(t, cfg.ValidateServer())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "murmur.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
client:
  server_url: wss://murmur.example.com/ws
  hands_free: false
  debounce: 2s
queue:
  retention: 1h
`), 0o644))

	t.Setenv("MURMUR_CLIENT_HISTORY_WINDOW", "4")

	cfg, _, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.Client.HandsFree)
	assert.Equal(t, 2*time.Second, cfg.Client.Debounce)
	assert.Equal(t, 4, cfg.Client.HistoryWindow)
	assert.Equal(t, time.Hour, cfg.Queue.Retention)
	assert.Equal(t, "https://murmur.example.com", cfg.HTTPBaseURL())
}

func TestValidateClient(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad scheme", func(c *Config) { c.Client.ServerURL = "http://x/ws" }, "client.server_url"},
		{"zero debounce", func(c *Config) { c.Client.Debounce = 0 }, "client.debounce"},
		{"bad backend", func(c *Config) { c.Client.AudioBackend = "alsa" }, "client.audio_backend"},
		{"negative window", func(c *Config) { c.Client.HistoryWindow = -1 }, "client.history_window"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.ValidateClient()
			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestHTTPBaseURL(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "http://localhost:8000", cfg.HTTPBaseURL())
}
