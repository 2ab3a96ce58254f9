package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.BindAddr)
	assert.Equal(t, "streamchat", cfg.MetricsNamespace)
	assert.Equal(t, "auto", cfg.GenBackend)
	assert.Empty(t, cfg.GenAPIURL)
	assert.Equal(t, 10*time.Minute, cfg.SessionInactivityTimeout)
	assert.Equal(t, 30*time.Millisecond, cfg.RevealInterval)
	assert.Equal(t, 3, cfg.RevealCharsPerTick)
	assert.True(t, cfg.SuggestionsEnabled)
	assert.InDelta(t, 5.0, cfg.SuggestionsPerSecond, 1e-9)
	assert.True(t, cfg.PreflightEnabled)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("GEN_BACKEND", "HTTP")
	t.Setenv("GEN_API_URL", " http://localhost:7777/v1 ")
	t.Setenv("GEN_SUGGESTIONS_ENABLED", "off")
	t.Setenv("GEN_SUGGESTIONS_PER_SECOND", "2.5")
	t.Setenv("REVEAL_INTERVAL", "10ms")
	t.Setenv("REVEAL_CHARS_PER_TICK", "8")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9191", cfg.BindAddr)
	assert.Equal(t, "http", cfg.GenBackend)
	assert.Equal(t, "http://localhost:7777/v1", cfg.GenAPIURL)
	assert.False(t, cfg.SuggestionsEnabled)
	assert.InDelta(t, 2.5, cfg.SuggestionsPerSecond, 1e-9)
	assert.Equal(t, 10*time.Millisecond, cfg.RevealInterval)
	assert.Equal(t, 8, cfg.RevealCharsPerTick)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"short inactivity":   {"APP_SESSION_INACTIVITY_TIMEOUT": "1s"},
		"http without url":   {"GEN_BACKEND": "http"},
		"unknown backend":    {"GEN_BACKEND": "grpc"},
		"zero reveal tick":   {"REVEAL_CHARS_PER_TICK": "0"},
		"negative interval":  {"REVEAL_INTERVAL": "-5ms"},
		"bad bool":           {"PREFLIGHT_ENABLED": "maybe"},
		"bad float":          {"GEN_SUGGESTIONS_PER_SECOND": "fast"},
		"unknown log format": {"LOG_FORMAT": "xml"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"GEN_BACKEND",
		"GEN_API_URL",
		"GEN_API_KEY",
		"GEN_REQUEST_TIMEOUT",
		"GEN_MOCK_DELAY",
		"GEN_SUGGESTIONS_ENABLED",
		"GEN_SUGGESTIONS_PER_SECOND",
		"REVEAL_INTERVAL",
		"REVEAL_CHARS_PER_TICK",
		"PREFLIGHT_ENABLED",
		"DATABASE_URL",
		"LOG_LEVEL",
		"LOG_FORMAT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
