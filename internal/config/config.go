package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the streaming chat service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	GenBackend           string
	GenAPIURL            string
	GenAPIKey            string
	GenRequestTimeout    time.Duration
	GenMockDelay         time.Duration
	SuggestionsEnabled   bool
	SuggestionsPerSecond float64
	RevealInterval       time.Duration
	RevealCharsPerTick   int
	PreflightEnabled     bool
	DatabaseURL          string
	LogLevel             string
	LogFormat            string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "streamchat"),
		AllowAnyOrigin:   false,
		GenBackend:       strings.ToLower(envOrDefault("GEN_BACKEND", "auto")),
		GenAPIURL:        trimmedEnv("GEN_API_URL"),
		GenAPIKey:        trimmedEnv("GEN_API_KEY"),
		DatabaseURL:      trimmedEnv("DATABASE_URL"),
		LogLevel:         strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(envOrDefault("LOG_FORMAT", "text")),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		GenRequestTimeout:        120 * time.Second,
		GenMockDelay:             20 * time.Millisecond,
		SuggestionsEnabled:       true,
		SuggestionsPerSecond:     5,
		RevealInterval:           30 * time.Millisecond,
		RevealCharsPerTick:       3,
		PreflightEnabled:         true,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.GenRequestTimeout, err = durationFromEnv("GEN_REQUEST_TIMEOUT", cfg.GenRequestTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GenMockDelay, err = durationFromEnv("GEN_MOCK_DELAY", cfg.GenMockDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.SuggestionsEnabled, err = boolFromEnv("GEN_SUGGESTIONS_ENABLED", cfg.SuggestionsEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.SuggestionsPerSecond, err = floatFromEnv("GEN_SUGGESTIONS_PER_SECOND", cfg.SuggestionsPerSecond)
	if err != nil {
		return Config{}, err
	}

	cfg.RevealInterval, err = durationFromEnv("REVEAL_INTERVAL", cfg.RevealInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.RevealCharsPerTick, err = intFromEnv("REVEAL_CHARS_PER_TICK", cfg.RevealCharsPerTick)
	if err != nil {
		return Config{}, err
	}
	cfg.PreflightEnabled, err = boolFromEnv("PREFLIGHT_ENABLED", cfg.PreflightEnabled)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	switch cfg.GenBackend {
	case "auto", "mock":
	case "http":
		if cfg.GenAPIURL == "" {
			return Config{}, fmt.Errorf("GEN_API_URL is required when GEN_BACKEND=http")
		}
	default:
		return Config{}, fmt.Errorf("GEN_BACKEND must be one of auto, http, mock")
	}
	if cfg.GenRequestTimeout <= 0 {
		return Config{}, fmt.Errorf("GEN_REQUEST_TIMEOUT must be positive")
	}
	if cfg.SuggestionsPerSecond <= 0 {
		return Config{}, fmt.Errorf("GEN_SUGGESTIONS_PER_SECOND must be positive")
	}
	if cfg.RevealInterval <= 0 {
		return Config{}, fmt.Errorf("REVEAL_INTERVAL must be positive")
	}
	if cfg.RevealCharsPerTick <= 0 {
		return Config{}, fmt.Errorf("REVEAL_CHARS_PER_TICK must be positive")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("LOG_FORMAT must be text or json")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
