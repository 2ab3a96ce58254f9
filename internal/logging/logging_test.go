package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("warn", "json", &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("turn failed", "turn_id", "t-1")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "turn failed", record["msg"])
	assert.Equal(t, "t-1", record["turn_id"])
	assert.Equal(t, "streamchat", record["service"])
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("debug", "text", &buf)
	require.NoError(t, err)
	logger.Debug("dropped malformed record")
	assert.Contains(t, buf.String(), "msg=\"dropped malformed record\"")
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	_, err := New("verbose", "text", &bytes.Buffer{})
	assert.Error(t, err)
	_, err = New("info", "xml", &bytes.Buffer{})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel(" WARNING ")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)
}
