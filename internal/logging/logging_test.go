package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSONFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, Config{Level: "warn", Fields: map[string]string{"app": "marketpulse", "env": "test"}})

	logger.Info().Msg("dropped")
	require.Zero(t, buf.Len(), "info 低于 warn，不应输出")

	logger.Warn().Str("component", "fetcher").Msg("exhausted")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "warn", entry["level"])
	require.Equal(t, "marketpulse", entry["app"])
	require.Equal(t, "test", entry["env"])
	require.Equal(t, "fetcher", entry["component"])
	require.Contains(t, entry, "time")
}

func TestNewLoggerConsoleAndDefaultLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, Config{Format: "console", Level: "bogus"})

	logger.Debug().Msg("hidden")
	logger.Info().Msg("visible")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "visible")
	require.NotContains(t, buf.String(), "{")
}
