package config_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/c00lpeace/project-template-final/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLoggerWithWriters_Fanout(t *testing.T) {
	var a, b bytes.Buffer
	logger := config.SetupLoggerWithWriters(slog.LevelInfo, &a, &b)

	logger.Info("program registered", "program_id", "p-1")
	logger.Debug("dropped")

	for _, buf := range []*bytes.Buffer{&a, &b} {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "program registered", entry["msg"])
		assert.Equal(t, "p-1", entry["program_id"])
	}
}

func TestSetupLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	logger, cleanup := config.SetupLogger(config.LogConfig{Level: "info", File: path})

	logger.Warn("partial failure", "failed", 2)
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"partial failure"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, config.ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, config.ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, config.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, config.ParseLevel("anything"))
}
