// ABOUTME: Tests for config overrides and the init and traces subcommands
// ABOUTME: Uses temp directories and a real SQLite trace archive

package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/trace"
)

func TestLoadConfig_Overrides(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), overrides{
		url:          "https://chat.example.com",
		transport:    config.TransportWebSocket,
		conversation: "c-9",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example.com", cfg.Backend.URL)
	assert.Equal(t, config.TransportWebSocket, cfg.Backend.Transport)
	assert.Equal(t, "c-9", cfg.Conversation.ID)
	assert.Equal(t, "warn", cfg.Logging.Level)

	cfg, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), overrides{verbose: true})
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig_InvalidOverride(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), overrides{transport: "carrier-pigeon"})
	assert.ErrorContains(t, err, "backend.transport")
}

func TestRunInit(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "coven", "chat.yaml")
	var out bytes.Buffer

	require.NoError(t, runInit([]string{"-config", path, "-url", "http://backend:9000"}, &out))
	assert.Contains(t, out.String(), path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://backend:9000", cfg.Backend.URL)
	assert.True(t, cfg.Trace.Enabled)
	assert.Equal(t, config.DefaultStreamIdleTimeout, cfg.Backend.StreamIdleTimeout)

	err = runInit([]string{"-config", path}, &out)
	assert.ErrorContains(t, err, "already exists")
	assert.NoError(t, runInit([]string{"-config", path, "-force"}, &out))
}

func TestRunTraces(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "traces.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.SaveRun(t.Context(), "conv-1", trace.Run{
		ID:          "run-1",
		StartedAt:   t0,
		UserMessage: "hello",
		Events:      []json.RawMessage{json.RawMessage(`{"step":1}`)},
	}))
	require.NoError(t, s.Close())

	var out bytes.Buffer
	require.NoError(t, runTraces(t.Context(), []string{"-db", dbPath}, &out))
	assert.Contains(t, out.String(), "run-1")
	assert.Contains(t, out.String(), `"hello"`)

	out.Reset()
	require.NoError(t, runTraces(t.Context(), []string{"-db", dbPath, "-run", "run-1"}, &out))
	assert.Contains(t, out.String(), `"step": 1`)

	out.Reset()
	require.NoError(t, runTraces(t.Context(), []string{"-db", dbPath, "-conversation", "other"}, &out))
	assert.Contains(t, out.String(), "No archived runs")
}

func TestRunTraces_NoArchive(t *testing.T) {
	err := runTraces(t.Context(), []string{"-config", filepath.Join(t.TempDir(), "none.yaml")}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "no trace archive")
}
