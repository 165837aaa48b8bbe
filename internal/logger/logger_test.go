package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewFansOutToConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "jusosync.log")

	l, closer, err := New(WithWriter(&console), WithFormat("json"), WithLevel("warn"), WithFile(path))
	require.NoError(t, err)
	l.Info("dropped")
	l.Warn("kept", slog.String("day", "20240307"))
	require.NoError(t, closer())

	var rec map[string]any
	require.NoError(t, json.Unmarshal(console.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "20240307", rec["day"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"kept"`)
	assert.NotContains(t, string(data), "dropped")
}

func TestQuietWithoutFileDiscards(t *testing.T) {
	var console bytes.Buffer
	l, closer, err := New(WithWriter(&console), WithQuiet())
	require.NoError(t, err)
	l.Error("nobody hears this")
	assert.NoError(t, closer())
	assert.Zero(t, console.Len())
}
