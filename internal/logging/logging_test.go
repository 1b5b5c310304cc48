package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"Warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	lg, closer, err := New(Options{Level: "info", JSON: true, Writer: &buf})
	require.NoError(t, err)
	defer closer.Close()

	lg.Debug("hidden")
	lg.Info("visible", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"visible"`)
	assert.Contains(t, out, `"k":"v"`)
}

func TestNewWritesLogFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "app.log")
	var buf bytes.Buffer
	lg, closer, err := New(Options{Level: "info", Writer: &buf, File: FileOptions{Path: p}})
	require.NoError(t, err)

	lg.Info("to file")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), "to file")
	assert.Contains(t, buf.String(), "to file")
}
