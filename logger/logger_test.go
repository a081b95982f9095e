package logger_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"f0oster/permspy/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesToStdoutAndFile(t *testing.T) {
	var stdout bytes.Buffer
	path := filepath.Join(t.TempDir(), "permissions_monitor.log")

	log, closeFn, err := logger.New("info", path, &stdout)
	require.NoError(t, err)

	log.Info("no changes detected", "fingerprint", "abc")
	log.Debug("hidden")
	require.NoError(t, closeFn())

	assert.Contains(t, stdout.String(), "no changes detected")
	assert.NotContains(t, stdout.String(), "hidden")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"fingerprint":"abc"`)
}

func TestNew_AppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.log")
	require.NoError(t, os.WriteFile(path, []byte("earlier line\n"), 0o644))

	log, closeFn, err := logger.New("debug", path, &bytes.Buffer{})
	require.NoError(t, err)
	log.Debug("later line")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "earlier line")
	assert.Contains(t, string(data), "later line")
}

func TestNew_StdoutOnly(t *testing.T) {
	var stdout bytes.Buffer
	log, closeFn, err := logger.New("WARN", "", &stdout)
	require.NoError(t, err)

	log.Info("dropped")
	log.Warn("kept")
	assert.NoError(t, closeFn())
	assert.NotContains(t, stdout.String(), "dropped")
	assert.Contains(t, stdout.String(), "kept")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := logger.New("verbose", "", &bytes.Buffer{})
	assert.Error(t, err)
}
