package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuildsJSONLoggerToStdout(t *testing.T) {
	logger, err := New(Config{Level: "info", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("hello")
}

func TestNewFallsBackToInfoOnUnrecognizedLevel(t *testing.T) {
	logger, err := New(Config{Level: "not-a-level", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(0)) // info level enabled by default fallback
}

func TestNewRotatesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	logger, err := New(Config{Level: "debug", Format: "console", Output: path, MaxSizeMB: 1})
	require.NoError(t, err)
	logger.Debug("writing to rotated file")
	require.NoError(t, logger.Sync())
}
