package logging

import (
	"os"
	"path/filepath"
	"testing"

	"fieldsync/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileOutputRequiresPath(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Output: "file"}, config.AppConfig{})
	require.Error(t, err)
}

func TestNewWritesAppContextToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncd.log")
	logger, closer, err := New(
		config.LoggingConfig{Level: "debug", Output: "file", FilePath: path},
		config.AppConfig{Name: "fieldsync", Environment: "test", Version: "1.0.0"})
	require.NoError(t, err)

	logger.Info().Msg("started")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"app":"fieldsync"`)
	assert.Contains(t, string(raw), `"env":"test"`)
	assert.Contains(t, string(raw), `"message":"started"`)
}

func TestNewUnknownSettingsFallBack(t *testing.T) {
	logger, closer, err := New(
		config.LoggingConfig{Level: "noisy", Output: "teletype"}, config.AppConfig{})
	require.NoError(t, err)
	require.Nil(t, closer)
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}
