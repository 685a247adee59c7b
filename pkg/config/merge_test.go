package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overwatch-dqm/overwatch/pkg/logging"
)

func newTestLogger() logging.Logger {
	return logging.NewLogger("test: ", logging.LogFuncs{})
}

func TestWriteCustomConfigCreatesFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")

	overrides := map[string]interface{}{
		"hostName": "dqm-server",
		"port":     8850,
	}

	require.NoError(t, WriteCustomConfig(filename, overrides, newTestLogger()))

	loaded, err := LoadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, overrides, loaded)
}

func TestWriteCustomConfigMergesDisjointKeys(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, DumpFile(filename, map[string]interface{}{
		"existing": "value",
	}))

	require.NoError(t, WriteCustomConfig(filename, map[string]interface{}{
		"added": 42,
	}, newTestLogger()))

	loaded, err := LoadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"existing": "value",
		"added":    42,
	}, loaded)
}

func TestWriteCustomConfigOverridesWin(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, DumpFile(filename, map[string]interface{}{
		"port":  8850,
		"debug": false,
	}))

	require.NoError(t, WriteCustomConfig(filename, map[string]interface{}{
		"port": 9000,
	}, newTestLogger()))

	loaded, err := LoadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"port":  9000,
		"debug": false,
	}, loaded)
}

func TestWriteCustomConfigMalformedExistingFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(filename, []byte("key: [unclosed"), 0644))

	err := WriteCustomConfig(filename, map[string]interface{}{"a": 1}, newTestLogger())
	require.Error(t, err)

	// The malformed file must be left alone instead of being reset.
	data, readErr := os.ReadFile(filename)
	require.NoError(t, readErr)
	assert.Equal(t, "key: [unclosed", string(data))
}
