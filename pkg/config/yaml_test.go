package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPlainMapping(t *testing.T) {
	data := []byte(`
name: overwatch
port: 8850
nested:
  enabled: true
list:
  - a
  - b
`)

	mapping, err := Load(data)
	require.NoError(t, err)

	assert.Equal(t, "overwatch", mapping["name"])
	assert.Equal(t, 8850, mapping["port"])
	assert.Equal(t, map[string]interface{}{"enabled": true}, mapping["nested"])
	assert.Equal(t, []interface{}{"a", "b"}, mapping["list"])
}

func TestLoadExpandVarsTag(t *testing.T) {
	t.Setenv("OVERWATCH_TEST_VAR", "Hello World")

	data := []byte(`greeting: !expandVars "$OVERWATCH_TEST_VAR"`)

	mapping, err := Load(data)
	require.NoError(t, err)

	assert.Equal(t, "Hello World", mapping["greeting"])
}

func TestLoadUntaggedDollarSignIsVerbatim(t *testing.T) {
	t.Setenv("OVERWATCH_TEST_VAR", "Hello World")

	// Only tagged scalars are expanded. A plain scalar keeps its dollar sign.
	data := []byte(`greeting: "$OVERWATCH_TEST_VAR"`)

	mapping, err := Load(data)
	require.NoError(t, err)

	assert.Equal(t, "$OVERWATCH_TEST_VAR", mapping["greeting"])
}

func TestLoadExpandVarsUnsetVariable(t *testing.T) {
	data := []byte(`greeting: !expandVars "$ Hello World"`)

	mapping, err := Load(data)
	require.NoError(t, err)

	// A lone dollar sign is not a variable reference and survives expansion.
	assert.Equal(t, "$ Hello World", mapping["greeting"])
}

func TestLoadEmptyInput(t *testing.T) {
	mapping, err := Load(nil)
	require.NoError(t, err)
	assert.Empty(t, mapping)
}

func TestLoadNonMappingFails(t *testing.T) {
	_, err := Load([]byte(`- just\n- a\n- list`))
	assert.Error(t, err)
}

func TestLoadMalformedYAMLFails(t *testing.T) {
	_, err := Load([]byte("key: [unclosed"))
	assert.Error(t, err)
}

func TestDumpFileRoundTrip(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")

	original := map[string]interface{}{
		"name": "overwatch",
		"port": 8850,
	}

	require.NoError(t, DumpFile(filename, original))

	loaded, err := LoadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	assert.True(t, os.IsNotExist(errCause(err)))
}

func errCause(err error) error {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}
