package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestWriteJSON_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	require.NoError(t, WriteJSON(path, map[string]any{"key": "value"}, 0o600))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"key": "value"`)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWriteYAML_CreatesBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, WriteYAML(path, map[string]string{"version": "1"}, 0o644))
	require.NoError(t, WriteYAML(path, map[string]string{"version": "2"}, 0o644))

	var bak, cur map[string]string
	raw, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(raw, &bak))
	raw, err = os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(raw, &cur))

	assert.Equal(t, "1", bak["version"])
	assert.Equal(t, "2", cur["version"])
}

func TestReplaceFile_KeepsNoBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.bin")
	require.NoError(t, WriteFile(path, []byte("v1"), 0o600, nil))
	require.NoError(t, WriteFile(path, []byte("v2"), 0o600, nil))
	_, err := os.Stat(path + ".bak")
	require.NoError(t, err)

	require.NoError(t, ReplaceFile(path, []byte("v3"), 0o600, nil))
	_, err = os.Stat(path + ".bak")
	assert.True(t, os.IsNotExist(err), "stale backup removed")

	require.NoError(t, ReplaceFile(path, []byte("v4"), 0o600, nil))
	_, err = os.Stat(path + ".bak")
	assert.True(t, os.IsNotExist(err))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v4", string(raw))
}

func TestWriteFile_ValidationFailureKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ok":true}`), 0o600))

	err := WriteFile(path, []byte("not json"), 0o600, ValidJSON)
	require.Error(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(content))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".iged-tmp-"), "temp file %s left behind", e.Name())
	}
}

func TestWriteFile_CustomValidator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	reject := func([]byte) error { return errors.New("nope") }

	assert.Error(t, WriteFile(path, []byte("x"), 0o600, reject))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, WriteFile(path, []byte("x"), 0o600, nil))
}

func TestWriteFile_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "file.bin")
	require.NoError(t, WriteFile(path, []byte{1, 2, 3}, 0o600, nil))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, content)
}

func TestQuarantine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	dst, err := Quarantine(filepath.Join(dir, "quarantine"), path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.True(t, strings.HasSuffix(dst, ".corrupt"))
	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "{broken", string(content))
}
