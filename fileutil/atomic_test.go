package fileutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"f0oster/permspy/fileutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic_ReplacesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	require.NoError(t, fileutil.WriteFileAtomic(path, []byte(`{"v":1}`)))
	require.NoError(t, fileutil.WriteFileAtomic(path, []byte(`{"v":2}`)))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteFileAtomic_MissingDirectory(t *testing.T) {
	err := fileutil.WriteFileAtomic(filepath.Join(t.TempDir(), "missing", "doc.json"), []byte("x"))
	assert.Error(t, err)
}
