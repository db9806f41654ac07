package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateFileP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c.txt")

	f, err := CreateFileP(path, 0750)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.NoError(t, Exists(path))
	assert.NoError(t, IsDir(filepath.Dir(path)))
	assert.ErrorIs(t, IsDir(path), ErrPathIsFile)
	assert.ErrorIs(t, Exists(filepath.Dir(path)), ErrPathIsDir)
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "config.toml")

	require.NoError(t, WriteAtomic(path, []byte("first"), 0640))
	require.NoError(t, WriteAtomic(path, []byte("second"), 0640))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	s, err := Info(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), s.Mode().Perm())

	// no temporary files are left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteAtomicRefusesDirectory(t *testing.T) {
	dir := t.TempDir()
	assert.ErrorIs(t, WriteAtomic(dir, []byte("x"), 0644), ErrPathIsDir)
}
