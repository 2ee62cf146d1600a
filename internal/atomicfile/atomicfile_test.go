package atomicfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestWrite_ReplacesContentWithoutLeftovers checks overwrite semantics and temp cleanup.
func TestWrite_ReplacesContentWithoutLeftovers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "record.json")

	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))
	require.NoError(t, Write(path, []byte("new"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "new", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

// TestCopy_ProducesIdenticalBytes checks that Copy mirrors the source exactly.
func TestCopy_ProducesIdenticalBytes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "a.plg")
	dst := filepath.Join(dir, "b.plg")

	require.NoError(t, os.WriteFile(src, []byte("<?xml version='1.0'?>\n"), 0o600))
	require.NoError(t, Copy(src, dst, 0o644))

	want, err := os.ReadFile(src)
	require.NoError(t, err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

// TestCopy_MissingSource returns an error and leaves no destination.
func TestCopy_MissingSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dst := filepath.Join(dir, "b.plg")

	require.Error(t, Copy(filepath.Join(dir, "missing"), dst, 0o644))

	_, err := os.Stat(dst)
	require.ErrorIs(t, err, os.ErrNotExist)
}
