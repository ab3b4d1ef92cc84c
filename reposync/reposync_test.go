package reposync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepoDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "locks"), 0o755))
	return dir
}

func TestWriterLockExclusive(t *testing.T) {
	dir := setupRepoDir(t)

	w1, err := AcquireWriter(dir)
	require.NoError(t, err)

	_, err = AcquireWriter(dir)
	assert.Error(t, err)

	require.NoError(t, w1.Release())

	w2, err := AcquireWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w2.Release())
}

func TestReaderLocksAreShared(t *testing.T) {
	dir := setupRepoDir(t)

	r1, err := AcquireReader(dir)
	require.NoError(t, err)
	r2, err := AcquireReader(dir)
	require.NoError(t, err)

	require.NoError(t, r1.Release())
	require.NoError(t, r2.Release())
}

func TestReaderExcludesWriter(t *testing.T) {
	dir := setupRepoDir(t)

	r, err := AcquireReader(dir)
	require.NoError(t, err)
	defer r.Release()

	_, err = AcquireWriter(dir)
	assert.Error(t, err)
}
