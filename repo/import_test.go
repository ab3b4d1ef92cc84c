package repo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dswd/zvault/bundle"
	"github.com/dswd/zvault/codec/chash"
	"github.com/dswd/zvault/store"
)

// TestImportRebuildsDerivedStateFromRemote writes a repository's worth
// of bundles against a real FileStore remote, then imports a brand new
// repository directory pointed at that same remote with no trustworthy
// local state of its own, and checks a chunk sealed under the original
// repository is reachable through the imported one's rebuilt index.
func TestImportRebuildsDerivedStateFromRemote(t *testing.T) {
	root := t.TempDir()
	origDir := filepath.Join(root, "orig")
	remoteDir := filepath.Join(root, "remote")

	cfg := testConfig()
	require.NoError(t, Init(origDir, cfg, false))
	orig, err := Open(origDir)
	require.NoError(t, err)
	orig.WithStore(store.NewFileStore(remoteDir))

	data := []byte("data that must survive an import")
	_, _, err = orig.AddChunk(bundle.Data, data)
	require.NoError(t, err)
	require.NoError(t, orig.Flush())
	require.NoError(t, orig.Close())

	importedDir := filepath.Join(root, "imported")
	imported, err := Import(importedDir, cfg, remoteDir, nil)
	require.NoError(t, err)
	defer imported.Close()

	entries, err := imported.store.List(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	fp, err := chash.Sum(cfg.HashMethod, data)
	require.NoError(t, err)
	entry, ok := imported.idx.Get(fp)
	require.True(t, ok, "imported index must resolve a chunk the remote's bundles already contain")

	got, err := imported.GetChunk(entry.BundleNumber, entry.ChunkIndex)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestImportRefusesExistingDirectory(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "repo")
	require.NoError(t, Init(dir, testConfig(), false))
	_, err := Import(dir, testConfig(), filepath.Join(root, "remote"), nil)
	require.Error(t, err)
}
