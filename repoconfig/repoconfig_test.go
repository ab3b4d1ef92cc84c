package repoconfig

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dswd/zvault/chunker"
	"github.com/dswd/zvault/codec/chash"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	c := Default()
	c.HashMethod = chash.Murmur3
	require.NoError(t, Save(path, c))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)
}

func TestSaveRefusesToOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, Save(path, Default()))
	err := Save(path, Default())
	assert.Error(t, err)
}

func TestOverwriteReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, Save(path, Default()))

	changed := Default()
	changed.BundleSize = 1 << 20
	require.NoError(t, Overwrite(path, changed))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 1<<20, loaded.BundleSize)
}

func TestChunkerParamsDerivesFromChunkSize(t *testing.T) {
	c := Default()
	c.ChunkSize = 8 << 10
	p, err := c.ChunkerParams()
	require.NoError(t, err)
	assert.Equal(t, chunker.Params{TargetSize: 8 << 10, Min: 2 << 10, Max: 32 << 10}, p)
}
