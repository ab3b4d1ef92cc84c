package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dswd/zvault/codec/chash"
)

func fp(b byte) [chash.Size]byte {
	var out [chash.Size]byte
	out[0] = b
	out[15] = b ^ 0x55
	return out
}

func TestCreateAddGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")
	idx, err := Create(path, chash.Blake2)
	require.NoError(t, err)
	defer idx.Close()

	a, b := fp(1), fp(2)
	require.NoError(t, idx.Add(a, 3, 7))
	require.NoError(t, idx.Add(b, 4, 9))

	e, ok := idx.Get(a)
	require.True(t, ok)
	assert.Equal(t, Entry{BundleNumber: 3, ChunkIndex: 7}, e)

	assert.True(t, idx.Contains(b))
	assert.False(t, idx.Contains(fp(99)))
	assert.EqualValues(t, 2, idx.Len())
}

func TestAddIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")
	idx, err := Create(path, chash.Blake2)
	require.NoError(t, err)
	defer idx.Close()

	a := fp(5)
	require.NoError(t, idx.Add(a, 1, 1))
	require.NoError(t, idx.Add(a, 1, 1))
	assert.EqualValues(t, 1, idx.Len())

	e, ok := idx.Get(a)
	require.True(t, ok)
	assert.Equal(t, Entry{BundleNumber: 1, ChunkIndex: 1}, e)
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")
	idx, err := Create(path, chash.Blake2)
	require.NoError(t, err)
	defer idx.Close()

	a, b, c := fp(1), fp(2), fp(3)
	require.NoError(t, idx.Add(a, 1, 0))
	require.NoError(t, idx.Add(b, 2, 0))
	require.NoError(t, idx.Add(c, 3, 0))

	require.NoError(t, idx.Remove(b))
	assert.False(t, idx.Contains(b))
	assert.True(t, idx.Contains(a))
	assert.True(t, idx.Contains(c))
	assert.EqualValues(t, 2, idx.Len())
}

func TestGrowsPastLoadFactor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")
	idx, err := Create(path, chash.Blake2)
	require.NoError(t, err)
	defer idx.Close()

	startCap := idx.Capacity()
	for i := 0; i < int(float64(startCap)*0.8); i++ {
		var f [chash.Size]byte
		f[0] = byte(i)
		f[1] = byte(i >> 8)
		f[14] = 0xAB
		require.NoError(t, idx.Add(f, uint32(i), 0))
	}
	assert.Greater(t, idx.Capacity(), startCap)
}

func TestRejectsZeroFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")
	idx, err := Create(path, chash.Blake2)
	require.NoError(t, err)
	defer idx.Close()

	err = idx.Add(emptyFingerprint, 1, 1)
	assert.Error(t, err)
}

func TestOpenDetectsDirtyIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")
	idx, err := Create(path, chash.Blake2)
	require.NoError(t, err)
	require.NoError(t, idx.writeHeader(true))
	require.NoError(t, idx.Close())

	_, err = Open(path, chash.Blake2)
	require.Error(t, err)
}

func TestRebuildRepopulates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")
	idx, err := Create(path, chash.Blake2)
	require.NoError(t, err)
	defer idx.Close()

	a := fp(1)
	require.NoError(t, idx.Add(a, 1, 1))

	err = idx.Rebuild(func(add func(fp [chash.Size]byte, bundleNo, chunkIdx uint32) error) error {
		return add(fp(42), 9, 9)
	})
	require.NoError(t, err)

	assert.False(t, idx.Contains(a))
	e, ok := idx.Get(fp(42))
	require.True(t, ok)
	assert.Equal(t, Entry{BundleNumber: 9, ChunkIndex: 9}, e)
}
