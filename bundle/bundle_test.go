package bundle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dswd/zvault/codec/chash"
	"github.com/dswd/zvault/codec/compress"
	"github.com/dswd/zvault/codec/crypto"
)

func fp(b byte) [chash.Size]byte {
	var out [chash.Size]byte
	out[0] = b
	return out
}

func TestWriteReadRoundTripPlain(t *testing.T) {
	w := NewWriter(WriterConfig{Mode: Data, HashMethod: chash.Blake2})
	_, err := w.AddChunk(fp(1), []byte("hello"))
	require.NoError(t, err)
	_, err = w.AddChunk(fp(2), []byte("goodbye world"))
	require.NoError(t, err)

	raw, err := w.Finish()
	require.NoError(t, err)

	r, err := NewReader(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, w.ID(), r.Info().ID)
	assert.Equal(t, uint32(2), r.Info().ChunkCount)

	cl, err := r.ChunkList()
	require.NoError(t, err)
	require.Len(t, cl, 2)
	assert.Equal(t, uint32(5), cl[0].Size)

	c0, err := r.Chunk(0, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(c0))

	c1, err := r.Chunk(1, nil)
	require.NoError(t, err)
	assert.Equal(t, "goodbye world", string(c1))
}

func TestWriteReadRoundTripCompressed(t *testing.T) {
	comp := &compress.Codec{Method: compress.Deflate}
	w := NewWriter(WriterConfig{Mode: Data, HashMethod: chash.Blake2, Compression: comp})
	payload := []byte("repeated repeated repeated repeated data")
	_, err := w.AddChunk(fp(3), payload)
	require.NoError(t, err)

	raw, err := w.Finish()
	require.NoError(t, err)

	r, err := NewReader(raw, nil)
	require.NoError(t, err)
	c0, err := r.Chunk(0, comp)
	require.NoError(t, err)
	assert.Equal(t, payload, c0)
}

func TestWriteReadRoundTripEncrypted(t *testing.T) {
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	comp := &compress.Codec{Method: compress.LZ4}
	w := NewWriter(WriterConfig{
		Mode:          Meta,
		HashMethod:    chash.Murmur3,
		Compression:   comp,
		EncryptionKey: &keys.Public,
	})
	_, err = w.AddChunk(fp(9), []byte("secret metadata chunk"))
	require.NoError(t, err)

	raw, err := w.Finish()
	require.NoError(t, err)

	// Without the secret key, decoding must fail.
	_, err = NewReader(raw, nil)
	assert.Error(t, err)

	r, err := NewReader(raw, &keys)
	require.NoError(t, err)
	assert.Equal(t, Meta, r.Info().Mode)

	c0, err := r.Chunk(0, comp)
	require.NoError(t, err)
	assert.Equal(t, "secret metadata chunk", string(c0))
}

func TestChunkListMarshalRoundTrip(t *testing.T) {
	cl := ChunkList{
		{Fingerprint: fp(1), Size: 100},
		{Fingerprint: fp(2), Size: 200},
	}
	b := cl.Marshal()
	assert.Len(t, b, 2*EntrySize)

	decoded, err := UnmarshalChunkList(b)
	require.NoError(t, err)
	assert.Equal(t, cl, decoded)
	assert.EqualValues(t, 300, decoded.TotalSize())
}

func TestUnmarshalChunkListBadLength(t *testing.T) {
	_, err := UnmarshalChunkList([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestReaderRejectsBadMagic(t *testing.T) {
	_, err := NewReader([]byte("not a bundle at all, too short"), nil)
	assert.Error(t, err)
}
