package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripAllMethods(t *testing.T) {
	plaintext := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 200)

	for _, m := range []Method{Deflate, Brotli, LZMA, LZ4} {
		m := m
		t.Run(m.String(), func(t *testing.T) {
			codec := Codec{Method: m}
			encoded, err := codec.Compress(plaintext)
			require.NoError(t, err)

			decoded, err := codec.Decompress(encoded)
			require.NoError(t, err)
			assert.Equal(t, plaintext, decoded)
		})
	}
}

func TestRoundTripEmpty(t *testing.T) {
	for _, m := range []Method{Deflate, Brotli, LZMA, LZ4} {
		codec := Codec{Method: m}
		encoded, err := codec.Compress(nil)
		require.NoError(t, err)
		decoded, err := codec.Decompress(encoded)
		require.NoError(t, err)
		assert.Empty(t, decoded)
	}
}

func TestParseMethodUnknown(t *testing.T) {
	_, err := ParseMethod("zstd")
	assert.Error(t, err)
}
