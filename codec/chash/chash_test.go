package chash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumDeterministic(t *testing.T) {
	for _, m := range []Method{Blake2, Murmur3} {
		a, err := Sum(m, []byte("hello world"))
		require.NoError(t, err)
		b, err := Sum(m, []byte("hello world"))
		require.NoError(t, err)
		assert.Equal(t, a, b, "method %s must be deterministic", m)
	}
}

func TestSumDiffersByInput(t *testing.T) {
	a, err := Sum(Blake2, []byte("abc"))
	require.NoError(t, err)
	b, err := Sum(Blake2, []byte("abd"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSumUnknownMethod(t *testing.T) {
	_, err := Sum(Method(99), []byte("x"))
	assert.Error(t, err)
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("blake2")
	require.NoError(t, err)
	assert.Equal(t, Blake2, m)

	_, err = ParseMethod("sha256")
	assert.Error(t, err)
}

func TestMethodString(t *testing.T) {
	assert.Equal(t, "blake2", Blake2.String())
	assert.Equal(t, "murmur3", Murmur3.String())
}
