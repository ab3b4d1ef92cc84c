package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParamsDerivesMinMax(t *testing.T) {
	p, err := NewParams(64*1024, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(16*1024), p.Min)
	assert.Equal(t, uint32(256*1024), p.Max)
}

func TestValidateRejectsNonPowerOfTwo(t *testing.T) {
	_, err := NewParams(65*1024, 1)
	assert.Error(t, err)
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	_, err := NewParams(512, 1)
	assert.Error(t, err)

	_, err = NewParams(2*1024*1024, 1)
	assert.Error(t, err)
}

func TestBits(t *testing.T) {
	p, err := NewParams(8*1024, 1)
	require.NoError(t, err)
	assert.Equal(t, uint(13), p.Bits())
}

func TestParseAlgo(t *testing.T) {
	for _, s := range []string{"rabin", "ae", "fastcdc"} {
		_, err := ParseAlgo(s)
		assert.NoError(t, err)
	}
	_, err := ParseAlgo("bogus")
	assert.Error(t, err)
}
