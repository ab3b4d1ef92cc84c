package rabin

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dswd/zvault/chunker"
)

func chunkAll(t *testing.T, data []byte, p chunker.Params) [][]byte {
	t.Helper()
	c, err := New(bytes.NewReader(data), p)
	require.NoError(t, err)
	var out [][]byte
	for {
		chunk, err := c.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		cp := make([]byte, len(chunk))
		copy(cp, chunk)
		out = append(out, cp)
	}
	return out
}

func testParams(t *testing.T) chunker.Params {
	t.Helper()
	p, err := chunker.NewParams(8*1024, 42)
	require.NoError(t, err)
	return p
}

func randomData(seed int64, n int) []byte {
	r := rand.New(rand.NewSource(seed))
	buf := make([]byte, n)
	r.Read(buf)
	return buf
}

func TestDeterministic(t *testing.T) {
	data := randomData(1, 512*1024)
	p := testParams(t)

	a := chunkAll(t, data, p)
	b := chunkAll(t, data, p)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i], b[i])
	}
}

func TestChunkSizeBounds(t *testing.T) {
	data := randomData(2, 1024*1024)
	p := testParams(t)
	chunks := chunkAll(t, data, p)

	var total int
	for i, c := range chunks {
		total += len(c)
		if i != len(chunks)-1 {
			assert.LessOrEqual(t, len(c), int(p.Max))
		}
	}
	assert.Equal(t, len(data), total)
}

func TestFlushEmitsRemainder(t *testing.T) {
	p := testParams(t)
	data := randomData(3, int(p.Min)/2)
	chunks := chunkAll(t, data, p)
	require.Len(t, chunks, 1)
	assert.Equal(t, data, chunks[0])
}
