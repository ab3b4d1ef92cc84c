// Package fastcdc adapts github.com/kalbasit/fastcdc's gear-hash
// chunker to the repository's chunker.Source contract. fastcdc's own
// two mask thresholds (a small mask across [min, norm) and a large mask
// across [norm, max)) are exactly the "normal and strict mask
// thresholds" the component design calls for.
package fastcdc

import (
	"io"

	upstream "github.com/kalbasit/fastcdc"

	"github.com/dswd/zvault/chunker"
)

// Chunker streams content-defined chunks using the gear-hash algorithm.
type Chunker struct {
	inner *upstream.Chunker
}

// New builds a fastcdc chunker reading from r under the given params.
func New(r io.Reader, p chunker.Params) (*Chunker, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	inner, err := upstream.NewChunker(r,
		upstream.WithMinSize(p.Min),
		upstream.WithTargetSize(p.TargetSize),
		upstream.WithMaxSize(p.Max),
		upstream.WithSeed(p.Seed),
	)
	if err != nil {
		return nil, err
	}
	return &Chunker{inner: inner}, nil
}

// Next returns the next chunk, or io.EOF once the stream is exhausted.
// The returned slice is a fresh copy that the caller may keep.
func (c *Chunker) Next() ([]byte, error) {
	chunk, err := c.inner.Next()
	if err != nil {
		return nil, err
	}
	if len(chunk.Data) == 0 {
		return nil, io.EOF
	}
	out := make([]byte, len(chunk.Data))
	copy(out, chunk.Data)
	return out, nil
}

var _ chunker.Source = (*Chunker)(nil)
