// Package ae implements the "ae" (asymmetric extremum) content-defined
// chunking algorithm: once a candidate maximum of a simple rolling
// checksum has survived unbeaten for a full fixed-size window, the chunk
// ends at the byte that completes that window. This algorithm is specific to the zVault lineage; no
// published Go module implements it, so it is hand-rolled here directly
// against the component design's description rather than adapted from a
// dependency (see DESIGN.md for the stdlib-only justification).
package ae

import (
	"io"

	"github.com/dswd/zvault/chunker"
)

// windowDivisor sets the asymmetric window length relative to the
// target size: a window of target/windowDivisor bytes must pass
// without a new local maximum before the current maximum is declared
// a boundary.
const windowDivisor = 8

// Chunker streams content-defined chunks using asymmetric extremum
// detection.
type Chunker struct {
	br     io.Reader
	p      chunker.Params
	window uint32
	buf    []byte
	eof    bool
}

// New builds an ae chunker reading from r under the given params.
func New(r io.Reader, p chunker.Params) (*Chunker, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	window := p.TargetSize / windowDivisor
	if window == 0 {
		window = 1
	}
	return &Chunker{
		br:     chunker.NewReader(r, p),
		p:      p,
		window: window,
	}, nil
}

// Next returns the next chunk, or io.EOF once the stream is exhausted.
func (c *Chunker) Next() ([]byte, error) {
	if c.eof && len(c.buf) == 0 {
		return nil, io.EOF
	}

	chunkBuf := make([]byte, 0, c.p.TargetSize)
	var maxVal uint32
	var sinceMax uint32
	// rollSum is a small multiplicative accumulator over every byte
	// since the chunk began; it need not be cryptographic, only
	// content-sensitive enough to locate local extrema.
	var rollSum uint32

	for {
		if len(c.buf) == 0 {
			if c.eof {
				break
			}
			tmp := make([]byte, int(c.p.Max))
			n, err := c.br.Read(tmp)
			if n > 0 {
				c.buf = tmp[:n]
			}
			if err != nil {
				c.eof = true
				if n == 0 {
					break
				}
			}
			continue
		}

		b := c.buf[0]
		c.buf = c.buf[1:]
		chunkBuf = append(chunkBuf, b)

		rollSum = rollSum*uint32(c.p.Seed|1) + uint32(b) + 1

		size := uint32(len(chunkBuf))

		// The first Min bytes always contribute to rollSum above, but
		// a boundary can't be declared until Min is reached.
		if size < c.p.Min {
			continue
		}
		if size >= c.p.Max {
			return chunkBuf, nil
		}

		if rollSum > maxVal {
			maxVal = rollSum
			sinceMax = 0
		} else {
			sinceMax++
			if sinceMax >= c.window {
				return chunkBuf, nil
			}
		}
	}

	if len(chunkBuf) == 0 {
		return nil, io.EOF
	}
	return chunkBuf, nil
}

var _ chunker.Source = (*Chunker)(nil)
