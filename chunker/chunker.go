// Package chunker defines the content-defined chunking contract shared
// by the three algorithms (rabin, ae, fastcdc): split a byte stream into
// variable-length chunks so that a local edit to the input only
// perturbs chunk boundaries near the edit.
package chunker

import (
	"bufio"
	"fmt"
	"io"
	"math/bits"
)

// Algo is the wire code for a chunker algorithm, recorded in the
// repository config (not per-bundle: changing it partitions the
// deduplication space, per the repository config invariants).
type Algo uint8

const (
	Rabin Algo = iota
	AE
	FastCDC
)

func (a Algo) String() string {
	switch a {
	case Rabin:
		return "rabin"
	case AE:
		return "ae"
	case FastCDC:
		return "fastcdc"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// ParseAlgo maps a config string to an Algo.
func ParseAlgo(s string) (Algo, error) {
	switch s {
	case "rabin":
		return Rabin, nil
	case "ae":
		return AE, nil
	case "fastcdc":
		return FastCDC, nil
	default:
		return 0, fmt.Errorf("chunker: unknown algorithm %q", s)
	}
}

// Params is the size contract every chunker algorithm must honor:
// target size a power of two in [1KiB, 1MiB], min = target/4,
// max = target*4. The first Min bytes of every chunk are always folded
// into the boundary-detection hash, even during the size-dependent
// "skip ahead" phase of fastcdc/rabin — the spec's historical bug was
// skipping min_size bytes without hashing them at all.
type Params struct {
	// TargetSize selects the chunker's bit width: k = log2(TargetSize).
	TargetSize uint32
	Min        uint32
	Max        uint32
	// Seed parameterizes the underlying rolling hash (gear table seed
	// for fastcdc, buzhash table seed for rabin); two repositories with
	// different seeds do not deduplicate against each other even with
	// otherwise identical parameters.
	Seed uint32
}

// NewParams derives Min/Max from a target size and validates it.
func NewParams(targetSize uint32, seed uint32) (Params, error) {
	p := Params{
		TargetSize: targetSize,
		Min:        targetSize / 4,
		Max:        targetSize * 4,
		Seed:       seed,
	}
	return p, p.Validate()
}

// Validate enforces the target/min/max contract.
func (p Params) Validate() error {
	if p.TargetSize < 1024 || p.TargetSize > 1024*1024 {
		return fmt.Errorf("chunker: target size %d out of range [1KiB, 1MiB]", p.TargetSize)
	}
	if bits.OnesCount32(p.TargetSize) != 1 {
		return fmt.Errorf("chunker: target size %d is not a power of two", p.TargetSize)
	}
	if p.Min != p.TargetSize/4 {
		return fmt.Errorf("chunker: min size %d must equal target/4", p.Min)
	}
	if p.Max != p.TargetSize*4 {
		return fmt.Errorf("chunker: max size %d must equal target*4", p.Max)
	}
	return nil
}

// Bits returns the number of low bits that must be zero in the rolling
// hash for a boundary, derived from TargetSize (k = log2(target)).
func (p Params) Bits() uint {
	return uint(bits.TrailingZeros32(p.TargetSize))
}

// Source is the common streaming contract every algorithm implements.
// Next returns io.EOF once the stream is fully consumed (after emitting
// a final flush chunk for any trailing bytes).
type Source interface {
	Next() ([]byte, error)
}

// NewReader wraps r in a bufio.Reader sized to at least Max, the
// buffering convention all three chunker implementations share so a
// single chunk never requires more than one refill.
func NewReader(r io.Reader, p Params) *bufio.Reader {
	size := int(p.Max) * 2
	if size < 64*1024 {
		size = 64 * 1024
	}
	return bufio.NewReaderSize(r, size)
}
