// Package chash provides the pluggable 128-bit fingerprint hash family
// used for both chunk fingerprints and bundle ids: blake2 (Blake2b
// truncated to 128 bits) and murmur3 (128-bit x64 variant). Both are
// closed, compile-time-registered variants selected by a one-byte wire
// code recorded in each bundle's BundleInfo (its hash method field).
package chash

import (
	"fmt"

	"github.com/codahale/blake2"
	"github.com/spaolacci/murmur3"
)

// Method is the wire code for a fingerprint hash algorithm.
type Method uint8

const (
	Blake2 Method = iota
	Murmur3
)

func (m Method) String() string {
	switch m {
	case Blake2:
		return "blake2"
	case Murmur3:
		return "murmur3"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// Size is the fixed fingerprint length in bytes for every method.
const Size = 16

// Sum computes the 128-bit fingerprint of data using the given method.
func Sum(m Method, data []byte) ([Size]byte, error) {
	switch m {
	case Blake2:
		return sumBlake2(data)
	case Murmur3:
		return sumMurmur3(data), nil
	default:
		return [Size]byte{}, fmt.Errorf("chash: unknown method %d", m)
	}
}

func sumBlake2(data []byte) ([Size]byte, error) {
	h, err := blake2.New(&blake2.Config{Size: Size})
	if err != nil {
		return [Size]byte{}, fmt.Errorf("chash: blake2 init: %w", err)
	}
	if _, err := h.Write(data); err != nil {
		return [Size]byte{}, fmt.Errorf("chash: blake2 write: %w", err)
	}
	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

func sumMurmur3(data []byte) [Size]byte {
	hi, lo := murmur3.Sum128(data)
	var out [Size]byte
	putUint64(out[0:8], hi)
	putUint64(out[8:16], lo)
	return out
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// ParseMethod maps a config string ("blake2", "murmur3") to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "blake2":
		return Blake2, nil
	case "murmur3":
		return Murmur3, nil
	default:
		return 0, fmt.Errorf("chash: unknown hash method %q", s)
	}
}
