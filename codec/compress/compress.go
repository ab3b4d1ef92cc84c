// Package compress implements the four solid-archive compression codecs
// a bundle may use: deflate, brotli, lzma, lz4. Each is a closed, tagged
// variant over the concatenation of every chunk in a bundle — there is
// no per-chunk framing, so repeated patterns across chunks compress
// together (the "solid archive" property the format relies on for its
// ratio).
package compress

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz/lzma"
)

// Method is the wire code for a compression algorithm. The zero value
// is not a valid Method on the wire; absence of compression is
// represented by the BundleInfo's compression field being unset, not by
// a Method value.
type Method uint8

const (
	Deflate Method = iota + 1
	Brotli
	LZMA
	LZ4
)

func (m Method) String() string {
	switch m {
	case Deflate:
		return "deflate"
	case Brotli:
		return "brotli"
	case LZMA:
		return "lzma"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// Codec describes one compression algorithm at a given level.
type Codec struct {
	Method Method
	Level  int
}

// Compress returns the solid-compressed encoding of plaintext.
func (c Codec) Compress(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.newWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("compress: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress fully decodes encoded back to its original plaintext. Used
// both for whole-bundle verification and when reading a single chunk,
// where the caller copies the chunk's range out of the full output.
func (c Codec) Decompress(encoded []byte) ([]byte, error) {
	r, err := c.newReader(bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return out, nil
}

func (c Codec) newWriter(w io.Writer) (io.WriteCloser, error) {
	switch c.Method {
	case Deflate:
		level := c.Level
		if level == 0 {
			level = flate.DefaultCompression
		}
		return flate.NewWriter(w, level)
	case Brotli:
		level := c.Level
		if level == 0 {
			level = brotli.DefaultCompression
		}
		return brotli.NewWriterLevel(w, level), nil
	case LZMA:
		lw, err := lzma.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("compress: lzma writer: %w", err)
		}
		return lw, nil
	case LZ4:
		lw := lz4.NewWriter(w)
		if c.Level > 0 {
			_ = lw.Apply(lz4.CompressionLevelOption(lz4.CompressionLevel(c.Level)))
		}
		return lw, nil
	default:
		return nil, fmt.Errorf("compress: unknown method %d", c.Method)
	}
}

func (c Codec) newReader(r io.Reader) (io.Reader, error) {
	switch c.Method {
	case Deflate:
		return flate.NewReader(r), nil
	case Brotli:
		return brotli.NewReader(r), nil
	case LZMA:
		lr, err := lzma.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("decompress: lzma reader: %w", err)
		}
		return lr, nil
	case LZ4:
		return lz4.NewReader(r), nil
	default:
		return nil, fmt.Errorf("decompress: unknown method %d", c.Method)
	}
}

// ParseMethod maps a config string to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "deflate":
		return Deflate, nil
	case "brotli":
		return Brotli, nil
	case "lzma":
		return LZMA, nil
	case "lz4":
		return LZ4, nil
	default:
		return 0, fmt.Errorf("compress: unknown method %q", s)
	}
}
