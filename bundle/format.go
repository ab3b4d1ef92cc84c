// Package bundle implements the on-disk bundle file format: magic,
// a tiny unencrypted header carrying the encryption descriptor, an
// encrypted BundleInfo block, an encrypted ChunkList, and compressed-
// then-encrypted chunk data. Structured records use canonical,
// number-keyed CBOR maps (github.com/fxamacker/cbor/v2 with
// "keyasint" struct tags): readers tolerate absent fields (decoded as
// the Go zero value) and unknown field ids; writers always emit
// canonical key ordering and omit fields equal to their default.
package bundle

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/dswd/zvault/codec/chash"
	"github.com/dswd/zvault/codec/compress"
	"github.com/dswd/zvault/codec/crypto"
)

// Magic is the fixed 8-byte prefix of every bundle file: "zvault" +
// format tag 0x01 + format version 0x01.
var Magic = [8]byte{'z', 'v', 'a', 'u', 'l', 't', 0x01, 0x01}

// Mode distinguishes data bundles (file-content chunks) from meta
// bundles (encoded inodes and chunk lists), allowing separate caching
// policies for each.
type Mode uint8

const (
	Data Mode = iota
	Meta
)

var encMode = cbor.CoreDetEncOptions()

func encOptions() cbor.EncMode {
	m, err := encMode.EncMode()
	if err != nil {
		panic(err)
	}
	return m
}

var decMode = cbor.DecOptions{
	// Absent map keys leave the corresponding struct field at its Go
	// zero value; unknown keys are silently skipped. Both are the
	// library's default behavior for struct targets, which is exactly
	// the forward-compatibility contract the format requires.
}

func decOptions() cbor.DecMode {
	m, err := decMode.DecMode()
	if err != nil {
		panic(err)
	}
	return m
}

// EncryptionDescriptor names the encryption method and public key used
// to seal the BundleInfo/ChunkList/data that follow it. A zero-value
// descriptor (Method == NoEncryption) means the bundle is unencrypted.
type EncryptionDescriptor struct {
	Method    EncMethod `cbor:"0,keyasint,omitempty"`
	PublicKey []byte    `cbor:"1,keyasint,omitempty"`
}

// EncMethod is the wire code for an encryption method.
type EncMethod uint8

const (
	NoEncryption EncMethod = iota
	SealedBox
)

// BundleHeader is the small, unencrypted part of a bundle: whether (and
// how) the records that follow are encrypted, and the size of the
// following BundleInfo block so a reader can locate the ChunkList
// without decoding BundleInfo itself.
type BundleHeader struct {
	Encryption EncryptionDescriptor `cbor:"0,keyasint,omitempty"`
	InfoSize   uint32               `cbor:"1,keyasint,omitempty"`
}

// CompressionDescriptor names the compression method and level applied
// to the chunk data (and only the chunk data — the chunk list and info
// block are never compressed, only optionally encrypted).
type CompressionDescriptor struct {
	Method compress.Method `cbor:"0,keyasint,omitempty"`
	Level  int32           `cbor:"1,keyasint,omitempty"`
}

// BundleInfo is the bundle's metadata block: identity, mode, codec
// selection, and size accounting. Field ids 3 and 5 are permanently
// retired (see DESIGN.md); readers must tolerate the gap, writers must
// never reuse them.
type BundleInfo struct {
	ID            [16]byte               `cbor:"0,keyasint,omitempty"`
	Mode          Mode                   `cbor:"1,keyasint,omitempty"`
	Compression   *CompressionDescriptor `cbor:"2,keyasint,omitempty"`
	HashMethod    chash.Method           `cbor:"4,keyasint,omitempty"`
	RawSize       uint64                 `cbor:"6,keyasint,omitempty"`
	EncodedSize   uint64                 `cbor:"7,keyasint,omitempty"`
	ChunkCount    uint32                 `cbor:"8,keyasint,omitempty"`
	ChunkListSize uint32                 `cbor:"9,keyasint,omitempty"`
	CreatedAt     time.Time              `cbor:"10,keyasint,omitempty"`
}

// ChunkList is an ordered sequence of (fingerprint, size) pairs, each
// encoded as exactly 20 bytes (16-byte fingerprint + 4-byte
// little-endian size), concatenated with no separator. This wire
// representation is deliberately not CBOR: it is used both standalone
// (inline inside inodes) and inside a bundle, and its fixed per-entry
// width lets a reader seek directly to entry i without parsing a
// variable-length encoding.
type ChunkList []ChunkListEntry

// ChunkListEntry is a single (fingerprint, size) pair.
type ChunkListEntry struct {
	Fingerprint [chash.Size]byte
	Size        uint32
}

// EntrySize is the fixed per-entry width of a marshaled ChunkList.
const EntrySize = chash.Size + 4

// Marshal encodes a ChunkList to its fixed-width byte representation.
func (cl ChunkList) Marshal() []byte {
	out := make([]byte, len(cl)*EntrySize)
	for i, e := range cl {
		off := i * EntrySize
		copy(out[off:off+chash.Size], e.Fingerprint[:])
		putUint32(out[off+chash.Size:off+EntrySize], e.Size)
	}
	return out
}

// UnmarshalChunkList decodes a fixed-width ChunkList byte
// representation. It returns an error if the input length is not a
// multiple of EntrySize.
func UnmarshalChunkList(b []byte) (ChunkList, error) {
	if len(b)%EntrySize != 0 {
		return nil, fmt.Errorf("bundle: chunk list length %d not a multiple of %d", len(b), EntrySize)
	}
	n := len(b) / EntrySize
	out := make(ChunkList, n)
	for i := 0; i < n; i++ {
		off := i * EntrySize
		copy(out[i].Fingerprint[:], b[off:off+chash.Size])
		out[i].Size = getUint32(b[off+chash.Size : off+EntrySize])
	}
	return out, nil
}

// TotalSize returns the sum of every entry's chunk size (RawSize).
func (cl ChunkList) TotalSize() uint64 {
	var total uint64
	for _, e := range cl {
		total += uint64(e.Size)
	}
	return total
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// marshalCBOR encodes v (a *BundleHeader, *BundleInfo, or similar
// record) canonically.
func marshalCBOR(v interface{}) ([]byte, error) {
	return encOptions().Marshal(v)
}

func unmarshalCBOR(data []byte, v interface{}) error {
	return decOptions().Unmarshal(data, v)
}

// keyForEncryption resolves a bundle's effective encryption keys from
// its header, or reports NoEncryption if the bundle is plaintext.
func keyForEncryption(hdr BundleHeader) (crypto.KeyPair, bool) {
	if hdr.Encryption.Method == NoEncryption {
		return crypto.KeyPair{}, false
	}
	var kp crypto.KeyPair
	copy(kp.Public[:], hdr.Encryption.PublicKey)
	return kp, true
}
