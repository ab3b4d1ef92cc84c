package bundle

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dswd/zvault/codec/chash"
	"github.com/dswd/zvault/codec/compress"
	"github.com/dswd/zvault/codec/crypto"
)

// WriterConfig selects the codecs a Writer seals a bundle with. A nil
// Compression means the chunk data is stored uncompressed; a nil
// EncryptionKey means the bundle is unencrypted.
type WriterConfig struct {
	Mode          Mode
	HashMethod    chash.Method
	Compression   *compress.Codec
	EncryptionKey *[crypto.KeySize]byte // recipient public key, or nil
}

// Writer accumulates chunks for one bundle and produces the sealed
// bundle bytes on Finish. It does not itself decide when a bundle is
// full — that policy belongs to the repository engine.
type Writer struct {
	cfg    WriterConfig
	id     [16]byte
	chunks ChunkList
	data   bytes.Buffer
}

// NewWriter starts a new bundle with a fresh random id.
func NewWriter(cfg WriterConfig) *Writer {
	var id [16]byte
	copy(id[:], uuid.New()[:])
	return &Writer{cfg: cfg, id: id}
}

// AddChunk appends one chunk's bytes to the bundle, returning its index
// within the bundle's chunk list.
func (w *Writer) AddChunk(fingerprint [chash.Size]byte, data []byte) (int, error) {
	idx := len(w.chunks)
	w.chunks = append(w.chunks, ChunkListEntry{Fingerprint: fingerprint, Size: uint32(len(data))})
	if _, err := w.data.Write(data); err != nil {
		return 0, fmt.Errorf("bundle: buffering chunk: %w", err)
	}
	return idx, nil
}

// RawSize returns the total uncompressed size of chunks added so far;
// used by the repository engine to decide when a bundle is full.
func (w *Writer) RawSize() uint64 {
	return uint64(w.data.Len())
}

// ChunkCount returns the number of chunks added so far.
func (w *Writer) ChunkCount() int {
	return len(w.chunks)
}

// ID returns the bundle's id.
func (w *Writer) ID() [16]byte {
	return w.id
}

// Finish seals the bundle: compresses the chunk data, encrypts the
// chunk list and data (and info block) if configured, and returns the
// complete bundle file bytes.
func (w *Writer) Finish() ([]byte, error) {
	rawData := w.data.Bytes()
	encodedData := rawData
	var compDesc *CompressionDescriptor
	if w.cfg.Compression != nil {
		compressed, err := w.cfg.Compression.Compress(rawData)
		if err != nil {
			return nil, fmt.Errorf("bundle: compressing chunk data: %w", err)
		}
		encodedData = compressed
		compDesc = &CompressionDescriptor{Method: w.cfg.Compression.Method, Level: int32(w.cfg.Compression.Level)}
	}

	chunkListBytes := w.chunks.Marshal()

	hdr := BundleHeader{}
	if w.cfg.EncryptionKey != nil {
		hdr.Encryption = EncryptionDescriptor{Method: SealedBox, PublicKey: w.cfg.EncryptionKey[:]}
		sealedData, err := crypto.Seal(encodedData, *w.cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("bundle: sealing chunk data: %w", err)
		}
		encodedData = sealedData
		sealedList, err := crypto.Seal(chunkListBytes, *w.cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("bundle: sealing chunk list: %w", err)
		}
		chunkListBytes = sealedList
	}

	info := BundleInfo{
		ID:            w.id,
		Mode:          w.cfg.Mode,
		Compression:   compDesc,
		HashMethod:    w.cfg.HashMethod,
		RawSize:       uint64(len(rawData)),
		EncodedSize:   uint64(len(encodedData)),
		ChunkCount:    uint32(len(w.chunks)),
		ChunkListSize: uint32(len(chunkListBytes)),
		CreatedAt:     time.Now().UTC(),
	}
	infoBytes, err := marshalCBOR(&info)
	if err != nil {
		return nil, fmt.Errorf("bundle: encoding info: %w", err)
	}
	if w.cfg.EncryptionKey != nil {
		infoBytes, err = crypto.Seal(infoBytes, *w.cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("bundle: sealing info: %w", err)
		}
	}

	hdr.InfoSize = uint32(len(infoBytes))
	hdrBytes, err := marshalCBOR(&hdr)
	if err != nil {
		return nil, fmt.Errorf("bundle: encoding header: %w", err)
	}

	var out bytes.Buffer
	out.Write(Magic[:])
	writeUvarintPrefixed(&out, hdrBytes)
	out.Write(infoBytes)
	out.Write(chunkListBytes)
	out.Write(encodedData)
	return out.Bytes(), nil
}

// writeUvarintPrefixed writes len(b) as a 4-byte little-endian prefix
// followed by b, so a reader can skip the (small, fixed-overhead)
// header without decoding it.
func writeUvarintPrefixed(buf *bytes.Buffer, b []byte) {
	var lenBytes [4]byte
	putUint32(lenBytes[:], uint32(len(b)))
	buf.Write(lenBytes[:])
	buf.Write(b)
}
