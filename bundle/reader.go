package bundle

import (
	"bytes"
	"fmt"

	"github.com/dswd/zvault/codec/compress"
	"github.com/dswd/zvault/codec/crypto"
)

// Reader decodes a sealed bundle file. It caches the decoded chunk list
// so repeated Chunk() calls against the same bundle don't re-decrypt or
// re-parse it.
type Reader struct {
	raw        []byte
	hdr        BundleHeader
	info       BundleInfo
	chunkList  ChunkList
	dataOffset int // offset of encoded chunk data within raw
	keys       *crypto.KeyPair
}

// NewReader parses a bundle's header and info block (the "small,
// bounded" reads §4.3 calls for) without yet decoding the chunk list or
// any chunk data. keys is required if the bundle is encrypted, because
// the info block is then sealed too; it may be nil only for an
// unencrypted bundle.
func NewReader(raw []byte, keys *crypto.KeyPair) (*Reader, error) {
	if len(raw) < len(Magic)+4 {
		return nil, fmt.Errorf("bundle: truncated file (%d bytes)", len(raw))
	}
	if !bytes.Equal(raw[:len(Magic)], Magic[:]) {
		return nil, fmt.Errorf("bundle: bad magic")
	}
	pos := len(Magic)

	hdrLen := getUint32(raw[pos : pos+4])
	pos += 4
	if pos+int(hdrLen) > len(raw) {
		return nil, fmt.Errorf("bundle: truncated header")
	}
	var hdr BundleHeader
	if err := unmarshalCBOR(raw[pos:pos+int(hdrLen)], &hdr); err != nil {
		return nil, fmt.Errorf("bundle: decoding header: %w", err)
	}
	pos += int(hdrLen)

	if pos+int(hdr.InfoSize) > len(raw) {
		return nil, fmt.Errorf("bundle: truncated info block")
	}
	infoBytes := raw[pos : pos+int(hdr.InfoSize)]
	pos += int(hdr.InfoSize)

	r := &Reader{raw: raw, hdr: hdr, keys: keys}

	if hdr.Encryption.Method != NoEncryption {
		if keys == nil {
			return nil, fmt.Errorf("bundle: encrypted bundle requires a secret key")
		}
		opened, err := crypto.Open(infoBytes, *keys)
		if err != nil {
			return nil, fmt.Errorf("bundle: opening info block: %w", err)
		}
		infoBytes = opened
	}

	var info BundleInfo
	if err := unmarshalCBOR(infoBytes, &info); err != nil {
		return nil, fmt.Errorf("bundle: decoding info: %w", err)
	}
	r.info = info
	r.dataOffset = pos + int(info.ChunkListSize)
	if r.dataOffset > len(raw) {
		return nil, fmt.Errorf("bundle: truncated chunk list")
	}
	return r, nil
}

// Info returns the bundle's metadata block.
func (r *Reader) Info() BundleInfo { return r.info }

// ChunkList decrypts (if needed) and decodes the bundle's chunk list,
// caching the result.
func (r *Reader) ChunkList() (ChunkList, error) {
	if r.chunkList != nil {
		return r.chunkList, nil
	}
	pos := r.infoEnd()
	clBytes := r.raw[pos:r.dataOffset]

	if r.hdr.Encryption.Method != NoEncryption {
		if r.keys == nil {
			return nil, fmt.Errorf("bundle: encrypted bundle requires a secret key")
		}
		opened, err := crypto.Open(clBytes, *r.keys)
		if err != nil {
			return nil, fmt.Errorf("bundle: opening chunk list: %w", err)
		}
		clBytes = opened
	}

	cl, err := UnmarshalChunkList(clBytes)
	if err != nil {
		return nil, fmt.Errorf("bundle: decoding chunk list: %w", err)
	}
	if uint32(len(cl)) != r.info.ChunkCount {
		return nil, fmt.Errorf("bundle: chunk count mismatch: header says %d, list has %d", r.info.ChunkCount, len(cl))
	}
	r.chunkList = cl
	return cl, nil
}

// infoEnd returns the raw-buffer offset just past the (possibly
// encrypted) info block, i.e. where the chunk list begins.
func (r *Reader) infoEnd() int {
	return r.dataOffset - int(r.info.ChunkListSize)
}

// Chunk decodes and returns the i'th chunk's raw bytes. Each call
// decrypts and decompresses the whole data section and copies out the
// chunk's range; only the chunk list is cached on the Reader.
func (r *Reader) Chunk(i int, comp *compress.Codec) ([]byte, error) {
	cl, err := r.ChunkList()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(cl) {
		return nil, fmt.Errorf("bundle: chunk index %d out of range [0,%d)", i, len(cl))
	}

	encodedData := r.raw[r.dataOffset:]
	if r.hdr.Encryption.Method != NoEncryption {
		if r.keys == nil {
			return nil, fmt.Errorf("bundle: encrypted bundle requires a secret key")
		}
		opened, err := crypto.Open(encodedData, *r.keys)
		if err != nil {
			return nil, fmt.Errorf("bundle: opening chunk data: %w", err)
		}
		encodedData = opened
	}

	var plain []byte
	if comp != nil {
		plain, err = comp.Decompress(encodedData)
		if err != nil {
			return nil, fmt.Errorf("bundle: decompressing chunk data: %w", err)
		}
	} else {
		plain = encodedData
	}

	var start int
	for j := 0; j < i; j++ {
		start += int(cl[j].Size)
	}
	end := start + int(cl[i].Size)
	if end > len(plain) {
		return nil, fmt.Errorf("bundle: chunk %d extends past decoded data (%d > %d)", i, end, len(plain))
	}
	out := make([]byte, end-start)
	copy(out, plain[start:end])
	return out, nil
}
