// Package manifest encodes and decodes the two record types a backup
// is built from: Inode (one filesystem entry) and Backup (the small,
// standalone file referencing a backup's root chunk list). Both are
// canonical CBOR, matching the bundle package's wire conventions, but
// are never themselves stored inside a bundle — Backup records live as
// their own files under <repo>/backups/, per spec.md §4.7.
package manifest

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/dswd/zvault/bundle"
	"github.com/dswd/zvault/codec/crypto"
	"github.com/dswd/zvault/repoconfig"
	"github.com/dswd/zvault/zerr"
)

// BackupMagic is the fixed prefix of a backup file: "zvault" + record
// tag 0x03 + format version 0x01.
var BackupMagic = [8]byte{'z', 'v', 'a', 'u', 'l', 't', 0x03, 0x01}

// FileType enumerates the kinds of filesystem entries an Inode can
// describe.
type FileType uint8

const (
	File FileType = iota
	Directory
	Symlink
	BlockDevice
	CharDevice
	NamedPipe
)

func (t FileType) String() string {
	switch t {
	case File:
		return "file"
	case Directory:
		return "directory"
	case Symlink:
		return "symlink"
	case BlockDevice:
		return "block-device"
	case CharDevice:
		return "char-device"
	case NamedPipe:
		return "named-pipe"
	default:
		return "unknown"
	}
}

// DataRef points at an inode's file content: a chunk list, either
// stored inline (nesting 0, the common case for small-to-medium files)
// or one/two levels indirect, where the referenced bytes are
// themselves a chunk list of chunk lists. spec.md §3 requires nesting
// be chosen so an inode's encoding stays near 1 KiB regardless of file
// size.
type DataRef struct {
	Nesting uint8  `cbor:"0,keyasint,omitempty"`
	Bytes   []byte `cbor:"1,keyasint,omitempty"`
}

// MaxNesting is the highest DataRef.Nesting value the format allows.
const MaxNesting = 2

// Device holds the major/minor numbers for a BlockDevice/CharDevice
// inode.
type Device struct {
	Major uint32 `cbor:"0,keyasint,omitempty"`
	Minor uint32 `cbor:"1,keyasint,omitempty"`
}

// Inode describes one filesystem entry. Children keys are names; their
// values are the marshaled ChunkList bytes of the child Inode's own
// encoding (never a back-pointer, so the tree cannot cycle by
// construction — spec.md §9).
type Inode struct {
	Name        string            `cbor:"0,keyasint,omitempty"`
	Size        uint64            `cbor:"1,keyasint,omitempty"`
	Type        FileType          `cbor:"2,keyasint,omitempty"`
	Mode        uint32            `cbor:"4,keyasint,omitempty"`
	UID         uint32            `cbor:"6,keyasint,omitempty"`
	GID         uint32            `cbor:"7,keyasint,omitempty"`
	User        string            `cbor:"8,keyasint,omitempty"`
	Group       string            `cbor:"9,keyasint,omitempty"`
	ModTime     time.Time         `cbor:"10,keyasint,omitempty"`
	Symlink     string            `cbor:"11,keyasint,omitempty"`
	Data        *DataRef          `cbor:"12,keyasint,omitempty"`
	Children    map[string][]byte `cbor:"13,keyasint,omitempty"`
	NumFiles    uint64            `cbor:"14,keyasint,omitempty"`
	NumDirs     uint64            `cbor:"15,keyasint,omitempty"`
	CumSize     uint64            `cbor:"16,keyasint,omitempty"`
	XAttrs      map[string][]byte `cbor:"17,keyasint,omitempty"`
	Device      *Device           `cbor:"18,keyasint,omitempty"`
}

// Validate checks the nesting bound. It does not compare a child's
// stored Name against the map key it is filed under in its parent's
// Children.
func (n *Inode) Validate() error {
	if n.Data != nil && n.Data.Nesting > MaxNesting {
		return fmt.Errorf("manifest: inode %q nesting %d exceeds max %d", n.Name, n.Data.Nesting, MaxNesting)
	}
	return nil
}

// canonicalEnc encodes with sorted map keys (RFC 8949 core
// deterministic encoding), as the bundle package does.
var canonicalEnc = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Marshal encodes an Inode to canonical CBOR.
func (n *Inode) Marshal() ([]byte, error) {
	b, err := canonicalEnc.Marshal(n)
	if err != nil {
		return nil, zerr.Wrap(err, zerr.Config, "encoding inode")
	}
	return b, nil
}

// UnmarshalInode decodes an Inode from canonical CBOR.
func UnmarshalInode(b []byte) (*Inode, error) {
	var n Inode
	if err := cbor.Unmarshal(b, &n); err != nil {
		return nil, zerr.Wrap(err, zerr.BackupCorrupt, "decoding inode")
	}
	return &n, nil
}

// Backup is the small file persisted outside the bundle store
// referencing a completed backup's root. Its Root field is a marshaled
// bundle.ChunkList pointing at the root directory Inode's encoded
// bytes.
type Backup struct {
	Root         []byte            `cbor:"0,keyasint,omitempty"`
	TotalSize    uint64            `cbor:"1,keyasint,omitempty"`
	BundleCount  uint32            `cbor:"2,keyasint,omitempty"`
	ChunkCount   uint64            `cbor:"4,keyasint,omitempty"`
	AvgChunkSize uint64            `cbor:"6,keyasint,omitempty"`
	StartedAt    time.Time         `cbor:"7,keyasint,omitempty"`
	Duration     time.Duration     `cbor:"8,keyasint,omitempty"`
	NumFiles     uint64            `cbor:"9,keyasint,omitempty"`
	NumDirs      uint64            `cbor:"10,keyasint,omitempty"`
	Host         string            `cbor:"11,keyasint,omitempty"`
	Path         string            `cbor:"12,keyasint,omitempty"`
	Config       repoconfig.Config `cbor:"13,keyasint,omitempty"`
}

// RootChunkList decodes Root as a bundle.ChunkList.
func (b *Backup) RootChunkList() (bundle.ChunkList, error) {
	return bundle.UnmarshalChunkList(b.Root)
}

// BackupHeader is the small, unencrypted part of a backup file:
// whether (and how) the Backup record that follows is sealed. Reusing
// bundle.EncryptionDescriptor keeps the two formats' encryption
// bookkeeping identical rather than inventing a second notion of it.
type BackupHeader struct {
	Encryption bundle.EncryptionDescriptor `cbor:"0,keyasint,omitempty"`
}

// Marshal encodes a Backup to its on-disk representation: BackupMagic,
// a length-prefixed BackupHeader, then the Backup record — sealed
// under encKey if given, plaintext CBOR otherwise. spec.md §4.7 names
// the root chunk-list reference, the repo config snapshot, and the
// source host/path as part of this record, all of which must be
// unreadable without the repository's secret key in an encrypted
// repository, exactly as a bundle's BundleInfo and ChunkList are.
func (b *Backup) Marshal(encKey *[crypto.KeySize]byte) ([]byte, error) {
	body, err := canonicalEnc.Marshal(b)
	if err != nil {
		return nil, zerr.Wrap(err, zerr.Config, "encoding backup")
	}

	var hdr BackupHeader
	if encKey != nil {
		hdr.Encryption = bundle.EncryptionDescriptor{Method: bundle.SealedBox, PublicKey: encKey[:]}
		sealed, err := crypto.Seal(body, *encKey)
		if err != nil {
			return nil, zerr.Wrap(err, zerr.Config, "sealing backup")
		}
		body = sealed
	}

	hdrBytes, err := canonicalEnc.Marshal(&hdr)
	if err != nil {
		return nil, zerr.Wrap(err, zerr.Config, "encoding backup header")
	}

	out := make([]byte, 0, len(BackupMagic)+4+len(hdrBytes)+len(body))
	out = append(out, BackupMagic[:]...)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(hdrBytes)))
	out = append(out, lenBuf[:]...)
	out = append(out, hdrBytes...)
	out = append(out, body...)
	return out, nil
}

// UnmarshalBackup decodes a Backup file's bytes, validating the magic
// prefix and opening the record under keys if the header says it is
// sealed. keys may be nil for an unencrypted repository; decoding a
// sealed record without keys fails with zerr.Config.
func UnmarshalBackup(raw []byte, keys *crypto.KeyPair) (*Backup, error) {
	if len(raw) < len(BackupMagic)+4 {
		return nil, zerr.New(zerr.BackupCorrupt, "backup file truncated before header")
	}
	for i := range BackupMagic {
		if raw[i] != BackupMagic[i] {
			return nil, zerr.New(zerr.BackupCorrupt, "backup file bad magic")
		}
	}
	rest := raw[len(BackupMagic):]
	hdrLen := binary.LittleEndian.Uint32(rest[:4])
	rest = rest[4:]
	if uint64(hdrLen) > uint64(len(rest)) {
		return nil, zerr.New(zerr.BackupCorrupt, "backup file truncated before header body")
	}

	var hdr BackupHeader
	if err := cbor.Unmarshal(rest[:hdrLen], &hdr); err != nil {
		return nil, zerr.Wrap(err, zerr.BackupCorrupt, "decoding backup header")
	}
	body := rest[hdrLen:]

	if hdr.Encryption.Method != bundle.NoEncryption {
		if keys == nil {
			return nil, zerr.New(zerr.Config, "backup is encrypted but no key was provided")
		}
		opened, err := crypto.Open(body, *keys)
		if err != nil {
			return nil, zerr.Wrap(err, zerr.BackupCorrupt, "opening encrypted backup")
		}
		body = opened
	}

	var b Backup
	if err := cbor.Unmarshal(body, &b); err != nil {
		return nil, zerr.Wrap(err, zerr.BackupCorrupt, "decoding backup")
	}
	return &b, nil
}
