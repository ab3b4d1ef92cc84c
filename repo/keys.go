package repo

import (
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/dswd/zvault/codec/crypto"
	"github.com/dswd/zvault/zerr"
)

func hexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

// loadKeyPairIfPresent reads keys/public and keys/secret if both exist.
// A repository with no keys directory contents is unencrypted; one
// with only a public key can write but never read (spec.md's "key loss"
// scenario: restore must fail with an unambiguous error, never corrupt
// anything).
func loadKeyPairIfPresent(dir string) (*crypto.KeyPair, error) {
	pubPath := filepath.Join(dir, keysDir, "public")
	secPath := filepath.Join(dir, keysDir, "secret")

	pubHex, err := os.ReadFile(pubPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, zerr.Wrap(err, zerr.Config, "reading public key")
	}
	pub, err := hex.DecodeString(string(pubHex))
	if err != nil || len(pub) != crypto.KeySize {
		return nil, zerr.New(zerr.Config, "malformed public key file")
	}

	var kp crypto.KeyPair
	copy(kp.Public[:], pub)

	secHex, err := os.ReadFile(secPath)
	if os.IsNotExist(err) {
		// Public key only: writes can seal, reads will fail loudly via
		// MissingSecretKey when a chunk/backup actually needs opening.
		return &kp, nil
	}
	if err != nil {
		return nil, zerr.Wrap(err, zerr.Config, "reading secret key")
	}
	sec, err := hex.DecodeString(string(secHex))
	if err != nil || len(sec) != crypto.KeySize {
		return nil, zerr.New(zerr.Config, "malformed secret key file")
	}
	copy(kp.Secret[:], sec)
	return &kp, nil
}

// ErrMissingSecretKey is returned by GetChunk when a bundle cannot be
// opened, and by GetBackup when the record is sealed, while no secret
// key is loaded (only a public key, or no key at all).
var ErrMissingSecretKey = zerr.New(zerr.Config, "missing secret key: cannot decrypt")

// ErrChunkUnreachable is returned when a chunk list references a
// fingerprint the index has no entry for — an unreachable reference,
// per spec.md §9's "filesystem reachability" check.
var ErrChunkUnreachable = zerr.New(zerr.BackupCorrupt, "chunk unreachable: no index entry for fingerprint")

// zerrIndexStillPointsAtOldBundle guards vacuum's pre-delete
// double-check: refusing to delete a bundle the index still resolves a
// chunk into is the literal enforcement of spec.md §4.8's "double-checks
// the index immediately before delete" requirement.
var zerrIndexStillPointsAtOldBundle = zerr.New(zerr.IndexCorrupt, "refusing to delete bundle: index still resolves a chunk into it")
