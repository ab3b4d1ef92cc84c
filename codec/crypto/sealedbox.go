// Package crypto implements the repository's authenticated encryption
// primitive: an X25519 + XSalsa20-Poly1305 anonymous sealed box (the
// same construction as libsodium's crypto_box_seal). Encryption needs
// only the recipient's public key; decryption needs the matching
// secret key. Ciphertext grows by a fixed overhead (an ephemeral public
// key plus a Poly1305 tag) over the plaintext length.
package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// KeySize is the length in bytes of both the public and secret key.
const KeySize = 32

// Overhead is the fixed number of bytes a sealed box adds to plaintext:
// a 32-byte ephemeral public key followed by box.Overhead (16 bytes of
// Poly1305 tag + 24-byte nonce derived, not stored, per NaCl's sealed
// box construction which re-derives the nonce from both public keys).
const Overhead = 32 + box.Overhead

// KeyPair is a repository (or backup) encryption keypair. Only the
// Public half is required to seal data; Secret is required to open it.
type KeyPair struct {
	Public [KeySize]byte
	Secret [KeySize]byte
}

// GenerateKeyPair creates a new random X25519 keypair.
func GenerateKeyPair() (KeyPair, error) {
	pub, sec, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("crypto: generate keypair: %w", err)
	}
	return KeyPair{Public: *pub, Secret: *sec}, nil
}

// Seal encrypts plaintext so that only the holder of secret matching
// publicKey can open it. The sender's identity is not authenticated
// (this is an "anonymous" sealed box): any holder of publicKey can
// produce a ciphertext that opens correctly.
func Seal(plaintext []byte, publicKey [KeySize]byte) ([]byte, error) {
	out, err := box.SealAnonymous(nil, plaintext, &publicKey, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: seal: %w", err)
	}
	return out, nil
}

// Open decrypts a sealed box produced by Seal for the given keypair.
// It fails (ErrOpenFailed) if the ciphertext was tampered with or was
// sealed for a different public key.
func Open(sealed []byte, keys KeyPair) ([]byte, error) {
	out, ok := box.OpenAnonymous(nil, sealed, &keys.Public, &keys.Secret)
	if !ok {
		return nil, ErrOpenFailed
	}
	return out, nil
}

// ErrOpenFailed is returned when a sealed box fails to authenticate:
// wrong key, or corrupted/tampered ciphertext.
var ErrOpenFailed = fmt.Errorf("crypto: sealed box authentication failed")
