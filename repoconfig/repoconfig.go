// Package repoconfig loads and saves the repository configuration
// file: the small, human-editable record naming the bundle size
// target, chunker algorithm and size, compression and hash methods,
// and a reference to the encryption keypair in use. It is TOML, the
// teacher's own dependency for structured, hand-editable config.
package repoconfig

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/dswd/zvault/chunker"
	"github.com/dswd/zvault/codec/chash"
	"github.com/dswd/zvault/codec/compress"
	"github.com/dswd/zvault/zerr"
)

// Config is the repository-wide configuration record, persisted at
// <repo>/config. Bundle size, compression, and encryption may change
// freely between runs; ChunkerAlgo and HashMethod should not, because
// changing either silently partitions the deduplication space against
// everything written before the change (spec.md §3).
type Config struct {
	BundleSize           uint64          `toml:"bundle_size"`
	ChunkerAlgo          chunker.Algo    `toml:"chunker_algo"`
	ChunkSize            uint32          `toml:"chunk_size"`
	Compression          compress.Method `toml:"compression"`
	CompressionLevel     int             `toml:"compression_level"`
	EncryptionKeypairRef string          `toml:"encryption_keypair_ref"`
	HashMethod           chash.Method    `toml:"hash_method"`
}

// Default returns a Config with the sizes and algorithms a fresh
// repository is initialized with absent explicit overrides.
func Default() Config {
	return Config{
		BundleSize:       25 << 20,
		ChunkerAlgo:      chunker.FastCDC,
		ChunkSize:        8 << 10,
		Compression:      compress.LZ4,
		CompressionLevel: 1,
		HashMethod:       chash.Blake2,
	}
}

// ChunkerParams derives chunker.Params from the configured target
// chunk size.
func (c Config) ChunkerParams() (chunker.Params, error) {
	return chunker.NewParams(c.ChunkSize, 0)
}

// Load reads and parses the TOML config file at path.
func Load(path string) (Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, zerr.Wrap(err, zerr.Config, "reading repository config")
	}
	return c, nil
}

// Save writes c as TOML to path, refusing to overwrite an existing
// file (repository init never clobbers, per spec.md §4.8).
func Save(path string, c Config) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return zerr.Wrap(err, zerr.Config, "creating repository config file")
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return zerr.Wrap(err, zerr.Config, "writing repository config")
	}
	return nil
}

// Overwrite writes c as TOML to path, replacing any existing file —
// used when bundle size, compression, or encryption settings change
// mid-lifetime.
func Overwrite(path string, c Config) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return zerr.Wrap(err, zerr.Config, "opening repository config file")
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return zerr.Wrap(err, zerr.Config, "writing repository config")
	}
	return nil
}
