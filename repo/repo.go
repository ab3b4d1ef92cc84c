// Package repo implements the repository engine: the component that
// composes the codec, chunker, bundle, store, bundlecache, index, and
// manifest packages into the operations spec.md §4.8 names — init,
// import, add_chunk, get_chunk, put_backup, get_backup, prune_backup,
// analyze, vacuum, check. A Repository owns the process lock, the
// mmapped index, the bundle caches, open bundle writers, and the
// repository config; every other operation takes it as a receiver,
// matching spec.md §5's "no global mutable state beyond per-repository
// handles."
package repo

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/dswd/zvault/bundle"
	"github.com/dswd/zvault/bundlecache"
	"github.com/dswd/zvault/codec/crypto"
	"github.com/dswd/zvault/index"
	"github.com/dswd/zvault/logctx"
	"github.com/dswd/zvault/repoconfig"
	"github.com/dswd/zvault/reposync"
	"github.com/dswd/zvault/store"
	"github.com/dswd/zvault/zerr"
)

// State is a backup run's position in the state machine spec.md §4.8
// names: Idle → Scanning → Hashing → Writing → Sealing → Done. A crash
// at any point is recoverable because every transition out of Idle
// leaves, at worst, a dirty sentinel, uncommitted temp files, or an
// unpublished bundle writer buffer — never a half-written published
// artifact.
type State int

const (
	Idle State = iota
	Scanning
	Hashing
	Writing
	Sealing
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Hashing:
		return "hashing"
	case Writing:
		return "writing"
	case Sealing:
		return "sealing"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

const (
	configFile = "config"
	indexFile  = "index"
	cacheDir   = "bundle_cache"
	mapDir     = "bundle_map"
	backupsDir = "backups"
	locksDir   = "locks"
	dirtyFile  = "dirty"
	keysDir    = "keys"
)

// Repository is an open handle on a local repository directory plus
// its remote bundle store.
type Repository struct {
	dir    string
	config repoconfig.Config
	keys   *crypto.KeyPair

	lock  *reposync.WriterLock
	idx   *index.Index
	cache *bundlecache.Cache
	bmap  *bundlecache.Map
	store store.Store

	dataWriter *bundle.Writer
	metaWriter *bundle.Writer

	state State
	log   *logrus.Entry
}

// Init creates a new repository directory: writes config, an empty
// index at minimum capacity, empty bundle cache/map, an empty backups
// directory, and generates a keypair if encryption is requested. It
// refuses to overwrite an existing directory, per spec.md §4.8.
func Init(dir string, cfg repoconfig.Config, withEncryption bool) error {
	if _, err := os.Stat(dir); err == nil {
		return zerr.New(zerr.Config, "repository directory already exists")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return zerr.Wrap(err, zerr.Config, "creating repository directory")
	}
	for _, sub := range []string{backupsDir, locksDir, keysDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return zerr.Wrap(err, zerr.Config, "creating repository subdirectory")
		}
	}

	if err := repoconfig.Save(filepath.Join(dir, configFile), cfg); err != nil {
		return err
	}

	idx, err := index.Create(filepath.Join(dir, indexFile), cfg.HashMethod)
	if err != nil {
		return err
	}
	if err := idx.Close(); err != nil {
		return err
	}

	if c, err := bundlecache.Open(filepath.Join(dir, cacheDir)); err != nil {
		return err
	} else if err := c.Close(); err != nil {
		return err
	}
	if m, err := bundlecache.OpenMap(filepath.Join(dir, mapDir)); err != nil {
		return err
	} else if err := m.Close(); err != nil {
		return err
	}

	if withEncryption {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return zerr.Wrap(err, zerr.Config, "generating encryption keypair")
		}
		if err := writeKeyFiles(dir, kp); err != nil {
			return err
		}
	}
	return nil
}

func writeKeyFiles(dir string, kp crypto.KeyPair) error {
	pub := make([]byte, len(kp.Public))
	copy(pub, kp.Public[:])
	sec := make([]byte, len(kp.Secret))
	copy(sec, kp.Secret[:])
	if err := os.WriteFile(filepath.Join(dir, keysDir, "public"), []byte(hexEncode(pub)), 0o644); err != nil {
		return zerr.Wrap(err, zerr.Config, "writing public key")
	}
	if err := os.WriteFile(filepath.Join(dir, keysDir, "secret"), []byte(hexEncode(sec)), 0o600); err != nil {
		return zerr.Wrap(err, zerr.Config, "writing secret key")
	}
	return nil
}

// Open acquires the writer lock and opens every local component of an
// existing repository. Callers must Close the returned Repository.
func Open(dir string) (*Repository, error) {
	lock, err := reposync.AcquireWriter(dir)
	if err != nil {
		return nil, err
	}

	cfg, err := repoconfig.Load(filepath.Join(dir, configFile))
	if err != nil {
		lock.Release()
		return nil, err
	}

	idx, err := index.Open(filepath.Join(dir, indexFile), cfg.HashMethod)
	if err != nil {
		lock.Release()
		return nil, err
	}

	cache, err := bundlecache.Open(filepath.Join(dir, cacheDir))
	if err != nil {
		idx.Close()
		lock.Release()
		return nil, err
	}

	bmap, err := bundlecache.OpenMap(filepath.Join(dir, mapDir))
	if err != nil {
		cache.Close()
		idx.Close()
		lock.Release()
		return nil, err
	}

	keys, err := loadKeyPairIfPresent(dir)
	if err != nil {
		bmap.Close()
		cache.Close()
		idx.Close()
		lock.Release()
		return nil, err
	}

	r := &Repository{
		dir:    dir,
		config: cfg,
		keys:   keys,
		lock:   lock,
		idx:    idx,
		cache:  cache,
		bmap:   bmap,
		store:  store.NewFileStore(remoteDirOf(dir)),
		state:  Idle,
		log:    logctx.ForRepo(dir),
	}
	if err := r.markDirty(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// WithStore overrides the bundle store a Repository talks to — used by
// Import (which targets a fresh remote path) and by tests that swap in
// a fake store.
func (r *Repository) WithStore(s store.Store) { r.store = s }

func remoteDirOf(dir string) string {
	return filepath.Join(dir, "remote")
}

// Close releases the writer lock and every open handle, marking the
// repository clean on the way out.
func (r *Repository) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.idx != nil {
		record(r.idx.Sync())
		record(r.idx.Close())
	}
	if r.bmap != nil {
		record(r.bmap.Close())
	}
	if r.cache != nil {
		record(r.cache.Close())
	}
	record(r.clearDirty())
	if r.lock != nil {
		record(r.lock.Release())
	}
	return firstErr
}

func (r *Repository) markDirty() error {
	f, err := os.Create(filepath.Join(r.dir, dirtyFile))
	if err != nil {
		return zerr.Wrap(err, zerr.IOTransient, "marking repository dirty")
	}
	return f.Close()
}

func (r *Repository) clearDirty() error {
	err := os.Remove(filepath.Join(r.dir, dirtyFile))
	if err != nil && !os.IsNotExist(err) {
		return zerr.Wrap(err, zerr.IOTransient, "clearing repository dirty flag")
	}
	return nil
}

// IsDirty reports whether a prior run's dirty sentinel is still
// present — the trigger for a consistency check at next start, per
// spec.md §4.8's state machine note.
func IsDirty(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, dirtyFile))
	return err == nil
}

func (r *Repository) setState(s State) {
	r.state = s
	r.log.Debugf("state -> %s", s)
}

// State returns the repository's current backup-run state.
func (r *Repository) State() State { return r.state }
