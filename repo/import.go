package repo

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dswd/zvault/bundle"
	"github.com/dswd/zvault/bundlecache"
	"github.com/dswd/zvault/codec/chash"
	"github.com/dswd/zvault/codec/crypto"
	"github.com/dswd/zvault/index"
	"github.com/dswd/zvault/repoconfig"
	"github.com/dswd/zvault/store"
	"github.com/dswd/zvault/zerr"
)

// Import creates a fresh repository at dir backed by an existing remote
// (rather than an empty one, as Init does) and rebuilds every local
// derived structure — bundle cache, bundle map, index — by listing and
// decoding every bundle already present there. keys, if non-nil, is
// written the same way Init writes a generated keypair; it must be the
// keypair the remote's bundles were actually sealed with: without it an
// encrypted bundle's info block cannot be opened, and that bundle is
// skipped.
func Import(dir string, cfg repoconfig.Config, remote string, keys *crypto.KeyPair) (*Repository, error) {
	if _, err := os.Stat(dir); err == nil {
		return nil, zerr.New(zerr.Config, "repository directory already exists")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, zerr.Wrap(err, zerr.Config, "creating repository directory")
	}
	for _, sub := range []string{backupsDir, locksDir, keysDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, zerr.Wrap(err, zerr.Config, "creating repository subdirectory")
		}
	}

	if err := repoconfig.Save(filepath.Join(dir, configFile), cfg); err != nil {
		return nil, err
	}
	if keys != nil {
		if err := writeKeyFiles(dir, *keys); err != nil {
			return nil, err
		}
	}

	idx, err := index.Create(filepath.Join(dir, indexFile), cfg.HashMethod)
	if err != nil {
		return nil, err
	}
	if err := idx.Close(); err != nil {
		return nil, err
	}
	if c, err := bundlecache.Open(filepath.Join(dir, cacheDir)); err != nil {
		return nil, err
	} else if err := c.Close(); err != nil {
		return nil, err
	}
	if m, err := bundlecache.OpenMap(filepath.Join(dir, mapDir)); err != nil {
		return nil, err
	} else if err := m.Close(); err != nil {
		return nil, err
	}

	r, err := Open(dir)
	if err != nil {
		return nil, err
	}
	r.store = store.NewFileStore(remote)

	if err := r.importFromStore(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// importFromStore populates the bundle cache, bundle map, and index
// entirely from what the remote store already holds — the same
// reconstruction rebuildFromStore does for repair, since both start
// from "no trustworthy local derived state, a remote full of bundles."
func (r *Repository) importFromStore() error {
	entries, err := r.store.List(context.Background())
	if err != nil {
		return err
	}

	ids := make([][16]byte, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if err := r.bmap.Rebuild(ids); err != nil {
		return err
	}

	return r.idx.Rebuild(func(add func(fp [chash.Size]byte, bundleNo, chunkIdx uint32) error) error {
		for _, e := range entries {
			bn, _, err := r.bmap.Lookup(e.ID)
			if err != nil {
				return err
			}
			raw, err := r.store.Fetch(context.Background(), e.ID)
			if err != nil {
				return err
			}
			reader, err := bundle.NewReader(raw, r.keys)
			if err != nil {
				r.log.Warnf("import: skipping unreadable bundle: %v", err)
				continue
			}
			if err := r.cache.Put(e.ID, bundlecache.Entry{Info: reader.Info()}); err != nil {
				return err
			}
			cl, err := reader.ChunkList()
			if err != nil {
				r.log.Warnf("import: skipping bundle with unreadable chunk list: %v", err)
				continue
			}
			for i, ce := range cl {
				if err := add(ce.Fingerprint, bn, uint32(i)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
