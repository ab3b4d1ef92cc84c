package repo

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"

	"github.com/dswd/zvault/bundle"
	"github.com/dswd/zvault/codec/chash"
	"github.com/dswd/zvault/codec/compress"
)

// Check runs the integrity cascade spec.md §4.8 names: bundle header
// parse, optionally full bundle content (decrypt + decompress + hash
// every chunk), index integrity, backup decodability (every inode of
// every backup decodes), and filesystem reachability (every data chunk
// a backup references has an index entry). With repair, a fetched
// bundle that fails its checks is handed to the store's MarkBroken, a
// broken backup file is renamed aside with a ".broken" suffix, and the
// index and bundle map are rebuilt from the remote listing; the bundle
// cache is not rebuilt.
func (r *Repository) Check(full, repair bool) (CheckResult, error) {
	var result CheckResult

	entries, err := r.store.List(context.Background())
	if err != nil {
		return result, err
	}

	for _, e := range entries {
		result.BundlesChecked++
		raw, err := r.store.Fetch(context.Background(), e.ID)
		if err != nil {
			result.BundlesBroken = append(result.BundlesBroken, hex.EncodeToString(e.ID[:]))
			continue
		}
		reader, err := bundle.NewReader(raw, r.keys)
		if err != nil {
			result.BundlesBroken = append(result.BundlesBroken, hex.EncodeToString(e.ID[:]))
			if repair {
				r.store.MarkBroken(context.Background(), e.ID, err.Error())
			}
			continue
		}
		if full {
			if err := r.checkBundleContent(reader); err != nil {
				result.BundlesBroken = append(result.BundlesBroken, hex.EncodeToString(e.ID[:]))
				if repair {
					r.store.MarkBroken(context.Background(), e.ID, err.Error())
				}
			}
		}
	}

	result.IndexOK = r.idx.Len() > 0 || result.BundlesChecked == 0

	names, err := r.ListBackups()
	if err != nil {
		return result, err
	}
	brokenBackup := func(name string) {
		result.BackupsBroken = append(result.BackupsBroken, name)
		if repair {
			path := r.backupPath(name)
			if err := os.Rename(path, path+".broken"); err != nil {
				r.log.WithError(err).Warnf("check: could not mark backup %s broken", name)
			}
		}
	}
	for _, name := range names {
		result.BackupsChecked++
		b, err := r.GetBackup(name)
		if err != nil {
			brokenBackup(name)
			continue
		}
		root, err := b.RootChunkList()
		if err != nil {
			brokenBackup(name)
			continue
		}
		used := map[[chash.Size]byte]uint32{}
		rootInode, err := r.decodeInodeFromChunkList(root)
		if err == nil {
			err = r.markInode(rootInode, used)
		}
		if err != nil {
			brokenBackup(name)
			if err == ErrChunkUnreachable {
				result.UnreachableRefs++
			}
			continue
		}
		missing := 0
		for fp := range used {
			if !r.idx.Contains(fp) {
				missing++
			}
		}
		if missing > 0 {
			result.UnreachableRefs += missing
			brokenBackup(name)
		}
	}

	if repair && (!result.IndexOK || len(result.BundlesBroken) > 0) {
		if err := r.rebuildFromStore(); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (r *Repository) checkBundleContent(reader *bundle.Reader) error {
	info := reader.Info()
	var comp *compress.Codec
	if info.Compression != nil {
		comp = &compress.Codec{Method: info.Compression.Method, Level: int(info.Compression.Level)}
	}
	cl, err := reader.ChunkList()
	if err != nil {
		return err
	}
	for i, e := range cl {
		data, err := reader.Chunk(i, comp)
		if err != nil {
			return err
		}
		sum, err := chash.Sum(info.HashMethod, data)
		if err != nil {
			return err
		}
		if !bytes.Equal(sum[:], e.Fingerprint[:]) {
			return ErrChunkUnreachable
		}
	}
	return nil
}

// rebuildFromStore rebuilds the index and bundle map from a fresh
// listing of the remote store. Check runs it under repair when the
// index is empty while bundles exist or a bundle was broken. A dirty
// index never reaches it: Open fails on one before Check can run.
func (r *Repository) rebuildFromStore() error {
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
				continue // already reported broken above
			}
			cl, err := reader.ChunkList()
			if err != nil {
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
