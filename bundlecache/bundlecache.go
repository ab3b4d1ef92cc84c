// Package bundlecache holds the two local, fully-rebuildable LevelDB
// indexes described in spec.md §4.5: a cache from bundle id to its
// remote path and decoded BundleInfo (so repository operations don't
// re-list or re-fetch a bundle's header just to learn its size or chunk
// count), and a map from bundle id to the small internal bundle number
// the chunk index stores instead of a full 16-byte id. Both are opened
// the way the teacher's chunks.LevelDBStore opens its store — one
// goleveldb.DB per directory, closed on Close — and both can be thrown
// away and rebuilt from the bundle store's List, since neither holds
// anything the remote doesn't already have.
package bundlecache

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/dswd/zvault/zerr"
)

// openDB opens (creating if absent) a LevelDB instance at dir, with a
// block cache sized the way the teacher's NewLevelDBStoreFactory takes
// a cache-size argument rather than accepting the library default.
func openDB(dir string, cacheSizeMB int) (*leveldb.DB, error) {
	o := &opt.Options{
		BlockCacheCapacity: cacheSizeMB * opt.MiB,
	}
	db, err := leveldb.OpenFile(dir, o)
	if err != nil {
		return nil, zerr.Wrap(err, zerr.Config, "opening leveldb store at "+dir)
	}
	return db, nil
}
