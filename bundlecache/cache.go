package bundlecache

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/golang/snappy"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/dswd/zvault/bundle"
	"github.com/dswd/zvault/zerr"
)

// Entry is the cached value for one bundle id: its already-decoded
// BundleInfo, so a lookup never needs to fetch bytes from the remote
// just to learn a bundle's chunk count or size. Path is not read by
// anything: sealAndPublish stores the bundle's hex id in it, and Import
// and vacuum leave it empty.
type Entry struct {
	Path string            `cbor:"0,keyasint,omitempty"`
	Info bundle.BundleInfo `cbor:"1,keyasint,omitempty"`
}

// Cache is the id→Entry index described in spec.md §4.5. It is a pure
// cache: every record in it can be reconstructed by re-listing the
// bundle store and re-reading each bundle's header, so losing the
// directory is never a correctness problem, only a performance one.
type Cache struct {
	db *leveldb.DB
}

// Open opens (or creates) the cache at dir.
func Open(dir string) (*Cache, error) {
	db, err := openDB(dir, 8)
	if err != nil {
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying LevelDB handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get looks up a bundle id, reporting ok=false if the id isn't cached.
func (c *Cache) Get(id [16]byte) (Entry, bool, error) {
	raw, err := c.db.Get(id[:], nil)
	if err == leveldb.ErrNotFound {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, zerr.Wrap(err, zerr.IOTransient, "reading bundle cache")
	}
	decoded, err := snappy.Decode(nil, raw)
	if err != nil {
		return Entry{}, false, zerr.Wrap(err, zerr.BundleCorrupt, "decompressing bundle cache entry")
	}
	var e Entry
	if err := cbor.Unmarshal(decoded, &e); err != nil {
		return Entry{}, false, zerr.Wrap(err, zerr.BundleCorrupt, "decoding bundle cache entry")
	}
	return e, true, nil
}

// Put records (or overwrites) the cache entry for id.
func (c *Cache) Put(id [16]byte, e Entry) error {
	encoded, err := cbor.Marshal(&e)
	if err != nil {
		return zerr.Wrap(err, zerr.Config, "encoding bundle cache entry")
	}
	compressed := snappy.Encode(nil, encoded)
	if err := c.db.Put(id[:], compressed, nil); err != nil {
		return zerr.Wrap(err, zerr.IOTransient, "writing bundle cache entry")
	}
	return nil
}

// Delete removes a bundle id's cache entry, used after a vacuum or
// check --repair removes the bundle itself.
func (c *Cache) Delete(id [16]byte) error {
	if err := c.db.Delete(id[:], nil); err != nil {
		return zerr.Wrap(err, zerr.IOTransient, "deleting bundle cache entry")
	}
	return nil
}

// Each calls fn for every cached (id, Entry) pair, in key order. Used
// by Analyze.
func (c *Cache) Each(fn func(id [16]byte, e Entry) error) error {
	iter := c.db.NewIterator(util.BytesPrefix(nil), nil)
	defer iter.Release()
	for iter.Next() {
		var id [16]byte
		copy(id[:], iter.Key())
		decoded, err := snappy.Decode(nil, iter.Value())
		if err != nil {
			return zerr.Wrap(err, zerr.BundleCorrupt, "decompressing bundle cache entry")
		}
		var e Entry
		if err := cbor.Unmarshal(decoded, &e); err != nil {
			return zerr.Wrap(err, zerr.BundleCorrupt, "decoding bundle cache entry")
		}
		if err := fn(id, e); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Rebuild clears the cache and repopulates it from a fresh listing,
// matching spec.md §4.5's "fully rebuildable" invariant.
func (c *Cache) Rebuild(entries []Entry, idOf func(Entry) [16]byte) error {
	batch := new(leveldb.Batch)
	iter := c.db.NewIterator(util.BytesPrefix(nil), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return zerr.Wrap(err, zerr.IOTransient, "clearing bundle cache")
	}
	if err := c.db.Write(batch, nil); err != nil {
		return zerr.Wrap(err, zerr.IOTransient, "clearing bundle cache")
	}
	for _, e := range entries {
		if err := c.Put(idOf(e), e); err != nil {
			return err
		}
	}
	return nil
}
