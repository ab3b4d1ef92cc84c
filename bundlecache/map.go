package bundlecache

import (
	"encoding/binary"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/dswd/zvault/zerr"
)

// counterKey stores the next bundle number to assign. It shares the
// same LevelDB instance as the id→number records but can never collide
// with a real bundle id: ids are exactly 16 bytes and this key is
// shorter.
var counterKey = []byte("next")

// Map is the id→internal-bundle-number index described in spec.md
// §4.5. The chunk index stores a 4-byte bundle number per slot instead
// of a full 16-byte id to keep its fixed-width records small; Map is
// the only place that translation is made, and like Cache it is fully
// rebuildable from a fresh bundle store listing.
type Map struct {
	db *leveldb.DB
}

// OpenMap opens (or creates) the bundle map at dir.
func OpenMap(dir string) (*Map, error) {
	db, err := openDB(dir, 4)
	if err != nil {
		return nil, err
	}
	return &Map{db: db}, nil
}

// Close releases the underlying LevelDB handle.
func (m *Map) Close() error {
	return m.db.Close()
}

// Number returns the internal bundle number for id, assigning the next
// one from the monotonic counter if id hasn't been seen before.
func (m *Map) Number(id [16]byte) (uint32, error) {
	raw, err := m.db.Get(id[:], nil)
	if err == nil {
		return binary.LittleEndian.Uint32(raw), nil
	}
	if err != leveldb.ErrNotFound {
		return 0, zerr.Wrap(err, zerr.IOTransient, "reading bundle map")
	}
	return m.assign(id)
}

func (m *Map) assign(id [16]byte) (uint32, error) {
	next, err := m.nextCounter()
	if err != nil {
		return 0, err
	}

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], next)

	batch := new(leveldb.Batch)
	batch.Put(id[:], buf[:])
	var counterBuf [4]byte
	binary.LittleEndian.PutUint32(counterBuf[:], next+1)
	batch.Put(counterKey, counterBuf[:])
	if err := m.db.Write(batch, nil); err != nil {
		return 0, zerr.Wrap(err, zerr.IOTransient, "assigning bundle number")
	}
	return next, nil
}

func (m *Map) nextCounter() (uint32, error) {
	raw, err := m.db.Get(counterKey, nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, zerr.Wrap(err, zerr.IOTransient, "reading bundle number counter")
	}
	return binary.LittleEndian.Uint32(raw), nil
}

// Lookup returns the internal number already assigned to id without
// assigning a new one, reporting ok=false if id is unknown.
func (m *Map) Lookup(id [16]byte) (uint32, bool, error) {
	raw, err := m.db.Get(id[:], nil)
	if err == leveldb.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, zerr.Wrap(err, zerr.IOTransient, "reading bundle map")
	}
	return binary.LittleEndian.Uint32(raw), true, nil
}

// IDFor reverse-looks-up a bundle number to its id by scanning the
// whole map. GetChunk calls it on every read, and vacuum for each
// bundle it rewrites.
func (m *Map) IDFor(number uint32) ([16]byte, bool, error) {
	iter := m.db.NewIterator(util.BytesPrefix(nil), nil)
	defer iter.Release()
	for iter.Next() {
		key := iter.Key()
		if len(key) != 16 {
			continue // skip the counter record
		}
		if binary.LittleEndian.Uint32(iter.Value()) == number {
			var id [16]byte
			copy(id[:], key)
			return id, true, nil
		}
	}
	if err := iter.Error(); err != nil {
		return [16]byte{}, false, zerr.Wrap(err, zerr.IOTransient, "scanning bundle map")
	}
	return [16]byte{}, false, nil
}

// Rebuild clears the map and counter, then re-assigns numbers to ids in
// the given order (typically the bundle store's List order), matching
// spec.md §4.5's "fully rebuildable" invariant.
func (m *Map) Rebuild(ids [][16]byte) error {
	batch := new(leveldb.Batch)
	iter := m.db.NewIterator(util.BytesPrefix(nil), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return zerr.Wrap(err, zerr.IOTransient, "clearing bundle map")
	}
	if err := m.db.Write(batch, nil); err != nil {
		return zerr.Wrap(err, zerr.IOTransient, "clearing bundle map")
	}
	for _, id := range ids {
		if _, err := m.assign(id); err != nil {
			return err
		}
	}
	return nil
}
