// Package index implements the chunk index: a memory-mapped,
// open-addressing hash table mapping a chunk fingerprint to the
// internal bundle number and chunk offset that hold it. It is derived
// state — every entry can be reconstructed by walking the bundle store
// — so the only correctness requirement on disk is "never silently
// claim correctness for corrupt content"; the dirty-header protocol
// below exists to detect, not prevent, a crash mid-write.
//
// Layout is exactly spec.md §4.6: a fixed header followed by
// `capacity` fixed-width slots, linear probing from
// `fingerprint_low64 mod capacity`, an all-zero fingerprint marking an
// empty slot.
package index

import (
	"encoding/binary"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/dswd/zvault/codec/chash"
	"github.com/dswd/zvault/d"
	"github.com/dswd/zvault/zerr"
)

const (
	headerMagic   = "zvidx01\x00"
	headerSize    = 32
	slotSize      = chash.Size + 4 + 4 // fingerprint + bundle# + chunk#
	minCapacity   = 1024
	growThreshold = 0.75
	shrinkBelow   = 0.25

	dirtySentinel = 0xffffffff
)

// Entry identifies a chunk's location within a bundle.
type Entry struct {
	BundleNumber uint32
	ChunkIndex   uint32
}

var emptyFingerprint [chash.Size]byte

// Index is a memory-mapped open-addressing hash table. It is not safe
// for concurrent use from multiple goroutines without external
// synchronization (the repository engine serializes access via its own
// lock, matching spec.md §5's single-writer model).
type Index struct {
	path     string
	file     *os.File
	mm       mmap.MMap
	capacity uint32
	count    uint32
	method   chash.Method
}

// header mirrors the first headerSize bytes of the mapped file.
type header struct {
	capacity uint32
	count    uint32
	version  uint32
	method   uint8
	dirty    uint32 // dirtySentinel while resize or Rebuild rewrites slots
}

// Open opens an existing index file, or Create should be used instead
// for a fresh repository. A dirty header (a crash during resize or
// Rebuild left the dirty field set) is reported as an IndexCorrupt
// error and no Index is returned.
func Open(path string, method chash.Method) (*Index, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, zerr.Wrap(err, zerr.Config, "opening index file")
	}
	idx, err := mapFile(f, method)
	if err != nil {
		f.Close()
		return nil, err
	}
	return idx, nil
}

// Create initializes a new, empty index file at minimum capacity.
func Create(path string, method chash.Method) (*Index, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, zerr.Wrap(err, zerr.Config, "creating index file")
	}
	if err := f.Truncate(int64(headerSize + minCapacity*slotSize)); err != nil {
		f.Close()
		return nil, zerr.Wrap(err, zerr.Config, "sizing index file")
	}
	idx, err := mapFile(f, method)
	if err != nil {
		f.Close()
		return nil, err
	}
	idx.capacity = minCapacity
	idx.count = 0
	if err := idx.writeHeader(false); err != nil {
		idx.Close()
		return nil, err
	}
	return idx, nil
}

func mapFile(f *os.File, method chash.Method) (*Index, error) {
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		return nil, zerr.Wrap(err, zerr.IOTransient, "mmapping index file")
	}
	idx := &Index{path: f.Name(), file: f, mm: m, method: method}
	if len(m) >= headerSize {
		hdr := idx.readHeader()
		if hdr.dirty == dirtySentinel {
			return idx, zerr.New(zerr.IndexCorrupt, "index was left dirty by a prior crash; rebuild required")
		}
		idx.capacity = hdr.capacity
		idx.count = hdr.count
	}
	return idx, nil
}

func (idx *Index) readHeader() header {
	b := idx.mm
	return header{
		capacity: binary.LittleEndian.Uint32(b[8:12]),
		count:    binary.LittleEndian.Uint32(b[12:16]),
		version:  binary.LittleEndian.Uint32(b[16:20]),
		method:   b[20],
		dirty:    binary.LittleEndian.Uint32(b[24:28]),
	}
}

// writeHeader writes the header and flushes the mapping. dirty=true
// sets the separate dirty field to dirtySentinel and leaves the stored
// count alone; dirty=false clears that field and stores the current
// count. resize and Rebuild bracket their slot rewrites with the two
// calls.
func (idx *Index) writeHeader(dirty bool) error {
	b := idx.mm
	copy(b[0:8], headerMagic)
	binary.LittleEndian.PutUint32(b[8:12], idx.capacity)
	count := idx.count
	binary.LittleEndian.PutUint32(b[16:20], 1)
	b[20] = byte(idx.method)
	if dirty {
		binary.LittleEndian.PutUint32(b[24:28], dirtySentinel)
	} else {
		binary.LittleEndian.PutUint32(b[24:28], 0)
		binary.LittleEndian.PutUint32(b[12:16], count)
	}
	return idx.mm.Flush()
}

// Close unmaps and closes the underlying file without writing a final
// header; callers that want a clean shutdown must call Sync first.
func (idx *Index) Close() error {
	if err := idx.mm.Unmap(); err != nil {
		return zerr.Wrap(err, zerr.IOTransient, "unmapping index file")
	}
	return idx.file.Close()
}

// Sync writes a clean header and flushes mapped pages to disk,
// matching the "fsync at bundle publish points and on clean shutdown"
// requirement.
func (idx *Index) Sync() error {
	if err := idx.writeHeader(false); err != nil {
		return zerr.Wrap(err, zerr.IOTransient, "syncing index header")
	}
	return nil
}

// Len returns the number of live entries.
func (idx *Index) Len() uint32 { return idx.count }

// Capacity returns the table's current slot capacity.
func (idx *Index) Capacity() uint32 { return idx.capacity }

// slotOffset computes slot i's byte offset into the mmapped region. i
// out of range would mean a probe loop somewhere walked past capacity,
// a programmer error in this package, not a possible outcome of bad
// input data — worth a loud panic over a silently wrong offset.
func (idx *Index) slotOffset(i uint32) int {
	d.PanicIfTrue(i >= idx.capacity)
	return headerSize + int(i)*slotSize
}

func (idx *Index) slotAt(i uint32) (fp [chash.Size]byte, bundleNo, chunkIdx uint32) {
	off := idx.slotOffset(i)
	copy(fp[:], idx.mm[off:off+chash.Size])
	bundleNo = binary.LittleEndian.Uint32(idx.mm[off+chash.Size : off+chash.Size+4])
	chunkIdx = binary.LittleEndian.Uint32(idx.mm[off+chash.Size+4 : off+slotSize])
	return
}

func (idx *Index) setSlot(i uint32, fp [chash.Size]byte, bundleNo, chunkIdx uint32) {
	off := idx.slotOffset(i)
	copy(idx.mm[off:off+chash.Size], fp[:])
	binary.LittleEndian.PutUint32(idx.mm[off+chash.Size:off+chash.Size+4], bundleNo)
	binary.LittleEndian.PutUint32(idx.mm[off+chash.Size+4:off+slotSize], chunkIdx)
}

func (idx *Index) probeStart(fp [chash.Size]byte) uint32 {
	low64 := binary.LittleEndian.Uint64(fp[8:16])
	return uint32(low64 % uint64(idx.capacity))
}

// Contains reports whether fp has an entry.
func (idx *Index) Contains(fp [chash.Size]byte) bool {
	_, ok := idx.lookup(fp)
	return ok
}

// Get returns the entry for fp, or ok=false if absent.
func (idx *Index) Get(fp [chash.Size]byte) (Entry, bool) {
	return idx.lookup(fp)
}

func (idx *Index) lookup(fp [chash.Size]byte) (Entry, bool) {
	start := idx.probeStart(fp)
	for probed := uint32(0); probed < idx.capacity; probed++ {
		i := (start + probed) % idx.capacity
		slotFP, bundleNo, chunkIdx := idx.slotAt(i)
		if slotFP == emptyFingerprint {
			return Entry{}, false
		}
		if slotFP == fp {
			return Entry{BundleNumber: bundleNo, ChunkIndex: chunkIdx}, true
		}
	}
	return Entry{}, false
}

// Add inserts or overwrites the entry for fp, growing the table first
// if the load factor would exceed growThreshold. Adding an
// already-present fingerprint with the same (bundleNo, chunkIdx) is the
// idempotent no-op spec.md's testable properties require.
func (idx *Index) Add(fp [chash.Size]byte, bundleNo, chunkIdx uint32) error {
	if fp == emptyFingerprint {
		return zerr.New(zerr.IndexCorrupt, "refusing to index the reserved all-zero fingerprint")
	}
	if float64(idx.count+1)/float64(idx.capacity) > growThreshold {
		if err := idx.resize(idx.capacity * 2); err != nil {
			return err
		}
	}
	start := idx.probeStart(fp)
	for probed := uint32(0); probed < idx.capacity; probed++ {
		i := (start + probed) % idx.capacity
		slotFP, _, _ := idx.slotAt(i)
		if slotFP == emptyFingerprint {
			idx.setSlot(i, fp, bundleNo, chunkIdx)
			idx.count++
			return nil
		}
		if slotFP == fp {
			idx.setSlot(i, fp, bundleNo, chunkIdx)
			return nil
		}
	}
	return zerr.New(zerr.IndexCorrupt, "index probe exhausted capacity without finding a slot")
}

// Remove deletes fp's entry, if present, then rehashes the probe chain
// that followed it (standard open-addressing deletion via backward
// shift) and shrinks the table if the load factor drops below
// shrinkBelow.
func (idx *Index) Remove(fp [chash.Size]byte) error {
	start := idx.probeStart(fp)
	var found bool
	var hole uint32
	for probed := uint32(0); probed < idx.capacity; probed++ {
		i := (start + probed) % idx.capacity
		slotFP, _, _ := idx.slotAt(i)
		if slotFP == emptyFingerprint {
			return nil // not present
		}
		if slotFP == fp {
			hole = i
			found = true
			break
		}
	}
	if !found {
		return nil
	}
	idx.setSlot(hole, emptyFingerprint, 0, 0)
	idx.count--

	// Backward-shift deletion: walk forward from the hole, relocating
	// any entry whose probe start lies at or before the hole into it,
	// advancing the hole, until an empty slot ends the chain.
	i := hole
	for {
		i = (i + 1) % idx.capacity
		slotFP, bundleNo, chunkIdx := idx.slotAt(i)
		if slotFP == emptyFingerprint {
			break
		}
		ideal := idx.probeStart(slotFP)
		if probeDistance(ideal, hole, idx.capacity) <= probeDistance(ideal, i, idx.capacity) {
			idx.setSlot(hole, slotFP, bundleNo, chunkIdx)
			idx.setSlot(i, emptyFingerprint, 0, 0)
			hole = i
		}
	}

	if idx.capacity > minCapacity && float64(idx.count)/float64(idx.capacity) < shrinkBelow {
		newCap := idx.capacity / 2
		if newCap < minCapacity {
			newCap = minCapacity
		}
		return idx.resize(newCap)
	}
	return nil
}

func probeDistance(ideal, actual, capacity uint32) uint32 {
	if actual >= ideal {
		return actual - ideal
	}
	return capacity - ideal + actual
}

// resize rewrites the whole table at a new capacity, per spec.md §4.6's
// "grow doubles capacity; the whole table is rewritten."
func (idx *Index) resize(newCapacity uint32) error {
	if newCapacity < minCapacity {
		newCapacity = minCapacity
	}
	type kept struct {
		fp       [chash.Size]byte
		bundleNo uint32
		chunkIdx uint32
	}
	entries := make([]kept, 0, idx.count)
	for i := uint32(0); i < idx.capacity; i++ {
		fp, bundleNo, chunkIdx := idx.slotAt(i)
		if fp != emptyFingerprint {
			entries = append(entries, kept{fp, bundleNo, chunkIdx})
		}
	}

	if err := idx.writeHeader(true); err != nil {
		return err
	}

	newSize := int64(headerSize + int(newCapacity)*slotSize)
	if err := idx.mm.Unmap(); err != nil {
		return zerr.Wrap(err, zerr.IOTransient, "unmapping index file for resize")
	}
	if err := idx.file.Truncate(newSize); err != nil {
		return zerr.Wrap(err, zerr.IOTransient, "resizing index file")
	}
	m, err := mmap.Map(idx.file, mmap.RDWR, 0)
	if err != nil {
		return zerr.Wrap(err, zerr.IOTransient, "re-mmapping index file")
	}
	idx.mm = m
	idx.capacity = newCapacity

	for i := headerSize; i < len(idx.mm); i++ {
		idx.mm[i] = 0
	}
	idx.count = 0
	for _, e := range entries {
		start := idx.probeStart(e.fp)
		for probed := uint32(0); probed < idx.capacity; probed++ {
			i := (start + probed) % idx.capacity
			fp, _, _ := idx.slotAt(i)
			if fp == emptyFingerprint {
				idx.setSlot(i, e.fp, e.bundleNo, e.chunkIdx)
				idx.count++
				break
			}
		}
	}
	return idx.writeHeader(false)
}

// Rebuild truncates the index to minimum capacity and calls fn to walk
// every bundle and re-insert its chunks, per spec.md's "derived state,
// rebuildable from the union of all bundles" invariant. fn is given the
// index to populate via Add.
func (idx *Index) Rebuild(fn func(add func(fp [chash.Size]byte, bundleNo, chunkIdx uint32) error) error) error {
	if err := idx.writeHeader(true); err != nil {
		return err
	}
	for i := headerSize; i < len(idx.mm); i++ {
		idx.mm[i] = 0
	}
	idx.count = 0
	if err := idx.resize(minCapacity); err != nil {
		return err
	}
	if err := fn(idx.Add); err != nil {
		return err
	}
	return idx.writeHeader(false)
}
