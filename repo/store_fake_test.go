package repo

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/dswd/zvault/store"
)

// fakeStore is an in-memory store.Store that also records every call in
// order, so tests can assert on call sequencing (vacuum's publish-before-
// delete ordering in particular) without touching a filesystem.
type fakeStore struct {
	mu      sync.Mutex
	bundles map[[16]byte][]byte
	broken  map[[16]byte]string
	calls   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bundles: map[[16]byte][]byte{},
		broken:  map[[16]byte]string{},
	}
}

func (f *fakeStore) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeStore) List(ctx context.Context) ([]store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("List")
	var out []store.Entry
	for id, data := range f.bundles {
		out = append(out, store.Entry{ID: id, Size: int64(len(data))})
	}
	return out, nil
}

func (f *fakeStore) Upload(ctx context.Context, id [16]byte, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Upload:" + hex.EncodeToString(id[:]))
	cp := make([]byte, len(data))
	copy(cp, data)
	f.bundles[id] = cp
	return nil
}

func (f *fakeStore) Fetch(ctx context.Context, id [16]byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Fetch:" + hex.EncodeToString(id[:]))
	data, ok := f.bundles[id]
	if !ok {
		return nil, errNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (f *fakeStore) FetchPrefix(ctx context.Context, id [16]byte, n int) ([]byte, error) {
	data, err := f.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if n > len(data) {
		n = len(data)
	}
	return data[:n], nil
}

func (f *fakeStore) Delete(ctx context.Context, id [16]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Delete:" + hex.EncodeToString(id[:]))
	delete(f.bundles, id)
	return nil
}

func (f *fakeStore) MarkBroken(ctx context.Context, id [16]byte, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("MarkBroken:" + hex.EncodeToString(id[:]))
	f.broken[id] = reason
	delete(f.bundles, id)
	return nil
}

var errNotFound = &fakeStoreError{"bundle not found"}

type fakeStoreError struct{ msg string }

func (e *fakeStoreError) Error() string { return e.msg }
