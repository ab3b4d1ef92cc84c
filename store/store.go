// Package store implements the bundle store: the component that lists,
// uploads, fetches, deletes, and renames bundle files on the remote
// volume. The remote is assumed to be an ordinary directory supporting
// create/read/rename/delete with atomic rename semantics — the core
// never talks to an object-storage API directly (spec.md §1 scopes the
// remote to a "dumb file-only" volume).
package store

import (
	"context"
	"io"
)

// Store is the bundle store contract. Implementations must make Upload
// atomic from a reader's point of view: a bundle is either completely
// absent or completely present, never partially written, at any path a
// List or Fetch call can observe.
type Store interface {
	// List returns every bundle id currently stored, skipping (and
	// logging, never failing the whole call on) any file that doesn't
	// parse as a well-formed bundle header.
	List(ctx context.Context) ([]Entry, error)

	// Upload publishes a new bundle's complete bytes under id. It must
	// not be observable by List/Fetch until fully written.
	Upload(ctx context.Context, id [16]byte, data []byte) error

	// Fetch returns a bundle's full bytes.
	Fetch(ctx context.Context, id [16]byte) ([]byte, error)

	// FetchPrefix returns only the first n bytes of a bundle — enough
	// to read the header and info block without pulling chunk data.
	FetchPrefix(ctx context.Context, id [16]byte, n int) ([]byte, error)

	// Delete removes a bundle. Deleting an id that doesn't exist is not
	// an error (idempotent, to tolerate repeated vacuum/check retries).
	Delete(ctx context.Context, id [16]byte) error

	// MarkBroken takes a bundle out of service, recording reason, used
	// by check --repair; FileStore renames it aside with a ".broken"
	// suffix. The original id continues to resolve to nothing afterward.
	MarkBroken(ctx context.Context, id [16]byte, reason string) error
}

// Entry describes one bundle found during a List call.
type Entry struct {
	ID   [16]byte
	Size int64
}

// Writer is satisfied by anything that can stream bundle bytes out.
// No code in this module refers to it.
type Writer interface {
	io.Writer
}
