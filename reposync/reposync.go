// Package reposync implements the repository's local concurrency
// guard: at most one writer (backup, prune, vacuum, config change) at a
// time, any number of concurrent readers (list, info, mount), enforced
// by lockfiles under <repo>/locks/. This is purely a same-host
// coordination mechanism — spec.md §5 is explicit that cross-host
// concurrent writers into the same remote are out of scope and must be
// serialized externally.
package reposync

import (
	"path/filepath"

	"github.com/juju/fslock"
	"golang.org/x/sys/unix"

	"github.com/dswd/zvault/zerr"
)

const lockFileName = "repository.lock"

// WriterLock is the exclusive lock held by the one process allowed to
// mutate a repository at a time.
type WriterLock struct {
	lock *fslock.Lock
}

// AcquireWriter takes the exclusive writer lock under repoDir/locks,
// failing fast (never blocking) if another process already holds it —
// matching spec.md §5's "fails fast" policy for lock contention.
func AcquireWriter(repoDir string) (*WriterLock, error) {
	l := fslock.New(filepath.Join(repoDir, "locks", lockFileName))
	if err := l.TryLock(); err != nil {
		return nil, zerr.Wrap(err, zerr.LockContention, "acquiring repository writer lock")
	}
	return &WriterLock{lock: l}, nil
}

// Release gives up the writer lock.
func (w *WriterLock) Release() error {
	if err := w.lock.Unlock(); err != nil {
		return zerr.Wrap(err, zerr.IOTransient, "releasing repository writer lock")
	}
	return nil
}

// ReaderLock is a shared lock permitting any number of concurrent
// readers but excluding a concurrent writer. fslock only models
// exclusive locks, so the shared variant goes straight to flock(2)
// with LOCK_SH, matching golang.org/x/sys's role across the pack as the
// low-level syscall dependency for exactly this kind of OS primitive.
type ReaderLock struct {
	fd int
}

// AcquireReader takes a shared (read) lock under repoDir/locks,
// failing fast (never blocking) if a writer holds the lock; other
// readers never conflict with it.
func AcquireReader(repoDir string) (*ReaderLock, error) {
	path := filepath.Join(repoDir, "locks", lockFileName)
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CREAT, 0o644)
	if err != nil {
		return nil, zerr.Wrap(err, zerr.Config, "opening repository lock file")
	}
	if err := unix.Flock(fd, unix.LOCK_SH|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		return nil, zerr.Wrap(err, zerr.LockContention, "acquiring repository reader lock")
	}
	return &ReaderLock{fd: fd}, nil
}

// Release gives up the reader lock.
func (r *ReaderLock) Release() error {
	if err := unix.Flock(r.fd, unix.LOCK_UN); err != nil {
		unix.Close(r.fd)
		return zerr.Wrap(err, zerr.IOTransient, "releasing repository reader lock")
	}
	return zerr.Wrap(unix.Close(r.fd), zerr.IOTransient, "closing repository lock file descriptor")
}
