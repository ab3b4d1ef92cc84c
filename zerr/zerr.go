// Package zerr implements the error-kind taxonomy from the repository's
// error handling design: every error that crosses a component boundary is
// tagged with a Kind so callers can branch on it with As or KindOf instead
// of string matching, while still carrying a wrapped stack via pkg/errors.
package zerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error by its recovery and surfacing policy.
type Kind int

const (
	// Config covers unknown algorithms, bad key files: fatal, pre-flight.
	Config Kind = iota
	// IOTransient covers fsync failures, partial writes: retried on the
	// write path, fatal if retries are exhausted.
	IOTransient
	// IORemote covers a missing mount or ENOSPC: fatal, no recovery.
	IORemote
	// BundleCorrupt covers bad magic, hash mismatch, bad MAC: the bundle
	// is skipped on read and offered for repair.
	BundleCorrupt
	// IndexCorrupt covers a bad header or load-factor overflow: rebuilt
	// from the bundle store under repair.
	IndexCorrupt
	// BackupCorrupt covers a missing chunk or decode failure: partial
	// recovery only under repair.
	BackupCorrupt
	// LockContention means another process already holds the repository
	// lock: fails fast.
	LockContention
	// SourceTransient covers permission-denied or unsupported source
	// files during a backup scan: the entry is skipped with a warning.
	SourceTransient
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "config"
	case IOTransient:
		return "io-transient"
	case IORemote:
		return "io-remote"
	case BundleCorrupt:
		return "bundle-corrupt"
	case IndexCorrupt:
		return "index-corrupt"
	case BackupCorrupt:
		return "backup-corrupt"
	case LockContention:
		return "lock-contention"
	case SourceTransient:
		return "source-transient"
	default:
		return "unknown"
	}
}

// kindError pairs a Kind with an underlying, stack-annotated error.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.err)
}

func (e *kindError) Unwrap() error { return e.err }

// Is reports whether target is a kind-tagged error of the same Kind, so
// errors.Is matches two such errors by kind alone.
func (e *kindError) Is(target error) bool {
	other, ok := target.(*kindError)
	return ok && other.kind == e.kind
}

// Wrap attaches kind to err, annotating it with a stack trace at the
// call site. Wrap(nil, ...) returns nil.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: errors.WithMessage(errors.WithStack(err), msg)}
}

// New creates a fresh Kind-tagged error with a stack trace.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, err: errors.New(msg)}
}

// As reports whether err (or any error in its chain) carries kind, and
// returns the matching error when found.
func As(err error, kind Kind) (error, bool) {
	for err != nil {
		if ke, ok := err.(*kindError); ok {
			if ke.kind == kind {
				return ke, true
			}
			err = ke.err
			continue
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrapper.Unwrap()
	}
	return nil, false
}

// KindOf returns the Kind attached to err, or false if none is attached.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if ke, ok := err.(*kindError); ok {
			return ke.kind, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0, false
		}
		err = unwrapper.Unwrap()
	}
	return 0, false
}
