// Package logctx sets up the structured logger shared by every
// repository operation. It is a thin convenience wrapper over logrus:
// one line at each state-machine transition, warnings on skip/repair
// paths, nothing on the hot per-chunk path.
package logctx

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once sync.Once
	base *logrus.Logger
)

func root() *logrus.Logger {
	once.Do(func() {
		base = logrus.New()
		base.SetOutput(os.Stderr)
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	})
	return base
}

// SetLevel adjusts the log level of the shared logger (e.g. for
// verbose/quiet flags owned by an external CLI front-end).
func SetLevel(level logrus.Level) {
	root().SetLevel(level)
}

// ForRepo returns a logger entry scoped to a repository path, to be
// further scoped per operation with WithOp.
func ForRepo(path string) *logrus.Entry {
	return root().WithField("repo", path)
}

// WithOp narrows an entry to a single repository operation
// (backup, vacuum, check, ...).
func WithOp(entry *logrus.Entry, op string) *logrus.Entry {
	return entry.WithField("op", op)
}
