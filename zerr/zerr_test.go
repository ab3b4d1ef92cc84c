package zerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapAndKindOf(t *testing.T) {
	base := errors.New("bad mac")
	wrapped := Wrap(base, BundleCorrupt, "reading bundle")

	kind, ok := KindOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, BundleCorrupt, kind)
	assert.Contains(t, wrapped.Error(), "bad mac")
	assert.Contains(t, wrapped.Error(), "reading bundle")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, Config, "no-op"))
}

func TestAsMissingKind(t *testing.T) {
	wrapped := Wrap(errors.New("denied"), SourceTransient, "scanning")
	_, ok := As(wrapped, IndexCorrupt)
	assert.False(t, ok)

	match, ok := As(wrapped, SourceTransient)
	assert.True(t, ok)
	assert.Equal(t, wrapped, match)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "lock-contention", LockContention.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
