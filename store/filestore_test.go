package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dswd/zvault/bundle"
	"github.com/dswd/zvault/codec/chash"
)

func makeBundle(t *testing.T) ([16]byte, []byte) {
	t.Helper()
	w := bundle.NewWriter(bundle.WriterConfig{Mode: bundle.Data, HashMethod: chash.Blake2})
	var fp [chash.Size]byte
	fp[0] = 7
	_, err := w.AddChunk(fp, []byte("payload"))
	require.NoError(t, err)
	raw, err := w.Finish()
	require.NoError(t, err)
	return w.ID(), raw
}

func TestUploadFetchDelete(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	ctx := context.Background()

	id, raw := makeBundle(t)
	require.NoError(t, s.Upload(ctx, id, raw))

	fetched, err := s.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, raw, fetched)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)

	require.NoError(t, s.Delete(ctx, id))
	entries, err = s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchPrefix(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	ctx := context.Background()

	id, raw := makeBundle(t)
	require.NoError(t, s.Upload(ctx, id, raw))

	prefix, err := s.FetchPrefix(ctx, id, 16)
	require.NoError(t, err)
	assert.Len(t, prefix, 16)
	assert.Equal(t, raw[:16], prefix)
}

func TestDeleteMissingIsNotError(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	var id [16]byte
	copy(id[:], uuid.New()[:])
	assert.NoError(t, s.Delete(context.Background(), id))
}

func TestMarkBroken(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	ctx := context.Background()

	id, raw := makeBundle(t)
	require.NoError(t, s.Upload(ctx, id, raw))
	require.NoError(t, s.MarkBroken(ctx, id, "bad mac"))

	_, err := s.Fetch(ctx, id)
	assert.Error(t, err)
}

func TestListSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	ctx := context.Background()

	id, raw := makeBundle(t)
	require.NoError(t, s.Upload(ctx, id, raw))

	var junkID [16]byte
	copy(junkID[:], uuid.New()[:])
	require.NoError(t, s.Upload(ctx, junkID, []byte("not a bundle")))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
}
