package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(filepath.Join(t.TempDir(), "catalog.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func sampleEntity(fileID string) Entity {
	return Entity{
		FileID:        fileID,
		Kind:          "image",
		ThumbnailURL:  "https://cdn/thumb/" + fileID + ".jpg",
		Tags:          map[string]int{"crow": 2},
		UploadedAt:    "2025-06-01T12:00:00Z",
		LastUpdatedAt: time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC),
	}
}

func TestStore_UpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := sampleEntity("f-001")
	require.NoError(t, s.Upsert(ctx, want))

	got, err := s.Get(ctx, "f-001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Kind, got.Kind)
	assert.Equal(t, want.ThumbnailURL, got.ThumbnailURL)
	assert.Equal(t, want.Tags, got.Tags)
	assert.Equal(t, want.UploadedAt, got.UploadedAt)
	assert.True(t, want.LastUpdatedAt.Equal(got.LastUpdatedAt))
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_UpsertReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := sampleEntity("f-001")
	require.NoError(t, s.Upsert(ctx, e))

	e.Tags = map[string]int{"crow": 5, "magpie": 1}
	require.NoError(t, s.Upsert(ctx, e))

	got, err := s.Get(ctx, "f-001")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"crow": 5, "magpie": 1}, got.Tags)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := sampleEntity("f-old")
	older.UploadedAt = "2025-05-01T00:00:00Z"
	require.NoError(t, s.Upsert(ctx, older))

	newer := sampleEntity("f-new")
	newer.UploadedAt = "2025-06-15T00:00:00Z"
	require.NoError(t, s.Upsert(ctx, newer))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "f-new", list[0].FileID)
	assert.Equal(t, "f-old", list[1].FileID)
}

func TestStore_NilMapsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := Entity{FileID: "f-bare", Kind: "unknown"}
	require.NoError(t, s.Upsert(ctx, e))

	got, err := s.Get(ctx, "f-bare")
	require.NoError(t, err)
	assert.Nil(t, got.Tags)
	assert.Nil(t, got.Attributes)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()

	s, err := NewStore(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, sampleEntity("f-001")))
	require.NoError(t, s.Close())

	s2, err := NewStore(path, testLogger())
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, "f-001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "image", got.Kind)
}
