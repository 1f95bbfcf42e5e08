package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_PutGet(t *testing.T) {
	s := newTestStore(t, 24*time.Hour)
	ctx := context.Background()

	e := Entry{
		Key:          Key(KeyInput{Model: "claude-sonnet-4-5", Prompt: "hello"}),
		Model:        "claude-sonnet-4-5",
		Competitor:   "acme",
		PageType:     "product",
		Response:     `{"products":[]}`,
		InputTokens:  1200,
		OutputTokens: 340,
	}
	require.NoError(t, s.Put(ctx, e))

	got, err := s.Get(ctx, e.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.Response, got.Response)
	assert.Equal(t, e.InputTokens, got.InputTokens)
	assert.False(t, got.ExpiresAt.IsZero())
}

func TestSQLiteStore_TouchCountsHits(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Entry{Key: "k", Model: "m", Response: "{}"}))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Zero(t, got.Hits, "a fresh entry starts with no hits")

	require.NoError(t, s.Touch(ctx, "k"))
	require.NoError(t, s.Touch(ctx, "k"))

	got, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.Hits)
	assert.False(t, got.LastUsedAt.After(time.Now().UTC().Add(time.Second)))
}

func TestSQLiteStore_MissReturnsNil(t *testing.T) {
	s := newTestStore(t, time.Hour)

	got, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_ExpiredEntryIsMiss(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	e := Entry{
		Key:       "expired",
		Model:     "claude-sonnet-4-5",
		Response:  "{}",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, s.Put(ctx, e))

	got, err := s.Get(ctx, "expired")
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := s.EvictExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteStore_PutOverwrites(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Entry{Key: "k", Model: "m", Response: "old"}))
	require.NoError(t, s.Put(ctx, Entry{Key: "k", Model: "m", Response: "new"}))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new", got.Response)
}

func TestSQLiteStore_EvictLRU(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, key := range []string{"oldest", "middle", "newest"} {
		require.NoError(t, s.Put(ctx, Entry{
			Key:        key,
			Model:      "m",
			Response:   "{}",
			LastUsedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	n, err := s.EvictLRU(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.Get(ctx, "oldest")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = s.Get(ctx, "newest")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
