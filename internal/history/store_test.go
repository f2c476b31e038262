package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PCNicolo/duck-db-proj-sub001/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_InsertAndList(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, &domain.HistoryEntry{
		ID:         "q1",
		SQLText:    "SELECT * FROM orders",
		Kind:       "SELECT",
		DurationMs: 12,
		Rows:       100,
		CacheHit:   false,
	}))
	require.NoError(t, s.Insert(ctx, &domain.HistoryEntry{
		ID:         "q2",
		SQLText:    "SELECT * FROM orders",
		Kind:       "SELECT",
		DurationMs: 1,
		Rows:       100,
		CacheHit:   true,
	}))

	entries, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "q2", entries[0].ID)
	assert.True(t, entries[0].CacheHit)
	assert.NotEmpty(t, entries[0].CreatedAt)
	assert.Equal(t, "q1", entries[1].ID)
	assert.Equal(t, int64(12), entries[1].DurationMs)
}

func TestStore_InsertRecordsError(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, &domain.HistoryEntry{
		ID:      "bad",
		SQLText: "SELECT nope",
		Kind:    "SELECT",
		Error:   "column nope does not exist",
	}))

	entries, err := s.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "column nope does not exist", entries[0].Error)
}

func TestStore_ListLimit(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Insert(ctx, &domain.HistoryEntry{
			ID:        fmt.Sprintf("q%d", i),
			SQLText:   "SELECT 1",
			Kind:      "SELECT",
			CreatedAt: fmt.Sprintf("2026-08-29T00:00:0%dZ", i),
		}))
	}

	entries, err := s.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "q4", entries[0].ID)

	// Non-positive limit falls back to the default.
	entries, err = s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, &domain.HistoryEntry{ID: "q1", SQLText: "SELECT 1", Kind: "SELECT"}))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "q1", entries[0].ID)
}
