package cache

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PCNicolo/duck-db-proj-sub001/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func resultWithRows(n int) *domain.Result {
	r := &domain.Result{Columns: []string{"id", "name"}}
	for i := 0; i < n; i++ {
		r.Rows = append(r.Rows, []interface{}{i, fmt.Sprintf("row-%d", i)})
	}
	r.RowCount = n
	return r
}

func TestResultCache_GetPut(t *testing.T) {
	t.Parallel()

	c := New(Config{MaxEntries: 10, MaxBytes: 1 << 20}, discardLogger())

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("k1", resultWithRows(3), "SELECT * FROM t1")

	got, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, 3, got.RowCount)
	assert.Equal(t, []string{"id", "name"}, got.Columns)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0.5, stats.HitRate)
	assert.Equal(t, 1, stats.CurrentEntries)
	assert.Positive(t, stats.CurrentBytes)
}

func TestResultCache_ReturnsCopies(t *testing.T) {
	t.Parallel()

	c := New(Config{MaxEntries: 10, MaxBytes: 1 << 20}, discardLogger())

	original := resultWithRows(1)
	c.Put("k", original, "SELECT 1")

	// Mutating what the caller handed in must not change the cached copy.
	original.Rows[0][1] = "tampered"

	first, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "row-0", first.Rows[0][1])

	// Mutating a returned result must not change later reads either.
	first.Rows[0][1] = "also tampered"

	second, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "row-0", second.Rows[0][1])
}

func TestResultCache_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c := New(Config{MaxEntries: 3, MaxBytes: 1 << 20}, discardLogger())

	c.Put("a", resultWithRows(1), "SELECT a")
	c.Put("b", resultWithRows(1), "SELECT b")
	c.Put("c", resultWithRows(1), "SELECT c")

	// Touch "a" so "b" becomes least recently used.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("d", resultWithRows(1), "SELECT d")

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	for _, key := range []string{"a", "c", "d"} {
		_, ok := c.Get(key)
		assert.True(t, ok, "entry %q should survive", key)
	}
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestResultCache_ByteBound(t *testing.T) {
	t.Parallel()

	small := resultWithRows(2)
	perEntry := EstimateSize(small)

	// Room for roughly two entries.
	c := New(Config{MaxEntries: 100, MaxBytes: perEntry*2 + perEntry/2}, discardLogger())

	c.Put("a", resultWithRows(2), "SELECT a")
	c.Put("b", resultWithRows(2), "SELECT b")
	c.Put("c", resultWithRows(2), "SELECT c")

	stats := c.Stats()
	assert.LessOrEqual(t, stats.CurrentBytes, perEntry*2+perEntry/2)
	assert.Equal(t, 2, stats.CurrentEntries)
	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should have been evicted for space")
}

func TestResultCache_RejectsOversizedResult(t *testing.T) {
	t.Parallel()

	c := New(Config{MaxEntries: 10, MaxBytes: 64}, discardLogger())

	c.Put("big", resultWithRows(100), "SELECT * FROM huge")

	_, ok := c.Get("big")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Zero(t, stats.CurrentEntries)
	assert.Zero(t, stats.Evictions, "an oversized result must not evict existing entries")
}

func TestResultCache_PutReplacesExisting(t *testing.T) {
	t.Parallel()

	c := New(Config{MaxEntries: 10, MaxBytes: 1 << 20}, discardLogger())

	c.Put("k", resultWithRows(1), "SELECT 1")
	c.Put("k", resultWithRows(5), "SELECT 1")

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 5, got.RowCount)
	assert.Equal(t, 1, c.Stats().CurrentEntries)
}

func TestResultCache_Invalidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		pattern     string
		wantRemoved int
		wantLeft    []string
	}{
		{name: "empty pattern clears all", pattern: "", wantRemoved: 3, wantLeft: nil},
		{name: "substring match", pattern: "orders", wantRemoved: 2, wantLeft: []string{"c"}},
		{name: "no match removes nothing", pattern: "nonexistent", wantRemoved: 0, wantLeft: []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := New(Config{MaxEntries: 10, MaxBytes: 1 << 20}, discardLogger())
			c.Put("a", resultWithRows(1), "SELECT * FROM orders")
			c.Put("b", resultWithRows(1), "SELECT count(*) FROM orders WHERE x > 1")
			c.Put("c", resultWithRows(1), "SELECT * FROM customers")

			removed := c.Invalidate(tt.pattern)

			assert.Equal(t, tt.wantRemoved, removed)
			assert.Equal(t, len(tt.wantLeft), c.Stats().CurrentEntries)
			for _, key := range tt.wantLeft {
				_, ok := c.Get(key)
				assert.True(t, ok, "entry %q should survive", key)
			}
		})
	}
}

func TestResultCache_InvalidateResetsBytes(t *testing.T) {
	t.Parallel()

	c := New(Config{MaxEntries: 10, MaxBytes: 1 << 20}, discardLogger())
	c.Put("a", resultWithRows(5), "SELECT a")
	require.Positive(t, c.Stats().CurrentBytes)

	c.Invalidate("")

	assert.Zero(t, c.Stats().CurrentBytes)
	assert.Zero(t, c.Stats().CurrentEntries)
}
