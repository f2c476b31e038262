// Package cache provides a bounded, size-aware LRU cache of materialized
// query results keyed by normalized-query fingerprints.
package cache

import (
	"container/list"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PCNicolo/duck-db-proj-sub001/internal/domain"
)

// Config bounds the cache. Both limits are enforced after every mutation.
type Config struct {
	MaxEntries int
	MaxBytes   int64
}

// DefaultConfig returns the bounds used when none are supplied.
func DefaultConfig() Config {
	return Config{MaxEntries: 100, MaxBytes: 256 << 20}
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	Evictions      int64   `json:"evictions"`
	Rejected       int64   `json:"rejected"`
	HitRate        float64 `json:"hit_rate"`
	CurrentEntries int     `json:"current_entries"`
	CurrentBytes   int64   `json:"current_bytes"`
}

type entry struct {
	key        string
	result     *domain.Result
	queryText  string
	insertedAt time.Time
	size       int64
}

// ResultCache is a thread-safe LRU over materialized results. The list
// front is most-recently-used; eviction pops from the back until both the
// entry-count and byte bounds hold.
type ResultCache struct {
	mu      sync.Mutex
	cfg     Config
	order   *list.List
	entries map[string]*list.Element
	bytes   int64
	logger  *slog.Logger

	hits      int64
	misses    int64
	evictions int64
	rejected  int64
}

// New creates a ResultCache with the given bounds.
func New(cfg Config, logger *slog.Logger) *ResultCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultConfig().MaxBytes
	}
	return &ResultCache{
		cfg:     cfg,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		logger:  logger,
	}
}

// Get returns a copy of the cached result for key, marking the
// entry most-recently-used. The second return reports a hit.
func (c *ResultCache) Get(key string) (*domain.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(el)
	return el.Value.(*entry).result.Clone(), true
}

// Put stores a result under key. Results larger than MaxBytes on their own
// are rejected outright; otherwise least-recently-used entries are evicted
// until both bounds hold. The cache keeps its own copy of the result.
func (c *ResultCache) Put(key string, result *domain.Result, queryText string) {
	size := EstimateSize(result)

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.cfg.MaxBytes {
		c.rejected++
		c.logger.Debug("result exceeds cache byte bound, not cached",
			"size", size, "max_bytes", c.cfg.MaxBytes)
		return
	}

	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}

	for c.order.Len() > 0 && (c.bytes+size > c.cfg.MaxBytes || c.order.Len() >= c.cfg.MaxEntries) {
		c.evictions++
		c.removeLocked(c.order.Back())
	}

	e := &entry{
		key:        key,
		result:     result.Clone(),
		queryText:  queryText,
		insertedAt: time.Now(),
		size:       size,
	}
	c.entries[key] = c.order.PushFront(e)
	c.bytes += size
}

// Invalidate removes entries. With an empty pattern everything is cleared;
// otherwise only entries whose originating query text contains the pattern
// are removed. Returns the number of entries removed.
func (c *ResultCache) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pattern == "" {
		n := c.order.Len()
		c.order.Init()
		c.entries = make(map[string]*list.Element)
		c.bytes = 0
		return n
	}

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if strings.Contains(el.Value.(*entry).queryText, pattern) {
			c.removeLocked(el)
			removed++
		}
		el = next
	}
	return removed
}

// Stats returns a snapshot of the cache counters.
func (c *ResultCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:           c.hits,
		Misses:         c.misses,
		Evictions:      c.evictions,
		Rejected:       c.rejected,
		CurrentEntries: c.order.Len(),
		CurrentBytes:   c.bytes,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// removeLocked unlinks an element and adjusts the byte total. Caller holds mu.
func (c *ResultCache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.entries, e.key)
	c.bytes -= e.size
}

// EstimateSize approximates the in-memory footprint of a result in bytes.
// Per-cell costs are rough approximations.
func EstimateSize(r *domain.Result) int64 {
	if r == nil {
		return 0
	}
	var size int64
	for _, col := range r.Columns {
		size += int64(len(col)) + 16
	}
	for _, row := range r.Rows {
		size += 24 // slice header + backing array overhead
		for _, v := range row {
			size += cellSize(v)
		}
	}
	return size
}

func cellSize(v interface{}) int64 {
	switch x := v.(type) {
	case nil:
		return 8
	case string:
		return int64(len(x)) + 16
	case []byte:
		return int64(len(x)) + 24
	case bool:
		return 1
	case time.Time:
		return 24
	default:
		return 16 // ints, floats, and driver scalars
	}
}
