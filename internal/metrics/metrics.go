// Package metrics collects per-execution query telemetry: timings, row
// counts, cache hits, and errors, with a bounded history and derived
// aggregate statistics.
package metrics

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Kind classifies a statement by its leading keyword.
type Kind string

// Statement kinds.
const (
	KindSelect Kind = "SELECT"
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
	KindDDL    Kind = "DDL"
	KindOther  Kind = "OTHER"
)

const (
	maxQueryTextLen = 1000
	rollingWindow   = 100
)

// Metric is the telemetry for one query execution. A metric is Active
// between StartQuery and EndQuery, and immutable once finalized into the
// history.
type Metric struct {
	QueryID         string        `json:"query_id"`
	QueryText       string        `json:"query_text"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time,omitzero"`
	Duration        time.Duration `json:"duration_ns"`
	RowsReturned    int           `json:"rows_returned"`
	CacheHit        bool          `json:"cache_hit"`
	Error           string        `json:"error,omitempty"`
	Kind            Kind          `json:"kind"`
	Tables          []string      `json:"tables,omitempty"`
	MemoryPeakBytes int64         `json:"memory_peak_bytes,omitempty"`
}

// Aggregate is derived on demand from the history and running counters.
type Aggregate struct {
	TotalQueries  int64            `json:"total_queries"`
	TotalExecTime time.Duration    `json:"total_exec_time_ns"`
	AvgExecTime   time.Duration    `json:"avg_exec_time_ns"`
	TotalRows     int64            `json:"total_rows"`
	CacheHits     int64            `json:"cache_hits"`
	CacheHitRate  float64          `json:"cache_hit_rate"`
	Errors        int64            `json:"errors"`
	ErrorRate     float64          `json:"error_rate"`
	KindCounts    map[Kind]int64   `json:"kind_counts"`
	SlowQueries   int64            `json:"slow_queries"`
	ActiveQueries int              `json:"active_queries"`
	HistorySize   int              `json:"history_size"`
}

// Config tunes the collector.
type Config struct {
	MaxHistory         int
	SlowQueryThreshold time.Duration
	LogSlowQueries     bool
	// PersistPath enables append-only NDJSON persistence of finalized
	// metrics when non-empty. Existing records are reloaded on start.
	PersistPath string
}

// DefaultConfig returns the collector settings used when none are supplied.
func DefaultConfig() Config {
	return Config{
		MaxHistory:         1000,
		SlowQueryThreshold: 2 * time.Second,
		LogSlowQueries:     true,
	}
}

// Collector tracks active and finalized query metrics. All methods are
// safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	cfg     Config
	active  map[string]*Metric
	history []*Metric // oldest first, bounded by cfg.MaxHistory
	logger  *slog.Logger
	sink    *persistSink

	totalQueries  int64
	totalExecTime time.Duration
	totalRows     int64
	cacheHits     int64
	errors        int64
	slowQueries   int64
}

// NewCollector creates a collector. When cfg.PersistPath is set, previously
// persisted metrics are reloaded into the history and counters; reload
// failures are logged and otherwise ignored.
func NewCollector(cfg Config, logger *slog.Logger) *Collector {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultConfig().MaxHistory
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = DefaultConfig().SlowQueryThreshold
	}
	c := &Collector{
		cfg:    cfg,
		active: make(map[string]*Metric),
		logger: logger,
	}
	if cfg.PersistPath != "" {
		c.sink = newPersistSink(cfg.PersistPath, logger)
		for _, m := range c.sink.load() {
			c.appendLocked(m)
		}
	}
	return c
}

// StartQuery begins tracking a query. A reused id overwrites the prior
// active metric without error.
func (c *Collector) StartQuery(id, queryText string) *Metric {
	m := &Metric{
		QueryID:   id,
		QueryText: truncate(queryText, maxQueryTextLen),
		StartTime: time.Now(),
		Kind:      DetectKind(queryText),
		Tables:    ExtractTables(queryText),
	}
	c.mu.Lock()
	c.active[id] = m
	c.mu.Unlock()
	return m
}

// EndQuery finalizes the active metric for id. An unknown id logs a
// warning and no-ops — a recoverable inconsistency, not an error.
func (c *Collector) EndQuery(id string, rowsReturned int, cacheHit bool, execErr error, memoryPeakBytes int64) {
	c.mu.Lock()

	m, ok := c.active[id]
	if !ok {
		c.mu.Unlock()
		c.logger.Warn("end of untracked query ignored", "query_id", id)
		return
	}
	delete(c.active, id)

	m.EndTime = time.Now()
	m.Duration = m.EndTime.Sub(m.StartTime)
	m.RowsReturned = rowsReturned
	m.CacheHit = cacheHit
	m.MemoryPeakBytes = memoryPeakBytes
	if execErr != nil {
		m.Error = execErr.Error()
	}

	c.appendLocked(m)

	slow := c.cfg.LogSlowQueries && m.Duration > c.cfg.SlowQueryThreshold
	sink := c.sink
	c.mu.Unlock()

	if slow {
		c.logger.Warn("slow query",
			"query_id", m.QueryID,
			"duration", m.Duration,
			"rows", m.RowsReturned,
			"cache_hit", m.CacheHit,
			"query", truncate(m.QueryText, 200))
	}
	if sink != nil {
		sink.write(m)
	}
}

// appendLocked adds a finalized metric to history and counters. Caller
// holds mu.
func (c *Collector) appendLocked(m *Metric) {
	if len(c.history) >= c.cfg.MaxHistory {
		copy(c.history, c.history[1:])
		c.history[len(c.history)-1] = m
	} else {
		c.history = append(c.history, m)
	}
	c.totalQueries++
	c.totalExecTime += m.Duration
	c.totalRows += int64(m.RowsReturned)
	if m.CacheHit {
		c.cacheHits++
	}
	if m.Error != "" {
		c.errors++
	}
	if m.Duration > c.cfg.SlowQueryThreshold {
		c.slowQueries++
	}
}

// Statistics derives aggregate numbers: all-time totals plus a rolling
// average over the most recent history entries (cache hits excluded from
// the average, as they measure lookup, not execution).
func (c *Collector) Statistics() Aggregate {
	c.mu.Lock()
	defer c.mu.Unlock()

	agg := Aggregate{
		TotalQueries:  c.totalQueries,
		TotalExecTime: c.totalExecTime,
		TotalRows:     c.totalRows,
		CacheHits:     c.cacheHits,
		Errors:        c.errors,
		SlowQueries:   c.slowQueries,
		KindCounts:    make(map[Kind]int64),
		ActiveQueries: len(c.active),
		HistorySize:   len(c.history),
	}
	if c.totalQueries > 0 {
		agg.CacheHitRate = float64(c.cacheHits) / float64(c.totalQueries)
		agg.ErrorRate = float64(c.errors) / float64(c.totalQueries)
	}

	recent := c.history
	if len(recent) > rollingWindow {
		recent = recent[len(recent)-rollingWindow:]
	}
	var execTotal time.Duration
	var execCount int64
	for _, m := range recent {
		agg.KindCounts[m.Kind]++
		if !m.CacheHit {
			execTotal += m.Duration
			execCount++
		}
	}
	if execCount > 0 {
		agg.AvgExecTime = execTotal / time.Duration(execCount)
	}
	return agg
}

// SlowQueries returns up to limit finalized metrics ordered slowest first.
func (c *Collector) SlowQueries(limit int) []Metric {
	c.mu.Lock()
	out := snapshot(c.history)
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Duration > out[j].Duration })
	return clip(out, limit)
}

// RecentQueries returns up to limit finalized metrics, newest first.
func (c *Collector) RecentQueries(limit int) []Metric {
	c.mu.Lock()
	out := snapshot(c.history)
	c.mu.Unlock()

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return clip(out, limit)
}

// TableStats summarizes execution per referenced table.
type TableStats struct {
	Count     int64         `json:"count"`
	TotalTime time.Duration `json:"total_time_ns"`
	AvgTime   time.Duration `json:"avg_time_ns"`
	TotalRows int64         `json:"total_rows"`
}

// PerTable groups history statistics by referenced table name.
func (c *Collector) PerTable() map[string]TableStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]TableStats)
	for _, m := range c.history {
		for _, table := range m.Tables {
			s := out[table]
			s.Count++
			s.TotalTime += m.Duration
			s.TotalRows += int64(m.RowsReturned)
			s.AvgTime = s.TotalTime / time.Duration(s.Count)
			out[table] = s
		}
	}
	return out
}

// Close flushes and closes the persistence sink, if any.
func (c *Collector) Close() error {
	if c.sink != nil {
		return c.sink.close()
	}
	return nil
}

func snapshot(history []*Metric) []Metric {
	out := make([]Metric, len(history))
	for i, m := range history {
		out[i] = *m
	}
	return out
}

func clip(ms []Metric, limit int) []Metric {
	if limit > 0 && len(ms) > limit {
		return ms[:limit]
	}
	return ms
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// DetectKind classifies a statement by case-insensitive prefix match.
func DetectKind(queryText string) Kind {
	q := strings.ToUpper(strings.TrimSpace(queryText))
	switch {
	case strings.HasPrefix(q, "SELECT"):
		return KindSelect
	case strings.HasPrefix(q, "INSERT"):
		return KindInsert
	case strings.HasPrefix(q, "UPDATE"):
		return KindUpdate
	case strings.HasPrefix(q, "DELETE"):
		return KindDelete
	case strings.HasPrefix(q, "CREATE"), strings.HasPrefix(q, "ALTER"), strings.HasPrefix(q, "DROP"):
		return KindDDL
	default:
		return KindOther
	}
}

var tableRE = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([A-Za-z_][A-Za-z0-9_.]*)`)

// ExtractTables pulls referenced table names out of a query by matching
// FROM/JOIN clauses. Best-effort, not a parser: subqueries, quoted
// identifiers, and table functions are ignored. Duplicates are removed;
// order is the order of first appearance.
func ExtractTables(queryText string) []string {
	matches := tableRE.FindAllStringSubmatch(queryText, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		name := strings.ToLower(m[1])
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
