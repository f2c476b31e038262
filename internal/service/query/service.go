// Package query is the execution facade tying the connection pool, the
// result cache, the metrics collector, and the history store into a
// single entry point for running SQL.
package query

import (
	"context"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PCNicolo/duck-db-proj-sub001/internal/cache"
	"github.com/PCNicolo/duck-db-proj-sub001/internal/domain"
	"github.com/PCNicolo/duck-db-proj-sub001/internal/engine"
	"github.com/PCNicolo/duck-db-proj-sub001/internal/metrics"
	"github.com/PCNicolo/duck-db-proj-sub001/internal/pool"
)

const defaultChunkSize = 1000

// Deps holds the collaborators the facade orchestrates. History is
// optional; nil disables durable history capture.
type Deps struct {
	Pool    *pool.Pool
	Cache   *cache.ResultCache
	Metrics *metrics.Collector
	History domain.HistoryRepository
	Logger  *slog.Logger
}

// ExecOptions tune a single execution. The zero value means: use the
// cache, pool-default acquire timeout, no execution deadline, generated
// query id.
type ExecOptions struct {
	// BypassCache skips both the lookup and the write-back.
	BypassCache bool
	// AcquireTimeout overrides the pool's handle-wait budget.
	AcquireTimeout time.Duration
	// ExecTimeout bounds execution once a handle is held.
	ExecTimeout time.Duration
	// QueryID overrides the generated identifier. Reusing an id of a
	// still-active query overwrites its in-flight metric.
	QueryID string
	// KeepPartialOnCancel makes a cancelled streaming execution return
	// the rows delivered so far instead of a cancellation error.
	KeepPartialOnCancel bool
}

// Execution reports how a query ran alongside its result.
type Execution struct {
	QueryID  string         `json:"query_id"`
	Result   *domain.Result `json:"result,omitempty"`
	CacheHit bool           `json:"cache_hit"`
	Partial  bool           `json:"partial,omitempty"`
	Duration time.Duration  `json:"duration_ns"`
}

// Service is the query execution facade. Safe for concurrent use.
type Service struct {
	pool      *pool.Pool
	cache     *cache.ResultCache
	metrics   *metrics.Collector
	history   domain.HistoryRepository
	logger    *slog.Logger
	chunkSize int

	cancels sync.Map // query id -> context.CancelFunc
}

// NewService wires the facade.
func NewService(deps Deps) *Service {
	return &Service{
		pool:      deps.Pool,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		history:   deps.History,
		logger:    deps.Logger,
		chunkSize: defaultChunkSize,
	}
}

// Execute runs a SQL statement to completion and returns the fully
// materialized result. SELECT results are served from and written to the
// cache keyed by the normalized statement plus parameters; statements
// that mutate data invalidate cache entries mentioning the affected
// tables. Every execution, hit or miss, is metered and recorded in
// history.
func (s *Service) Execute(ctx context.Context, sqlText string, params []interface{}, opts ExecOptions) (*Execution, error) {
	if strings.TrimSpace(sqlText) == "" {
		return nil, domain.ErrValidation("sql query is required")
	}

	id := opts.QueryID
	if id == "" {
		id = uuid.NewString()
	}
	start := time.Now()
	s.metrics.StartQuery(id, sqlText)

	kind := metrics.DetectKind(sqlText)
	cacheable := kind == metrics.KindSelect && !opts.BypassCache
	key := cache.Fingerprint(sqlText, params)

	if cacheable {
		if result, ok := s.cache.Get(key); ok {
			s.metrics.EndQuery(id, result.RowCount, true, nil, 0)
			dur := time.Since(start)
			s.record(ctx, id, sqlText, kind, dur, result.RowCount, true, nil)
			return &Execution{QueryID: id, Result: result, CacheHit: true, Duration: dur}, nil
		}
	}

	result, err := s.runOnPool(ctx, id, sqlText, params, opts)
	dur := time.Since(start)
	if err != nil {
		s.metrics.EndQuery(id, 0, false, err, 0)
		s.record(ctx, id, sqlText, kind, dur, 0, false, err)
		return nil, err
	}

	if cacheable {
		s.cache.Put(key, result, sqlText)
	}
	if kind == metrics.KindInsert || kind == metrics.KindUpdate ||
		kind == metrics.KindDelete || kind == metrics.KindDDL {
		s.invalidateTouched(sqlText)
	}

	s.metrics.EndQuery(id, result.RowCount, false, nil, 0)
	s.record(ctx, id, sqlText, kind, dur, result.RowCount, false, nil)
	return &Execution{QueryID: id, Result: result, Duration: dur}, nil
}

// runOnPool acquires a handle, executes, drains the cursor, and always
// returns the handle to the pool.
func (s *Service) runOnPool(ctx context.Context, id, sqlText string, params []interface{}, opts ExecOptions) (*domain.Result, error) {
	h, err := s.pool.Acquire(ctx, opts.AcquireTimeout)
	if err != nil {
		return nil, err
	}
	// Release validation must outlive the caller's deadline or a healthy
	// handle gets discarded whenever the caller cancels late.
	defer s.pool.Release(context.WithoutCancel(ctx), h)

	execCtx := ctx
	if opts.ExecTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, opts.ExecTimeout)
		defer cancel()
	}

	cur, err := h.Execute(execCtx, sqlText, params...)
	if err != nil {
		return nil, CategorizeError(err)
	}
	result, err := engine.Drain(cur, s.chunkSize)
	if err != nil {
		return nil, CategorizeError(err)
	}
	return result, nil
}

// writeTableRE finds the tables a mutating statement touches: INSERT
// INTO t, UPDATE t, DELETE FROM t, and CREATE/ALTER/DROP/TRUNCATE
// TABLE t. FROM/JOIN are included so CTAS sources invalidate too.
var writeTableRE = regexp.MustCompile(`(?i)\b(?:INTO|UPDATE|TABLE|FROM|JOIN)\s+([A-Za-z_][A-Za-z0-9_.]*)`)

// touchedTables extracts the table names a write statement affects.
// Best-effort, not a parser; over-matching only costs extra cache
// invalidation.
func touchedTables(sqlText string) []string {
	matches := writeTableRE.FindAllStringSubmatch(sqlText, -1)
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

// invalidateTouched drops cache entries whose query text mentions any
// table named in the mutating statement.
func (s *Service) invalidateTouched(sqlText string) {
	for _, table := range touchedTables(sqlText) {
		if n := s.cache.Invalidate(table); n > 0 {
			s.logger.Debug("invalidated cache entries after write",
				"table", table, "entries", n)
		}
	}
}

// record persists a history entry when a repository is configured.
// History failures never affect the query outcome.
func (s *Service) record(ctx context.Context, id, sqlText string, kind metrics.Kind, dur time.Duration, rows int, cacheHit bool, execErr error) {
	if s.history == nil {
		return
	}
	entry := &domain.HistoryEntry{
		ID:         id,
		SQLText:    sqlText,
		Kind:       string(kind),
		DurationMs: dur.Milliseconds(),
		Rows:       rows,
		CacheHit:   cacheHit,
	}
	if execErr != nil {
		entry.Error = execErr.Error()
	}
	if err := s.history.Insert(ctx, entry); err != nil {
		s.logger.Warn("failed to record query history", "query_id", id, "error", err)
	}
}

// RegisterFile exposes a CSV or Parquet file as a queryable view named
// table. An empty format is inferred from the file extension. The view
// replaces any previous registration under the same name, so cached
// results mentioning it are invalidated.
func (s *Service) RegisterFile(ctx context.Context, path, table, format string) error {
	if strings.TrimSpace(path) == "" {
		return domain.ErrValidation("file path is required")
	}
	if strings.TrimSpace(table) == "" {
		return domain.ErrValidation("table name is required")
	}
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}

	h, err := s.pool.Acquire(ctx, 0)
	if err != nil {
		return err
	}
	defer s.pool.Release(context.WithoutCancel(ctx), h)

	switch strings.ToLower(format) {
	case "csv":
		err = engine.RegisterCSV(ctx, h, path, table)
	case "parquet":
		err = engine.RegisterParquet(ctx, h, path, table)
	default:
		return domain.ErrValidation("unsupported format %q: want csv or parquet", format)
	}
	if err != nil {
		return CategorizeError(err)
	}

	if n := s.cache.Invalidate(table); n > 0 {
		s.logger.Debug("invalidated cache entries after registration",
			"table", table, "entries", n)
	}
	s.logger.Info("registered file as view", "path", path, "table", table, "format", format)
	return nil
}

// History lists the most recent durable history entries.
func (s *Service) History(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.List(ctx, limit)
}

// ClearCache invalidates cached results whose query text contains the
// pattern; an empty pattern clears everything. Returns the entry count
// removed.
func (s *Service) ClearCache(pattern string) int {
	n := s.cache.Invalidate(pattern)
	s.logger.Info("cache invalidated", "pattern", pattern, "entries", n)
	return n
}

// Statistics is a point-in-time snapshot across all subsystems.
type Statistics struct {
	Pool     pool.Stats                    `json:"pool"`
	Cache    cache.Stats                   `json:"cache"`
	Queries  metrics.Aggregate             `json:"queries"`
	PerTable map[string]metrics.TableStats `json:"per_table,omitempty"`
}

// Statistics gathers pool, cache, and query metrics in one call. The
// subsystems are snapshotted independently, so the numbers can be
// slightly skewed relative to each other under load.
func (s *Service) Statistics() Statistics {
	return Statistics{
		Pool:     s.pool.Stats(),
		Cache:    s.cache.Stats(),
		Queries:  s.metrics.Statistics(),
		PerTable: s.metrics.PerTable(),
	}
}

// SlowQueries returns the slowest completed queries, most recent first.
func (s *Service) SlowQueries(limit int) []metrics.Metric {
	return s.metrics.SlowQueries(limit)
}

// RecentQueries returns the most recently completed queries.
func (s *Service) RecentQueries(limit int) []metrics.Metric {
	return s.metrics.RecentQueries(limit)
}

// Close releases the facade's owned resources. The pool and metrics
// collector are closed; the cache needs no teardown.
func (s *Service) Close() error {
	s.pool.Close()
	return s.metrics.Close()
}
