package domain

import "context"

// Connector creates engine handles against a single backing analytical
// database. Implemented by engine.Connector; the pool depends on this
// interface rather than the concrete DuckDB type.
type Connector interface {
	Connect(ctx context.Context) (Handle, error)
}

// Executor runs SQL statements. It is the subset of Handle that
// checked-out pool handles expose; they keep Close to themselves.
type Executor interface {
	// Execute runs a SQL statement with positional parameters and returns
	// a cursor over the result. The cursor must be closed before the
	// executor runs another statement.
	Execute(ctx context.Context, sqlText string, args ...interface{}) (Cursor, error)
}

// Handle is an opaque, stateful connection capable of executing SQL
// against the embedded analytical engine. A handle is never shared
// concurrently between two callers — the pool enforces exclusive
// ownership while a handle is checked out.
type Handle interface {
	Executor
	Close() error
}

// Cursor yields result rows in chunks. FetchChunk returns up to n rows;
// an empty slice signals exhaustion.
type Cursor interface {
	Columns() []string
	FetchChunk(n int) ([][]interface{}, error)
	Close() error
}

// HistoryRepository records executed queries durably. Implemented by
// history.Store; nil disables history capture in the facade.
type HistoryRepository interface {
	Insert(ctx context.Context, e *HistoryEntry) error
	List(ctx context.Context, limit int) ([]HistoryEntry, error)
}

// HistoryEntry is one durable query-history record.
type HistoryEntry struct {
	ID         string
	SQLText    string
	Kind       string
	DurationMs int64
	Rows       int
	CacheHit   bool
	Error      string
	CreatedAt  string
}
