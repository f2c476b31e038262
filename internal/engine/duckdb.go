// Package engine adapts an embedded DuckDB database to the domain's
// Connector/Handle/Cursor capability. One Handle pins one driver
// connection, so the pool above it can hand out exclusive ownership.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/PCNicolo/duck-db-proj-sub001/internal/domain"
)

// Options holds engine session configuration. Named fields cover the
// options the service tunes itself; Extra passes through any further
// engine-specific settings unmodified.
type Options struct {
	Threads           int
	MemoryLimit       string
	EnableObjectCache bool
	Extra             map[string]string
}

// DefaultOptions returns the session configuration used when none is
// supplied.
func DefaultOptions() Options {
	return Options{
		Threads:           4,
		MemoryLimit:       "2GB",
		EnableObjectCache: true,
	}
}

// settings renders the options as SET statements, deterministically ordered.
func (o Options) settings() []string {
	var out []string
	if o.Threads > 0 {
		out = append(out, fmt.Sprintf("SET threads TO %d", o.Threads))
	}
	if o.MemoryLimit != "" {
		out = append(out, fmt.Sprintf("SET memory_limit = '%s'", o.MemoryLimit))
	}
	if o.EnableObjectCache {
		out = append(out, "SET enable_object_cache = true")
	}
	keys := make([]string, 0, len(o.Extra))
	for k := range o.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, fmt.Sprintf("SET %s = '%s'", k, o.Extra[k]))
	}
	return out
}

// Connector opens exclusive DuckDB connections for the pool. It owns a
// single *sql.DB sized so that database/sql never multiplexes two callers
// onto one pinned connection.
type Connector struct {
	db     *sql.DB
	opts   Options
	logger *slog.Logger
}

// NewConnector opens the backing DuckDB database. database is a file path
// or empty for in-memory. maxHandles bounds how many driver connections
// may exist at once and should match the pool's maxConnections.
func NewConnector(database string, maxHandles int, opts Options, logger *slog.Logger) (*Connector, error) {
	db, err := sql.Open("duckdb", database)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %q: %w", database, err)
	}
	if maxHandles <= 0 {
		maxHandles = 1
	}
	db.SetMaxOpenConns(maxHandles)
	db.SetMaxIdleConns(maxHandles)

	return &Connector{db: db, opts: opts, logger: logger}, nil
}

// Connect pins a dedicated driver connection and applies the session
// options. The returned handle owns the connection until closed.
func (c *Connector) Connect(ctx context.Context) (domain.Handle, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire duckdb connection: %w", err)
	}
	for _, stmt := range c.opts.settings() {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			// Unknown settings are not fatal: log and keep the handle.
			c.logger.Debug("engine setting rejected", "stmt", stmt, "error", err)
		}
	}
	return &handle{conn: conn}, nil
}

// Close releases the backing database. Outstanding handles keep working
// until individually closed.
func (c *Connector) Close() error {
	return c.db.Close()
}

// handle is one pinned DuckDB connection.
type handle struct {
	conn *sql.Conn
}

func (h *handle) Execute(ctx context.Context, sqlText string, args ...interface{}) (domain.Cursor, error) {
	rows, err := h.conn.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("read columns: %w", err)
	}
	return &cursor{rows: rows, columns: cols}, nil
}

func (h *handle) Close() error {
	return h.conn.Close()
}

// cursor adapts *sql.Rows to chunked fetching.
type cursor struct {
	rows    *sql.Rows
	columns []string
	done    bool
}

func (c *cursor) Columns() []string { return c.columns }

// FetchChunk scans up to n rows. An empty slice means the result set is
// exhausted; the caller still owns closing the cursor.
func (c *cursor) FetchChunk(n int) ([][]interface{}, error) {
	if c.done || n <= 0 {
		return nil, nil
	}
	chunk := make([][]interface{}, 0, n)
	for len(chunk) < n {
		if !c.rows.Next() {
			c.done = true
			if err := c.rows.Err(); err != nil {
				return chunk, err
			}
			break
		}
		vals := make([]interface{}, len(c.columns))
		ptrs := make([]interface{}, len(c.columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := c.rows.Scan(ptrs...); err != nil {
			return chunk, err
		}
		// Byte slices alias driver buffers and break JSON encoding; store strings.
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		chunk = append(chunk, vals)
	}
	return chunk, nil
}

func (c *cursor) Close() error {
	return c.rows.Close()
}

// Drain materializes the remainder of a cursor into a Result, fetching in
// chunks of chunkSize rows.
func Drain(cur domain.Cursor, chunkSize int) (*domain.Result, error) {
	if chunkSize <= 0 {
		chunkSize = 1024
	}
	res := &domain.Result{Columns: append([]string(nil), cur.Columns()...)}
	for {
		chunk, err := cur.FetchChunk(chunkSize)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			break
		}
		res.Rows = append(res.Rows, chunk...)
	}
	res.RowCount = len(res.Rows)
	return res, nil
}

// quoteIdent quotes an identifier for use in view DDL.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// RegisterCSV exposes a CSV file as a view in the shared catalog,
// matching the read_csv_auto registration the dashboard uses for ad-hoc
// files. Views are catalog objects, so every handle on the same
// database sees them.
func RegisterCSV(ctx context.Context, h domain.Executor, path, table string) error {
	return registerFile(ctx, h, table, fmt.Sprintf("read_csv_auto('%s')", escapeLiteral(path)))
}

// RegisterParquet exposes a Parquet file as a view in the shared catalog.
func RegisterParquet(ctx context.Context, h domain.Executor, path, table string) error {
	return registerFile(ctx, h, table, fmt.Sprintf("read_parquet('%s')", escapeLiteral(path)))
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, `'`, `''`)
}

func registerFile(ctx context.Context, h domain.Executor, table, from string) error {
	cur, err := h.Execute(ctx, fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM %s", quoteIdent(table), from))
	if err != nil {
		return fmt.Errorf("register %s: %w", table, err)
	}
	return cur.Close()
}
