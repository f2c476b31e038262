package query

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PCNicolo/duck-db-proj-sub001/internal/cache"
	"github.com/PCNicolo/duck-db-proj-sub001/internal/domain"
	"github.com/PCNicolo/duck-db-proj-sub001/internal/metrics"
	"github.com/PCNicolo/duck-db-proj-sub001/internal/pool"
	"github.com/PCNicolo/duck-db-proj-sub001/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testRows = [][]interface{}{
	{1, "alpha"},
	{2, "beta"},
}

// newTestService wires a facade over a real pool backed by the connector.
func newTestService(t *testing.T, connector domain.Connector) (*Service, *testutil.MockHistoryRepo) {
	t.Helper()

	p, err := pool.New(context.Background(), connector, pool.Config{
		MinConnections: 1,
		MaxConnections: 2,
		AcquireTimeout: time.Second,
	}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(p.Close)

	historyRepo := &testutil.MockHistoryRepo{}
	svc := NewService(Deps{
		Pool:    p,
		Cache:   cache.New(cache.Config{MaxEntries: 10, MaxBytes: 1 << 20}, discardLogger()),
		Metrics: metrics.NewCollector(metrics.Config{LogSlowQueries: false}, discardLogger()),
		History: historyRepo,
		Logger:  discardLogger(),
	})
	return svc, historyRepo
}

func healthyConnector() *testutil.MockConnector {
	return &testutil.MockConnector{Columns: []string{"id", "name"}, RowsPerHandle: testRows}
}

func TestService_Execute_MissThenHit(t *testing.T) {
	t.Parallel()

	connector := healthyConnector()
	svc, history := newTestService(t, connector)
	ctx := context.Background()

	first, err := svc.Execute(ctx, "SELECT * FROM things", nil, ExecOptions{})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, 2, first.Result.RowCount)
	assert.Equal(t, []string{"id", "name"}, first.Result.Columns)
	assert.NotEmpty(t, first.QueryID)

	second, err := svc.Execute(ctx, "select  *  from THINGS", nil, ExecOptions{})
	require.NoError(t, err)
	assert.True(t, second.CacheHit, "normalized-identical query should hit the cache")
	assert.Equal(t, first.Result.Rows, second.Result.Rows)

	stats := svc.Statistics()
	assert.Equal(t, int64(2), stats.Queries.TotalQueries)
	assert.Equal(t, int64(1), stats.Queries.CacheHits)
	assert.Equal(t, int64(1), stats.Cache.Hits)

	require.Len(t, history.Entries, 2)
	assert.False(t, history.Entries[0].CacheHit)
	assert.True(t, history.Entries[1].CacheHit)
}

func TestService_Execute_BypassCache(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, healthyConnector())
	ctx := context.Background()

	_, err := svc.Execute(ctx, "SELECT * FROM things", nil, ExecOptions{BypassCache: true})
	require.NoError(t, err)

	second, err := svc.Execute(ctx, "SELECT * FROM things", nil, ExecOptions{BypassCache: true})
	require.NoError(t, err)
	assert.False(t, second.CacheHit)
	assert.Zero(t, svc.Statistics().Cache.Hits)
	assert.Zero(t, svc.Statistics().Cache.CurrentEntries)
}

func TestService_Execute_ValidationError(t *testing.T) {
	t.Parallel()

	svc, history := newTestService(t, healthyConnector())

	_, err := svc.Execute(context.Background(), "   ", nil, ExecOptions{})

	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Empty(t, history.Entries, "rejected input should not be recorded")
}

func TestService_Execute_ParamsDistinguishCacheEntries(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, healthyConnector())
	ctx := context.Background()

	_, err := svc.Execute(ctx, "SELECT * FROM things WHERE id = ?", []interface{}{1}, ExecOptions{})
	require.NoError(t, err)

	other, err := svc.Execute(ctx, "SELECT * FROM things WHERE id = ?", []interface{}{2}, ExecOptions{})
	require.NoError(t, err)
	assert.False(t, other.CacheHit, "different params must not share a cache entry")
}

func TestService_Execute_WriteInvalidatesTouchedTables(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, healthyConnector())
	ctx := context.Background()

	_, err := svc.Execute(ctx, "SELECT * FROM things", nil, ExecOptions{})
	require.NoError(t, err)
	_, err = svc.Execute(ctx, "SELECT * FROM other_table", nil, ExecOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, svc.Statistics().Cache.CurrentEntries)

	_, err = svc.Execute(ctx, "INSERT INTO things VALUES (3, 'gamma')", nil, ExecOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, svc.Statistics().Cache.CurrentEntries,
		"write should invalidate cached results over the touched table")

	hit, err := svc.Execute(ctx, "SELECT * FROM other_table", nil, ExecOptions{})
	require.NoError(t, err)
	assert.True(t, hit.CacheHit, "untouched table stays cached")
}

func TestTouchedTables(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{name: "insert", sql: "INSERT INTO things VALUES (3, 'gamma')", want: []string{"things"}},
		{name: "update", sql: "UPDATE customers SET name = 'x' WHERE id = 1", want: []string{"customers"}},
		{name: "delete", sql: "DELETE FROM things WHERE id = 1", want: []string{"things"}},
		{name: "drop table", sql: "DROP TABLE things", want: []string{"things"}},
		{name: "alter table", sql: "ALTER TABLE things ADD COLUMN note TEXT", want: []string{"things"}},
		{name: "ctas includes source", sql: "CREATE TABLE summary AS SELECT * FROM things", want: []string{"summary", "things"}},
		{name: "case folded and deduped", sql: "INSERT INTO Things SELECT * FROM THINGS", want: []string{"things"}},
		{name: "no tables", sql: "VACUUM", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, touchedTables(tt.sql))
		})
	}
}

func TestService_Execute_UpdateAndDDLInvalidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		write string
	}{
		{name: "update", write: "UPDATE things SET name = 'x' WHERE id = 1"},
		{name: "delete", write: "DELETE FROM things WHERE id = 1"},
		{name: "drop", write: "DROP TABLE things"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc, _ := newTestService(t, healthyConnector())
			ctx := context.Background()

			_, err := svc.Execute(ctx, "SELECT * FROM things", nil, ExecOptions{})
			require.NoError(t, err)
			require.Equal(t, 1, svc.Statistics().Cache.CurrentEntries)

			_, err = svc.Execute(ctx, tt.write, nil, ExecOptions{})
			require.NoError(t, err)

			assert.Zero(t, svc.Statistics().Cache.CurrentEntries,
				"stale result must not survive the write")
		})
	}
}

func TestService_Execute_OnlySelectsAreCached(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, healthyConnector())
	ctx := context.Background()

	_, err := svc.Execute(ctx, "INSERT INTO things VALUES (1, 'x')", nil, ExecOptions{})
	require.NoError(t, err)

	assert.Zero(t, svc.Statistics().Cache.CurrentEntries)
}

func TestService_Execute_CategorizesEngineErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		engineErr    error
		wantCategory domain.ErrorCategory
		wantHints    bool
	}{
		{
			name:         "missing table",
			engineErr:    errors.New(`Catalog Error: Table with name missing_tbl does not exist!`),
			wantCategory: domain.CategoryTableNotFound,
			wantHints:    true,
		},
		{
			name:         "missing column",
			engineErr:    errors.New(`Binder Error: Referenced column "nope" not found in FROM clause!`),
			wantCategory: domain.CategoryColumnNotFound,
			wantHints:    true,
		},
		{
			name:         "syntax",
			engineErr:    errors.New(`Parser Error: syntax error at or near "SELEC"`),
			wantCategory: domain.CategorySyntax,
			wantHints:    true,
		},
		{
			name:         "type mismatch",
			engineErr:    errors.New(`Conversion Error: Could not convert string 'abc' to INT32`),
			wantCategory: domain.CategoryTypeMismatch,
			wantHints:    true,
		},
		{
			name:         "permission",
			engineErr:    errors.New(`IO Error: permission denied opening file "/data/x.db"`),
			wantCategory: domain.CategoryPermissionDenied,
			wantHints:    true,
		},
		{
			name:         "unknown",
			engineErr:    errors.New("something exploded"),
			wantCategory: domain.CategoryUnknown,
			wantHints:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			connector := &testutil.MockConnector{
				ConnectFn: func(ctx context.Context) (domain.Handle, error) {
					return &testutil.MockHandle{
						ExecuteFn: func(ctx context.Context, sqlText string, args ...interface{}) (domain.Cursor, error) {
							if sqlText == "SELECT 1" {
								return &testutil.MockCursor{ColumnNames: []string{"1"}, Data: [][]interface{}{{1}}}, nil
							}
							return nil, tt.engineErr
						},
					}, nil
				},
			}
			svc, history := newTestService(t, connector)

			_, err := svc.Execute(context.Background(), "SELECT * FROM wherever", nil, ExecOptions{})

			var execErr *domain.ExecutionError
			require.ErrorAs(t, err, &execErr)
			assert.Equal(t, tt.wantCategory, execErr.Category)
			if tt.wantHints {
				assert.NotEmpty(t, execErr.Suggestions)
			}

			require.Len(t, history.Entries, 1)
			assert.NotEmpty(t, history.Entries[0].Error)

			// A failed query must not leak its handle.
			assert.Zero(t, svc.Statistics().Pool.InUse)
		})
	}
}

func TestService_Execute_FailedQueryNotCached(t *testing.T) {
	t.Parallel()

	var fail bool
	connector := &testutil.MockConnector{
		ConnectFn: func(ctx context.Context) (domain.Handle, error) {
			return &testutil.MockHandle{
				ExecuteFn: func(ctx context.Context, sqlText string, args ...interface{}) (domain.Cursor, error) {
					if sqlText == "SELECT 1" || !fail {
						return &testutil.MockCursor{ColumnNames: []string{"1"}, Data: [][]interface{}{{1}}}, nil
					}
					return nil, errors.New("Parser Error: syntax error")
				},
			}, nil
		},
	}
	svc, _ := newTestService(t, connector)
	ctx := context.Background()

	fail = true
	_, err := svc.Execute(ctx, "SELECT broken", nil, ExecOptions{})
	require.Error(t, err)
	assert.Zero(t, svc.Statistics().Cache.CurrentEntries)

	// Once the engine recovers the same text executes fresh.
	fail = false
	exec, err := svc.Execute(ctx, "SELECT broken", nil, ExecOptions{})
	require.NoError(t, err)
	assert.False(t, exec.CacheHit)
}

func TestService_ExecuteStreaming_DeliversChunks(t *testing.T) {
	t.Parallel()

	svc, history := newTestService(t, healthyConnector())

	var got [][]interface{}
	exec, err := svc.ExecuteStreaming(context.Background(), "SELECT * FROM things", nil, ExecOptions{},
		func(columns []string, rows [][]interface{}) error {
			assert.Equal(t, []string{"id", "name"}, columns)
			got = append(got, rows...)
			return nil
		})

	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.False(t, exec.Partial)
	require.Len(t, history.Entries, 1)
	assert.Equal(t, 2, history.Entries[0].Rows)

	// Streaming never populates the cache.
	assert.Zero(t, svc.Statistics().Cache.CurrentEntries)
}

func TestService_ExecuteStreaming_CallbackErrorAborts(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, healthyConnector())

	wantErr := errors.New("consumer gave up")
	_, err := svc.ExecuteStreaming(context.Background(), "SELECT * FROM things", nil, ExecOptions{},
		func(columns []string, rows [][]interface{}) error {
			return wantErr
		})

	require.ErrorIs(t, err, wantErr)
	assert.Zero(t, svc.Statistics().Pool.InUse)
}

// slowCursor blocks FetchChunk until the context is cancelled, then keeps
// serving rows so cancellation must come from the chunk-boundary check.
type slowCursor struct {
	release chan struct{}
	served  bool
}

func (c *slowCursor) Columns() []string { return []string{"n"} }

func (c *slowCursor) FetchChunk(n int) ([][]interface{}, error) {
	if !c.served {
		c.served = true
		return [][]interface{}{{1}}, nil
	}
	<-c.release
	return [][]interface{}{{2}}, nil
}

func (c *slowCursor) Close() error { return nil }

func TestService_ExecuteStreaming_Cancel(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	connector := &testutil.MockConnector{
		ConnectFn: func(ctx context.Context) (domain.Handle, error) {
			return &testutil.MockHandle{
				ExecuteFn: func(ctx context.Context, sqlText string, args ...interface{}) (domain.Cursor, error) {
					if sqlText == "SELECT 1" {
						return &testutil.MockCursor{ColumnNames: []string{"1"}, Data: [][]interface{}{{1}}}, nil
					}
					return &slowCursor{release: release}, nil
				},
			}, nil
		},
	}
	svc, _ := newTestService(t, connector)

	firstChunk := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		_, err := svc.ExecuteStreaming(context.Background(), "SELECT * FROM big", nil,
			ExecOptions{QueryID: "stream-1"},
			func(columns []string, rows [][]interface{}) error {
				select {
				case <-firstChunk:
				default:
					close(firstChunk)
				}
				return nil
			})
		errCh <- err
	}()

	<-firstChunk
	require.True(t, svc.Cancel("stream-1"))
	close(release)

	var cancelled *domain.CancelledError
	select {
	case err := <-errCh:
		require.ErrorAs(t, err, &cancelled)
		assert.Equal(t, "stream-1", cancelled.QueryID)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled stream did not finish")
	}

	assert.False(t, svc.Cancel("stream-1"), "finished query is no longer cancellable")
	assert.Zero(t, svc.Statistics().Pool.InUse)
}

func TestService_ExecuteStreaming_KeepPartialOnCancel(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	connector := &testutil.MockConnector{
		ConnectFn: func(ctx context.Context) (domain.Handle, error) {
			return &testutil.MockHandle{
				ExecuteFn: func(ctx context.Context, sqlText string, args ...interface{}) (domain.Cursor, error) {
					if sqlText == "SELECT 1" {
						return &testutil.MockCursor{ColumnNames: []string{"1"}, Data: [][]interface{}{{1}}}, nil
					}
					return &slowCursor{release: release}, nil
				},
			}, nil
		},
	}
	svc, history := newTestService(t, connector)

	firstChunk := make(chan struct{})
	type outcome struct {
		exec *Execution
		err  error
	}
	outCh := make(chan outcome, 1)
	go func() {
		exec, err := svc.ExecuteStreaming(context.Background(), "SELECT * FROM big", nil,
			ExecOptions{QueryID: "stream-2", KeepPartialOnCancel: true},
			func(columns []string, rows [][]interface{}) error {
				select {
				case <-firstChunk:
				default:
					close(firstChunk)
				}
				return nil
			})
		outCh <- outcome{exec, err}
	}()

	<-firstChunk
	require.True(t, svc.Cancel("stream-2"))
	close(release)

	select {
	case out := <-outCh:
		require.NoError(t, out.err)
		assert.True(t, out.exec.Partial)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled stream did not finish")
	}

	require.Len(t, history.Entries, 1)
	assert.Equal(t, 1, history.Entries[0].Rows, "partial delivery is recorded")
}

func TestService_Execute_LateCancelKeepsHandle(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connector := &testutil.MockConnector{
		ConnectFn: func(ctx context.Context) (domain.Handle, error) {
			return &testutil.MockHandle{
				ExecuteFn: func(ctx context.Context, sqlText string, args ...interface{}) (domain.Cursor, error) {
					if err := ctx.Err(); err != nil {
						return nil, err
					}
					if sqlText != "SELECT 1" {
						// The caller goes away while the statement runs.
						cancel()
					}
					return &testutil.MockCursor{ColumnNames: []string{"1"}, Data: [][]interface{}{{1}}}, nil
				},
			}, nil
		},
	}
	svc, _ := newTestService(t, connector)

	exec, err := svc.Execute(ctx, "SELECT * FROM things", nil, ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, exec.Result.RowCount)

	stats := svc.Statistics()
	assert.Equal(t, 1, stats.Pool.Idle, "healthy handle survives the caller's cancellation")
	assert.Equal(t, int64(1), connector.Connects(), "no replacement handle should be created")
}

func TestService_RegisterFile(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var executed []string
	connector := &testutil.MockConnector{
		ConnectFn: func(ctx context.Context) (domain.Handle, error) {
			return &testutil.MockHandle{
				ExecuteFn: func(ctx context.Context, sqlText string, args ...interface{}) (domain.Cursor, error) {
					mu.Lock()
					executed = append(executed, sqlText)
					mu.Unlock()
					return &testutil.MockCursor{ColumnNames: []string{"ok"}, Data: [][]interface{}{{1}}}, nil
				},
			}, nil
		},
	}
	svc, _ := newTestService(t, connector)
	ctx := context.Background()

	_, err := svc.Execute(ctx, "SELECT * FROM trips", nil, ExecOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, svc.Statistics().Cache.CurrentEntries)

	require.NoError(t, svc.RegisterFile(ctx, "/data/trips.csv", "trips", ""))

	mu.Lock()
	var ddl string
	for _, stmt := range executed {
		if strings.HasPrefix(stmt, "CREATE OR REPLACE VIEW") {
			ddl = stmt
		}
	}
	mu.Unlock()
	assert.Equal(t, `CREATE OR REPLACE VIEW "trips" AS SELECT * FROM read_csv_auto('/data/trips.csv')`, ddl,
		"format should be inferred from the extension")

	stats := svc.Statistics()
	assert.Equal(t, 1, stats.Pool.Idle, "registration hands its handle back")
	assert.Zero(t, stats.Cache.CurrentEntries,
		"re-registering a table drops its cached results")
}

func TestService_RegisterFile_Validation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, healthyConnector())
	ctx := context.Background()

	tests := []struct {
		name   string
		path   string
		table  string
		format string
	}{
		{name: "missing path", path: "", table: "t", format: "csv"},
		{name: "missing table", path: "/data/x.csv", table: "", format: "csv"},
		{name: "unknown format", path: "/data/x.xlsx", table: "t", format: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := svc.RegisterFile(ctx, tt.path, tt.table, tt.format)
			var validation *domain.ValidationError
			assert.ErrorAs(t, err, &validation)
		})
	}
}

func TestService_ClearCache(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, healthyConnector())
	ctx := context.Background()

	_, err := svc.Execute(ctx, "SELECT * FROM things", nil, ExecOptions{})
	require.NoError(t, err)

	removed := svc.ClearCache("")
	assert.Equal(t, 1, removed)
	assert.Zero(t, svc.Statistics().Cache.CurrentEntries)
}

func TestService_HistoryFailureDoesNotFailQuery(t *testing.T) {
	t.Parallel()

	connector := healthyConnector()
	p, err := pool.New(context.Background(), connector, pool.Config{
		MinConnections: 1, MaxConnections: 2, AcquireTimeout: time.Second,
	}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(p.Close)

	svc := NewService(Deps{
		Pool:    p,
		Cache:   cache.New(cache.Config{MaxEntries: 10, MaxBytes: 1 << 20}, discardLogger()),
		Metrics: metrics.NewCollector(metrics.Config{}, discardLogger()),
		History: &testutil.MockHistoryRepo{
			InsertFn: func(ctx context.Context, e *domain.HistoryEntry) error {
				return errors.New("disk full")
			},
		},
		Logger: discardLogger(),
	})

	exec, err := svc.Execute(context.Background(), "SELECT * FROM things", nil, ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, exec.Result.RowCount)
}
