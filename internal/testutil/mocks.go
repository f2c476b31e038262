// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/PCNicolo/duck-db-proj-sub001/internal/domain"
)

// === Connector Mock ===

// MockConnector implements domain.Connector for testing. Without a
// ConnectFn it hands out fresh MockHandles serving RowsPerHandle rows.
type MockConnector struct {
	ConnectFn     func(ctx context.Context) (domain.Handle, error)
	RowsPerHandle [][]interface{}
	Columns       []string

	connects atomic.Int64
}

// Connect implements the interface method for testing.
func (m *MockConnector) Connect(ctx context.Context) (domain.Handle, error) {
	m.connects.Add(1)
	if m.ConnectFn != nil {
		return m.ConnectFn(ctx)
	}
	return &MockHandle{Columns: m.Columns, Rows: m.RowsPerHandle}, nil
}

// Connects reports how many handles were requested.
func (m *MockConnector) Connects() int64 { return m.connects.Load() }

// === Handle Mock ===

// MockHandle implements domain.Handle. Without an ExecuteFn it serves
// the configured Rows for every statement. Broken makes every execution
// fail, which is how tests simulate a dead connection.
type MockHandle struct {
	ExecuteFn func(ctx context.Context, sqlText string, args ...interface{}) (domain.Cursor, error)
	Columns   []string
	Rows      [][]interface{}
	Broken    bool

	mu       sync.Mutex
	Executed []string // statements seen, for assertions
	Closed   bool
}

// Execute implements the interface method for testing.
func (m *MockHandle) Execute(ctx context.Context, sqlText string, args ...interface{}) (domain.Cursor, error) {
	m.mu.Lock()
	m.Executed = append(m.Executed, sqlText)
	broken := m.Broken
	m.mu.Unlock()

	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, sqlText, args...)
	}
	if broken {
		return nil, context.Canceled
	}
	return &MockCursor{ColumnNames: m.Columns, Data: m.Rows}, nil
}

// Close implements the interface method for testing.
func (m *MockHandle) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// SetBroken flips the handle into the failing state.
func (m *MockHandle) SetBroken(broken bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Broken = broken
}

// === Cursor Mock ===

// MockCursor implements domain.Cursor over an in-memory row slice.
type MockCursor struct {
	ColumnNames []string
	Data        [][]interface{}
	FetchErr    error // returned by every FetchChunk when set

	pos    int
	closed bool
}

// Columns implements the interface method for testing.
func (m *MockCursor) Columns() []string { return m.ColumnNames }

// FetchChunk implements the interface method for testing.
func (m *MockCursor) FetchChunk(n int) ([][]interface{}, error) {
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	if m.pos >= len(m.Data) {
		return nil, nil
	}
	end := m.pos + n
	if end > len(m.Data) {
		end = len(m.Data)
	}
	chunk := m.Data[m.pos:end]
	m.pos = end
	return chunk, nil
}

// Close implements the interface method for testing.
func (m *MockCursor) Close() error {
	m.closed = true
	return nil
}

// === History Repository Mock ===

// MockHistoryRepo implements domain.HistoryRepository in memory.
type MockHistoryRepo struct {
	InsertFn func(ctx context.Context, e *domain.HistoryEntry) error

	mu      sync.Mutex
	Entries []*domain.HistoryEntry // collected entries for assertions
}

// Insert implements the interface method for testing.
func (m *MockHistoryRepo) Insert(ctx context.Context, e *domain.HistoryEntry) error {
	if m.InsertFn != nil {
		if err := m.InsertFn(ctx, e); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, e)
	return nil
}

// List implements the interface method for testing.
func (m *MockHistoryRepo) List(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.HistoryEntry, 0, len(m.Entries))
	for i := len(m.Entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *m.Entries[i])
	}
	return out, nil
}

// LastEntry returns the last collected history entry, or nil if none.
func (m *MockHistoryRepo) LastEntry() *domain.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Entries) == 0 {
		return nil
	}
	return m.Entries[len(m.Entries)-1]
}
