// Package history persists executed-query records in a local SQLite
// file so recent activity survives process restarts.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/PCNicolo/duck-db-proj-sub001/internal/domain"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const defaultListLimit = 50

// Store implements domain.HistoryRepository on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path, runs
// pending migrations, and returns the store. The pool is sized for a
// single writer, which is how SQLite wants to be written to.
func Open(path string) (*Store, error) {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_synchronous", "NORMAL")
	params.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite3", path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Insert records one executed query.
func (s *Store) Insert(ctx context.Context, e *domain.HistoryEntry) error {
	createdAt := e.CreatedAt
	if createdAt == "" {
		createdAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_history (id, sql_text, kind, duration_ms, rows, cache_hit, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SQLText, e.Kind, e.DurationMs, e.Rows, e.CacheHit, e.Error, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert query history: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sql_text, kind, duration_ms, rows, cache_hit, error, created_at
		FROM query_history
		ORDER BY created_at DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list query history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.ID, &e.SQLText, &e.Kind, &e.DurationMs, &e.Rows, &e.CacheHit, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan query history row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query history: %w", err)
	}
	return entries, nil
}

// Close closes the backing database.
func (s *Store) Close() error {
	return s.db.Close()
}
