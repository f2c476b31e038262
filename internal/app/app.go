// Package app provides application-level wiring and dependency injection:
// it assembles the engine connector, connection pool, result cache,
// metrics collector, and history store into the query facade.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/PCNicolo/duck-db-proj-sub001/internal/cache"
	"github.com/PCNicolo/duck-db-proj-sub001/internal/config"
	"github.com/PCNicolo/duck-db-proj-sub001/internal/engine"
	"github.com/PCNicolo/duck-db-proj-sub001/internal/history"
	"github.com/PCNicolo/duck-db-proj-sub001/internal/metrics"
	"github.com/PCNicolo/duck-db-proj-sub001/internal/pool"
	"github.com/PCNicolo/duck-db-proj-sub001/internal/service/query"
)

// App holds the fully-wired application.
type App struct {
	Query      *query.Service
	Pool       *pool.Pool
	Maintainer *pool.Maintainer // nil when the sweep schedule is empty
	History    *history.Store   // nil when history is disabled

	connector *engine.Connector
	logger    *slog.Logger
}

// New wires all subsystems from the configuration. The pool is warmed
// eagerly, so a misconfigured engine fails here rather than on the first
// query.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	opts := engine.DefaultOptions()
	opts.Threads = cfg.Engine.Threads
	if cfg.Engine.MemoryLimit != "" {
		opts.MemoryLimit = cfg.Engine.MemoryLimit
	}
	opts.EnableObjectCache = cfg.Engine.EnableObjectCache

	connector, err := engine.NewConnector(cfg.Engine.Database, cfg.Pool.MaxConnections, opts,
		logger.With("component", "engine"))
	if err != nil {
		return nil, fmt.Errorf("create engine connector: %w", err)
	}

	p, err := pool.New(ctx, connector, pool.Config{
		Database:        cfg.Engine.Database,
		MinConnections:  cfg.Pool.MinConnections,
		MaxConnections:  cfg.Pool.MaxConnections,
		AcquireTimeout:  cfg.Pool.AcquireTimeout,
		ValidationQuery: cfg.Pool.ValidationQuery,
	}, logger.With("component", "pool"))
	if err != nil {
		_ = connector.Close()
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	var maintainer *pool.Maintainer
	if cfg.Pool.SweepSchedule != "" {
		maintainer, err = pool.NewMaintainer(p, cfg.Pool.SweepSchedule,
			logger.With("component", "pool-maintenance"))
		if err != nil {
			p.Close()
			_ = connector.Close()
			return nil, fmt.Errorf("schedule pool maintenance: %w", err)
		}
	}

	resultCache := cache.New(cache.Config{
		MaxEntries: cfg.Cache.MaxEntries,
		MaxBytes:   cfg.Cache.MaxBytes,
	}, logger.With("component", "cache"))

	collector := metrics.NewCollector(metrics.Config{
		MaxHistory:         cfg.Metrics.MaxHistory,
		SlowQueryThreshold: cfg.Metrics.SlowQueryThreshold,
		LogSlowQueries:     cfg.Metrics.LogSlowQueries,
		PersistPath:        cfg.Metrics.PersistPath,
	}, logger.With("component", "metrics"))

	deps := query.Deps{
		Pool:    p,
		Cache:   resultCache,
		Metrics: collector,
		Logger:  logger.With("component", "query"),
	}

	var historyStore *history.Store
	if cfg.HistoryDBPath != "" {
		historyStore, err = history.Open(cfg.HistoryDBPath)
		if err != nil {
			p.Close()
			_ = connector.Close()
			return nil, fmt.Errorf("open history store: %w", err)
		}
		deps.History = historyStore
	}

	return &App{
		Query:      query.NewService(deps),
		Pool:       p,
		Maintainer: maintainer,
		History:    historyStore,
		connector:  connector,
		logger:     logger,
	}, nil
}

// Start begins background maintenance.
func (a *App) Start() {
	if a.Maintainer != nil {
		a.Maintainer.Start()
	}
}

// Close tears everything down in dependency order.
func (a *App) Close() {
	if a.Maintainer != nil {
		a.Maintainer.Stop()
	}
	if err := a.Query.Close(); err != nil {
		a.logger.Warn("error closing query service", "error", err)
	}
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			a.logger.Warn("error closing history store", "error", err)
		}
	}
	if err := a.connector.Close(); err != nil {
		a.logger.Warn("error closing engine connector", "error", err)
	}
}
