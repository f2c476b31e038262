package query

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PCNicolo/duck-db-proj-sub001/internal/domain"
	"github.com/PCNicolo/duck-db-proj-sub001/internal/metrics"
)

// ChunkFunc receives each fetched chunk in order. Returning an error
// aborts the stream and surfaces the error to the caller.
type ChunkFunc func(columns []string, rows [][]interface{}) error

// ExecuteStreaming runs a statement and delivers rows to fn in chunks
// instead of materializing the full result. Streaming bypasses the cache
// entirely. The execution can be interrupted between chunks with Cancel;
// by default a cancelled stream reports CancelledError, with
// KeepPartialOnCancel set it reports success with Partial true and the
// rows delivered so far.
func (s *Service) ExecuteStreaming(ctx context.Context, sqlText string, params []interface{}, opts ExecOptions, fn ChunkFunc) (*Execution, error) {
	if strings.TrimSpace(sqlText) == "" {
		return nil, domain.ErrValidation("sql query is required")
	}
	if fn == nil {
		return nil, domain.ErrValidation("chunk callback is required")
	}

	id := opts.QueryID
	if id == "" {
		id = uuid.NewString()
	}
	start := time.Now()
	s.metrics.StartQuery(id, sqlText)
	kind := metrics.DetectKind(sqlText)

	var streamCtx context.Context
	var cancel context.CancelFunc
	if opts.ExecTimeout > 0 {
		streamCtx, cancel = context.WithTimeout(ctx, opts.ExecTimeout)
	} else {
		streamCtx, cancel = context.WithCancel(ctx)
	}
	s.cancels.Store(id, cancel)
	defer func() {
		s.cancels.Delete(id)
		cancel()
	}()

	delivered, err := s.streamOnPool(streamCtx, id, sqlText, params, opts, fn)
	dur := time.Since(start)

	var cancelledErr *domain.CancelledError
	if errors.As(err, &cancelledErr) && opts.KeepPartialOnCancel {
		s.metrics.EndQuery(id, delivered, false, nil, 0)
		s.record(ctx, id, sqlText, kind, dur, delivered, false, nil)
		return &Execution{QueryID: id, Partial: true, Duration: dur}, nil
	}
	if err != nil {
		s.metrics.EndQuery(id, delivered, false, err, 0)
		s.record(ctx, id, sqlText, kind, dur, delivered, false, err)
		return nil, err
	}

	s.metrics.EndQuery(id, delivered, false, nil, 0)
	s.record(ctx, id, sqlText, kind, dur, delivered, false, nil)
	return &Execution{QueryID: id, Duration: dur}, nil
}

// streamOnPool does the pooled fetch loop, checking for cancellation at
// every chunk boundary. Returns the number of rows delivered.
func (s *Service) streamOnPool(ctx context.Context, id, sqlText string, params []interface{}, opts ExecOptions, fn ChunkFunc) (int, error) {
	h, err := s.pool.Acquire(ctx, opts.AcquireTimeout)
	if err != nil {
		return 0, err
	}
	defer s.pool.Release(context.WithoutCancel(ctx), h)

	cur, err := h.Execute(ctx, sqlText, params...)
	if err != nil {
		if ctx.Err() != nil {
			return 0, &domain.CancelledError{QueryID: id}
		}
		return 0, CategorizeError(err)
	}
	defer cur.Close()

	delivered := 0
	for {
		chunk, err := cur.FetchChunk(s.chunkSize)
		if err != nil {
			if ctx.Err() != nil {
				return delivered, &domain.CancelledError{QueryID: id}
			}
			return delivered, CategorizeError(err)
		}
		// Cancellation takes effect here, between chunks: rows fetched but
		// not yet delivered are dropped.
		if ctx.Err() != nil {
			return delivered, &domain.CancelledError{QueryID: id}
		}
		if len(chunk) == 0 {
			return delivered, nil
		}
		if err := fn(cur.Columns(), chunk); err != nil {
			return delivered, err
		}
		delivered += len(chunk)
	}
}

// Cancel interrupts a running streaming execution at its next chunk
// boundary. Returns false when no execution with the id is in flight.
func (s *Service) Cancel(queryID string) bool {
	raw, ok := s.cancels.Load(queryID)
	if !ok {
		return false
	}
	if cancelFn, ok := raw.(context.CancelFunc); ok {
		cancelFn()
		s.logger.Info("query cancellation requested", "query_id", queryID)
		return true
	}
	return false
}
