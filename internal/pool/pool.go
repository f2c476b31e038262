// Package pool manages a bounded set of engine handles shared across
// concurrent callers: synchronous acquire/release with timeout,
// validation-based self-healing, and a maintained minimum of warm idle
// handles.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PCNicolo/duck-db-proj-sub001/internal/domain"
)

// Config is fixed at pool construction.
type Config struct {
	Database        string
	MinConnections  int
	MaxConnections  int
	AcquireTimeout  time.Duration
	ValidationQuery string
}

// DefaultConfig returns the pool sizing used when none is supplied.
func DefaultConfig() Config {
	return Config{
		MinConnections:  2,
		MaxConnections:  5,
		AcquireTimeout:  5 * time.Second,
		ValidationQuery: "SELECT 1",
	}
}

// normalize applies defaults and orders min ≤ max.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.MinConnections < 0 {
		c.MinConnections = 0
	}
	if c.MinConnections > c.MaxConnections {
		c.MinConnections = c.MaxConnections
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = d.AcquireTimeout
	}
	if c.ValidationQuery == "" {
		c.ValidationQuery = d.ValidationQuery
	}
	return c
}

// Stats is a snapshot of pool counters, read under the same lock that
// guards mutation so the numbers are mutually consistent.
type Stats struct {
	Created   int64         `json:"created"`
	Reused    int64         `json:"reused"`
	WaitTotal time.Duration `json:"wait_total_ns"`
	Idle      int           `json:"idle"`
	InUse     int           `json:"in_use"`
}

// Handle wraps one engine handle checked in or out of a pool.
type Handle struct {
	engine    domain.Handle
	pool      *Pool
	createdAt time.Time
}

// Execute delegates to the underlying engine handle.
func (h *Handle) Execute(ctx context.Context, sqlText string, args ...interface{}) (domain.Cursor, error) {
	return h.engine.Execute(ctx, sqlText, args...)
}

// CreatedAt reports when the underlying engine handle was opened.
func (h *Handle) CreatedAt() time.Time { return h.createdAt }

// Pool owns the bounded handle collection. The mutex guards the idle
// slice, the in-use set, and all counters; it is never held across an
// engine call (creation, validation, and execution happen unlocked on
// handles no other caller can reach).
type Pool struct {
	connector domain.Connector
	cfg       Config
	logger    *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	idle   []*Handle
	inUse  map[*Handle]struct{}
	total  int // idle + inUse + handles being created; ≤ cfg.MaxConnections
	closed bool

	created   int64
	reused    int64
	waitTotal time.Duration
}

// New constructs a pool and eagerly warms MinConnections handles,
// creating them concurrently. Warm-up failure closes anything already
// created and fails construction.
func New(ctx context.Context, connector domain.Connector, cfg Config, logger *slog.Logger) (*Pool, error) {
	cfg = cfg.normalize()
	p := &Pool{
		connector: connector,
		cfg:       cfg,
		logger:    logger,
		inUse:     make(map[*Handle]struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	// Warm handles occupy slots like any other, so reserve them before
	// creating; otherwise Acquire sees headroom that does not exist and
	// the pool can exceed MaxConnections.
	p.total = cfg.MinConnections

	g, gctx := errgroup.WithContext(ctx)
	warm := make([]*Handle, cfg.MinConnections)
	for i := 0; i < cfg.MinConnections; i++ {
		g.Go(func() error {
			h, err := p.create(gctx)
			if err != nil {
				return err
			}
			warm[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, h := range warm {
			if h == nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				continue
			}
			p.discard(h)
		}
		return nil, &domain.HandleCreationFailedError{Err: err}
	}

	p.mu.Lock()
	p.idle = append(p.idle, warm...)
	p.mu.Unlock()
	return p, nil
}

// Acquire returns an exclusive handle, blocking up to timeout (zero means
// the configured AcquireTimeout). Broken idle handles are replaced
// transparently; exhaustion after the wait budget returns
// PoolExhaustedError; creation failure returns HandleCreationFailedError.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Handle, error) {
	if timeout <= 0 {
		timeout = p.cfg.AcquireTimeout
	}
	start := time.Now()
	deadline := start.Add(timeout)

	timer := time.AfterFunc(timeout, func() {
		// Wake waiters so they can observe the deadline.
		p.cond.Broadcast()
	})
	defer timer.Stop()

	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, &domain.PoolClosedError{}
		}
		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return nil, err
		}

		// Fast path: reuse an idle handle.
		if n := len(p.idle); n > 0 {
			h := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()

			if p.validate(ctx, h) {
				p.checkOut(h, start, true)
				return h, nil
			}
			// Broken: discard and create a replacement unconditionally.
			p.discard(h)
			replacement, err := p.reserveAndCreate(ctx)
			if err != nil {
				return nil, err
			}
			p.checkOut(replacement, start, false)
			return replacement, nil
		}

		// Headroom: create a fresh handle.
		if p.total < p.cfg.MaxConnections {
			p.total++
			p.mu.Unlock()

			h, err := p.createReserved(ctx)
			if err != nil {
				return nil, err
			}
			p.checkOut(h, start, false)
			return h, nil
		}

		if !time.Now().Before(deadline) {
			p.mu.Unlock()
			return nil, &domain.PoolExhaustedError{Timeout: timeout}
		}
		p.cond.Wait()
	}
}

// Release returns a handle to the pool. The handle is validated first:
// valid handles rejoin the idle queue, broken ones are closed and, when
// the idle set has dropped below the floor, replaced best-effort. On a
// closed pool the handle is simply closed.
func (p *Pool) Release(ctx context.Context, h *Handle) {
	if h == nil {
		return
	}

	p.mu.Lock()
	if _, ok := p.inUse[h]; !ok {
		p.mu.Unlock()
		p.logger.Warn("release of untracked handle ignored")
		return
	}
	delete(p.inUse, h)
	closed := p.closed
	p.mu.Unlock()

	if closed {
		p.discard(h)
		return
	}

	if p.validate(ctx, h) {
		p.mu.Lock()
		p.idle = append(p.idle, h)
		p.mu.Unlock()
		p.cond.Signal()
		return
	}

	p.logger.Debug("replacing broken handle on release")
	p.discard(h)

	p.mu.Lock()
	belowFloor := len(p.idle) < p.cfg.MinConnections && p.total < p.cfg.MaxConnections
	if belowFloor {
		p.total++
	}
	p.mu.Unlock()
	if !belowFloor {
		return
	}

	replacement, err := p.createReserved(ctx)
	if err != nil {
		// Stay below the floor until the next successful creation;
		// the releasing caller must not be blocked or failed here.
		p.logger.Warn("replacement handle creation failed", "error", err)
		return
	}
	p.mu.Lock()
	p.idle = append(p.idle, replacement)
	p.mu.Unlock()
	p.cond.Signal()
}

// Close drains and closes all idle handles and marks the pool closed.
// In-use handles are closed as they are released; in-flight work is not
// interrupted.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	p.cond.Broadcast()

	for _, h := range idle {
		p.discard(h)
	}
	p.logger.Info("connection pool closed", "stats", p.Stats())
}

// Stats returns a consistent snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Created:   p.created,
		Reused:    p.reused,
		WaitTotal: p.waitTotal,
		Idle:      len(p.idle),
		InUse:     len(p.inUse),
	}
}

// reserveAndCreate claims headroom under the lock, then creates. Used on
// the broken-idle path where the discarded handle just freed a slot.
func (p *Pool) reserveAndCreate(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	p.total++
	p.mu.Unlock()
	return p.createReserved(ctx)
}

// createReserved creates a handle for an already-reserved slot, releasing
// the slot on failure.
func (p *Pool) createReserved(ctx context.Context) (*Handle, error) {
	h, err := p.create(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		p.cond.Broadcast()
		return nil, &domain.HandleCreationFailedError{Err: err}
	}
	return h, nil
}

// create opens a fresh engine handle. Does not touch the total counter —
// callers manage slot accounting.
func (p *Pool) create(ctx context.Context) (*Handle, error) {
	eng, err := p.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.created++
	created := p.created
	p.mu.Unlock()
	p.logger.Debug("created engine handle", "total_created", created)
	return &Handle{engine: eng, pool: p, createdAt: time.Now()}, nil
}

// checkOut records a handle as in-use and accounts wait time and reuse.
func (p *Pool) checkOut(h *Handle, start time.Time, reused bool) {
	p.mu.Lock()
	p.inUse[h] = struct{}{}
	p.waitTotal += time.Since(start)
	if reused {
		p.reused++
	}
	p.mu.Unlock()
}

// validate runs the configured validation query on the handle. Failures
// are control flow, never surfaced to callers.
func (p *Pool) validate(ctx context.Context, h *Handle) bool {
	cur, err := h.engine.Execute(ctx, p.cfg.ValidationQuery)
	if err != nil {
		return false
	}
	_, err = cur.FetchChunk(1)
	_ = cur.Close()
	return err == nil
}

// discard closes a handle and frees its slot.
func (p *Pool) discard(h *Handle) {
	if err := h.engine.Close(); err != nil {
		p.logger.Debug("error closing engine handle", "error", err)
	}
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
	p.cond.Broadcast()
}

// warm replenishes idle handles up to the floor. Used by the maintenance
// sweep; creation failures are logged and abandoned until the next sweep.
func (p *Pool) warm(ctx context.Context) {
	for {
		p.mu.Lock()
		need := len(p.idle) < p.cfg.MinConnections && p.total < p.cfg.MaxConnections && !p.closed
		if need {
			p.total++
		}
		p.mu.Unlock()
		if !need {
			return
		}
		h, err := p.createReserved(ctx)
		if err != nil {
			p.logger.Warn("idle floor top-up failed", "error", err)
			return
		}
		p.mu.Lock()
		p.idle = append(p.idle, h)
		p.mu.Unlock()
		p.cond.Signal()
	}
}
