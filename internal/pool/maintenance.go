package pool

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Maintainer periodically revalidates idle handles and tops the pool back
// up to its idle floor. Broken idle handles otherwise linger until the
// next acquire touches them.
type Maintainer struct {
	pool   *Pool
	cron   *cron.Cron
	logger *slog.Logger
}

// NewMaintainer schedules a validation sweep on the given cron spec
// (e.g. "@every 60s"). The schedule does not start until Start is called.
func NewMaintainer(p *Pool, schedule string, logger *slog.Logger) (*Maintainer, error) {
	m := &Maintainer{
		pool:   p,
		cron:   cron.New(),
		logger: logger,
	}
	if _, err := m.cron.AddFunc(schedule, m.sweep); err != nil {
		return nil, err
	}
	return m, nil
}

// Start begins the background sweeps.
func (m *Maintainer) Start() {
	m.cron.Start()
	m.logger.Info("pool maintenance started")
}

// Stop halts scheduling and waits for a running sweep to finish.
func (m *Maintainer) Stop() {
	<-m.cron.Stop().Done()
	m.logger.Info("pool maintenance stopped")
}

// sweep validates every currently idle handle, discarding broken ones,
// then replenishes up to the idle floor. Handles checked out while the
// sweep runs are untouched.
func (m *Maintainer) sweep() {
	ctx := context.Background()
	p := m.pool

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	kept := 0
	dropped := 0
	for _, h := range idle {
		if p.validate(ctx, h) {
			p.mu.Lock()
			p.idle = append(p.idle, h)
			p.mu.Unlock()
			p.cond.Signal()
			kept++
			continue
		}
		p.discard(h)
		dropped++
	}

	p.warm(ctx)

	if dropped > 0 {
		m.logger.Info("pool maintenance sweep replaced broken handles",
			"kept", kept, "dropped", dropped)
	} else {
		m.logger.Debug("pool maintenance sweep", "kept", kept)
	}
}
