// Package poller discovers queued requests and feeds them to the engine.
package poller

import (
	"context"
	"time"

	"github.com/botradar/bot_radar/pkg/config"
	"github.com/botradar/bot_radar/pkg/logger"
)

// Store is the queue-discovery slice of the request store.
type Store interface {
	// ListQueued returns ids of queued requests, oldest first.
	ListQueued(ctx context.Context, limit int) ([]string, error)
}

// Processor runs one request through the cascade.
type Processor interface {
	Process(ctx context.Context, requestID string) error
}

// Poller is the cooperative polling loop. HTTP triggers may invoke the same
// processor concurrently; the store's claim CAS keeps double-processing out.
type Poller struct {
	store    Store
	proc     Processor
	interval time.Duration
	batch    int
}

// New builds a poller from configuration.
func New(store Store, proc Processor, cfg config.PollerConfig) *Poller {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 5
	}
	return &Poller{store: store, proc: proc, interval: interval, batch: batch}
}

// Run polls until the context is cancelled. One request's failure never
// blocks the rest: errors are logged and the loop moves on.
func (p *Poller) Run(ctx context.Context) {
	logger.Log.Infof("queue poller started (interval %s, batch %d)", p.interval, p.batch)
	for {
		p.pollOnce(ctx)

		select {
		case <-ctx.Done():
			logger.Log.Info("queue poller stopped")
			return
		case <-time.After(p.interval):
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	ids, err := p.store.ListQueued(ctx, p.batch)
	if err != nil {
		logger.Log.Errorf("poll queued requests: %v", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	logger.Log.Debugf("discovered %d queued requests", len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := p.proc.Process(ctx, id); err != nil {
			logger.Log.Errorf("process request [%s]: %v", id, err)
		}
	}
}
