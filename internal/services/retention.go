package services

import (
	"context"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/tripwatch/server/internal/store"
)

// RetentionSweeper periodically purges location samples older than the
// retention window.
type RetentionSweeper struct {
	store     store.SampleStore
	retention time.Duration
	interval  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	stopChan chan struct{}
	running  bool
}

// NewRetentionSweeper creates a sweeper. It does nothing until Start.
func NewRetentionSweeper(s store.SampleStore, retention, interval time.Duration) *RetentionSweeper {
	return &RetentionSweeper{
		store:     s,
		retention: retention,
		interval:  interval,
		now:       time.Now,
	}
}

// Start sweeps once immediately and then every interval until Stop or ctx is
// done.
func (r *RetentionSweeper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running || r.retention <= 0 || r.interval <= 0 {
		return
	}
	r.running = true
	r.stopChan = make(chan struct{})
	ctx = logging.EnsureLogger(ctx)

	logging.Infow(ctx, "Retention: sweeper started", "retention", r.retention, "interval", r.interval)
	go r.loop(ctx, r.stopChan)
}

// Stop ends the sweep loop.
func (r *RetentionSweeper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	close(r.stopChan)
}

// IsRunning returns whether the sweep loop is active.
func (r *RetentionSweeper) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *RetentionSweeper) loop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep purges expired samples once and returns how many were removed.
func (r *RetentionSweeper) Sweep(ctx context.Context) int64 {
	cutoff := r.now().Add(-r.retention)
	sweepCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	removed, err := r.store.PurgeSamplesBefore(sweepCtx, cutoff)
	if err != nil {
		logging.Errorw(ctx, "Retention: purge failed", "cutoff", cutoff, "error", err)
		return 0
	}
	if removed > 0 {
		logging.Infow(ctx, "Retention: expired samples purged", "removed", removed, "cutoff", cutoff)
	}
	return removed
}
