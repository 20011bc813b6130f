// Package tracking keeps one ephemeral session per active trip. Each session
// runs a worker goroutine that processes samples in arrival order and owns the
// trip's persist and notify tickers, so stopping the worker cancels both.
package tracking

import (
	"context"
	"sync"

	"github.com/dpup/prefab/logging"

	"github.com/tripwatch/server/internal/lib/monitor"
)

// Registry maps trip ids to live sessions. The lock only guards the map;
// sample processing never holds it.
type Registry struct {
	cfg   Config
	hooks Hooks
	work  context.Context

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// NewRegistry creates a registry whose sessions run under ctx. A logger is
// attached when ctx carries none, since hooks log from worker goroutines.
func NewRegistry(ctx context.Context, cfg Config, hooks Hooks) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		hooks:    hooks,
		work:     logging.EnsureLogger(ctx),
		sessions: make(map[string]*Session),
	}
}

// SetHooks replaces the hooks used by sessions started afterwards.
func (r *Registry) SetHooks(h Hooks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = h
}

// Start returns the session for tripID, creating it when absent. created is
// false when a session already existed.
func (r *Registry) Start(tripID, userID string, target monitor.Target) (s *Session, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[tripID]; ok {
		return existing, false
	}

	s = newSession(r.work, r.cfg, r.hooks, tripID, userID, target)
	r.sessions[tripID] = s
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		s.run()
	}()

	logging.Infow(r.work, "Tracking session started", "trip_id", tripID, "user_id", userID)
	return s, true
}

// Context returns the context sessions run under.
func (r *Registry) Context() context.Context {
	return r.work
}

// Get returns the live session for tripID.
func (r *Registry) Get(tripID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tripID]
	return s, ok
}

// Stop removes the session and cancels its worker. It does not wait for
// queued samples to finish, so it is safe to call from a hook. Unknown ids are
// a no-op.
func (r *Registry) Stop(tripID string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[tripID]
	if ok {
		delete(r.sessions, tripID)
		s.cancel()
	}
	r.mu.Unlock()

	if ok {
		logging.Infow(r.work, "Tracking session stopped", "trip_id", tripID, "user_id", s.UserID)
	}
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// TripIDs returns the ids of all live sessions.
func (r *Registry) TripIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops every session and waits for their workers to exit.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for id, s := range r.sessions {
		s.cancel()
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
