package tracking

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	perrors "github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"

	"github.com/tripwatch/server/internal/lib/monitor"
	"github.com/tripwatch/server/internal/lib/trip"
)

var (
	// ErrSessionStopped is returned when work is submitted to a stopped session.
	ErrSessionStopped = errors.New("tracking session stopped")

	errJobPanicked = errors.New("tracking job panicked")
)

// Hooks performs the work a session schedules. All calls for one session are
// made from that session's worker goroutine, one at a time.
type Hooks interface {
	ProcessSample(ctx context.Context, s *Session, sample trip.Sample) (Outcome, error)
	FlushSamples(ctx context.Context, s *Session, samples []trip.Sample) error
	NotifyStatus(ctx context.Context, s *Session, latest trip.Sample) error
}

// Outcome reports what happened to a submitted sample.
type Outcome struct {
	Saved          bool `json:"saved"`
	Notified       bool `json:"notified"`
	RecipientCount int  `json:"recipientCount"`
	Duplicate      bool `json:"duplicate,omitempty"`
	Arrived        bool `json:"arrived,omitempty"`
	Alerts         int  `json:"alerts,omitempty"`
}

// Session is the ephemeral state of one tracked trip. Fields below the
// identity block are owned by the worker goroutine and must only be touched
// from Hooks callbacks or Do.
type Session struct {
	TripID    string
	UserID    string
	StartedAt time.Time

	Target       monitor.Target
	State        monitor.State
	LastSampleAt time.Time
	LastNotifyAt time.Time

	latest        *trip.Sample
	benignPending bool
	pending       []trip.Sample
	seen          map[string]struct{}

	cfg   Config
	hooks Hooks
	jobs  chan func(context.Context)

	// work is the context hooks run under; stopping the session does not
	// cancel it so queued samples complete.
	work   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(work context.Context, cfg Config, hooks Hooks, tripID, userID string, target monitor.Target) *Session {
	ctx, cancel := context.WithCancel(work)
	return &Session{
		TripID:    tripID,
		UserID:    userID,
		StartedAt: time.Now(),
		Target:    target,
		seen:      make(map[string]struct{}),
		cfg:       cfg,
		hooks:     hooks,
		jobs:      make(chan func(context.Context), cfg.QueueSize),
		work:      context.WithoutCancel(work),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Submit queues sample behind any samples already submitted for this trip
// and waits for its outcome.
func (s *Session) Submit(ctx context.Context, sample trip.Sample) (Outcome, error) {
	type reply struct {
		out Outcome
		err error
	}
	ch := make(chan reply, 1)

	job := func(ctx context.Context) {
		r := reply{err: errJobPanicked}
		defer func() { ch <- r }()
		r.out, r.err = s.handleSample(ctx, sample)
	}

	if err := s.enqueue(ctx, job); err != nil {
		return Outcome{}, err
	}

	select {
	case r := <-ch:
		return r.out, r.err
	case <-s.done:
		select {
		case r := <-ch:
			return r.out, r.err
		default:
			return Outcome{}, ErrSessionStopped
		}
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Do runs fn on the worker goroutine, ordered with submitted samples.
func (s *Session) Do(ctx context.Context, fn func(*Session)) error {
	ran := make(chan struct{})
	job := func(context.Context) {
		defer close(ran)
		fn(s)
	}
	if err := s.enqueue(ctx, job); err != nil {
		return err
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrSessionStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) enqueue(ctx context.Context, job func(context.Context)) error {
	if s.ctx.Err() != nil {
		return ErrSessionStopped
	}
	select {
	case s.jobs <- job:
		return nil
	case <-s.ctx.Done():
		return ErrSessionStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the worker has drained its queue and exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the worker exits or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stopped reports whether the session has been stopped.
func (s *Session) Stopped() bool {
	return s.ctx.Err() != nil
}

// Seen reports whether a sample id was already accepted by this session.
func (s *Session) Seen(id string) bool {
	if id == "" {
		return false
	}
	_, ok := s.seen[id]
	return ok
}

// MarkSeen records a sample id as accepted.
func (s *Session) MarkSeen(id string) {
	if id != "" {
		s.seen[id] = struct{}{}
	}
}

// Latest returns the most recent accepted sample.
func (s *Session) Latest() (trip.Sample, bool) {
	if s.latest == nil {
		return trip.Sample{}, false
	}
	return *s.latest, true
}

// PendingCount returns the number of samples awaiting the next flush.
func (s *Session) PendingCount() int {
	return len(s.pending)
}

func (s *Session) handleSample(ctx context.Context, sample trip.Sample) (Outcome, error) {
	out, err := s.hooks.ProcessSample(ctx, s, sample)
	if err != nil || out.Duplicate {
		return out, err
	}

	s.MarkSeen(sample.ID)
	if sample.Timestamp.After(s.LastSampleAt) {
		s.LastSampleAt = sample.Timestamp
	}
	latest := sample
	s.latest = &latest
	// A status update must not describe an open deviation or stop as on its way
	switch {
	case s.State.InDeviation || s.State.InStop:
		s.benignPending = false
	case out.Alerts == 0:
		s.benignPending = true
	}
	if out.Saved {
		s.pending = append(s.pending, sample)
	}
	return out, nil
}

func (s *Session) run() {
	defer close(s.done)

	persist := time.NewTicker(s.cfg.PersistInterval)
	defer persist.Stop()
	notify := time.NewTicker(s.cfg.NotifyInterval)
	defer notify.Stop()

	for {
		select {
		case job := <-s.jobs:
			s.runJob(job)
		case <-persist.C:
			if !s.Stopped() {
				s.flush()
			}
		case <-notify.C:
			if !s.Stopped() {
				s.notify()
			}
		case <-s.ctx.Done():
			s.drain()
			s.flush()
			logging.Debugw(s.work, "Tracking session worker exited", "trip_id", s.TripID)
			return
		}
	}
}

// drain processes jobs queued before the stop.
func (s *Session) drain() {
	for {
		select {
		case job := <-s.jobs:
			s.runJob(job)
		default:
			return
		}
	}
}

func (s *Session) runJob(job func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			err, _ := perrors.ParseStack(debug.Stack())
			skipFrames := 3
			numFrames := 5
			logging.Errorw(s.work, "Tracking session: recovered from panic",
				"trip_id", s.TripID, "error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
		}
	}()
	job(s.work)
}

func (s *Session) flush() {
	if len(s.pending) == 0 {
		return
	}
	batch := s.pending
	s.pending = nil

	ctx, cancel := context.WithTimeout(s.work, s.cfg.FlushTimeout)
	defer cancel()

	if err := s.hooks.FlushSamples(ctx, s, batch); err != nil {
		logging.Warnw(s.work, "Tracking session: sample flush failed, retrying next tick",
			"trip_id", s.TripID, "samples", len(batch), "error", err)
		s.pending = append(batch, s.pending...)
		if over := len(s.pending) - s.cfg.MaxPending; over > 0 {
			s.pending = s.pending[over:]
		}
	}
}

func (s *Session) notify() {
	if !s.benignPending || s.latest == nil {
		return
	}
	s.benignPending = false

	ctx, cancel := context.WithTimeout(s.work, s.cfg.FlushTimeout)
	defer cancel()

	if err := s.hooks.NotifyStatus(ctx, s, *s.latest); err != nil {
		logging.Warnw(s.work, "Tracking session: periodic status failed",
			"trip_id", s.TripID, "error", err)
		return
	}
	s.LastNotifyAt = time.Now()
}
