package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tripwatch/server/internal/lib/alerts"
	"github.com/tripwatch/server/internal/lib/circles"
	"github.com/tripwatch/server/internal/lib/trip"
)

// Memory is a thread-safe in-process Store.
type Memory struct {
	mu       sync.RWMutex
	trips    map[string]*trip.Trip
	samples  map[sampleKey]trip.Sample
	alerts   map[string]*alerts.Alert
	routes   map[string]*trip.Route
	circles  map[string]*circles.Circle
	memberOf map[string]string
}

// sampleKey scopes a client sample id to its trip.
type sampleKey struct {
	tripID string
	id     string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		trips:    make(map[string]*trip.Trip),
		samples:  make(map[sampleKey]trip.Sample),
		alerts:   make(map[string]*alerts.Alert),
		routes:   make(map[string]*trip.Route),
		circles:  make(map[string]*circles.Circle),
		memberOf: make(map[string]string),
	}
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

func (m *Memory) CreateTrip(ctx context.Context, t *trip.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.trips[t.ID]; ok {
		return ErrDuplicate
	}
	if t.Status == trip.StatusActive && m.activeLocked(t.UserID) != nil {
		return ErrActiveTripExists
	}
	cp := *t
	m.trips[t.ID] = &cp
	return nil
}

func (m *Memory) GetTrip(ctx context.Context, id string) (*trip.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) ActiveTripForUser(ctx context.Context, userID string) (*trip.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t := m.activeLocked(userID)
	if t == nil {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) activeLocked(userID string) *trip.Trip {
	for _, t := range m.trips {
		if t.UserID == userID && t.Status == trip.StatusActive {
			return t
		}
	}
	return nil
}

func (m *Memory) UpdateTripStatus(ctx context.Context, t *trip.Trip, from trip.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.trips[t.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != from {
		return ErrConflict
	}
	if t.Status == trip.StatusActive {
		if other := m.activeLocked(t.UserID); other != nil && other.ID != t.ID {
			return ErrActiveTripExists
		}
	}
	stored.Status = t.Status
	stored.StartTime = t.StartTime
	stored.EndTime = t.EndTime
	stored.UpdatedAt = t.UpdatedAt
	return nil
}

func (m *Memory) AddTripCounters(ctx context.Context, tripID string, delta trip.Counters) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.trips[tripID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != trip.StatusActive {
		return ErrConflict
	}
	stored.Counters = stored.Counters.Add(delta)
	return nil
}

func (m *Memory) SaveSamples(ctx context.Context, samples []trip.Sample) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, s := range samples {
		key := sampleKey{tripID: s.TripID, id: s.ID}
		if _, ok := m.samples[key]; ok {
			continue
		}
		m.samples[key] = s
		inserted++
	}
	return inserted, nil
}

func (m *Memory) SampleExists(ctx context.Context, tripID, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.samples[sampleKey{tripID: tripID, id: id}]
	return ok, nil
}

func (m *Memory) ListSamples(ctx context.Context, tripID string) ([]trip.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []trip.Sample
	for _, s := range m.samples {
		if s.TripID == tripID {
			out = append(out, s)
		}
	}
	sortSamples(out)
	return out, nil
}

func (m *Memory) PurgeSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, s := range m.samples {
		if s.Timestamp.Before(cutoff) {
			delete(m.samples, key)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) CreateAlert(ctx context.Context, a *alerts.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[a.ID]; ok {
		return ErrDuplicate
	}
	cp := *a
	m.alerts[a.ID] = &cp
	return nil
}

func (m *Memory) GetAlert(ctx context.Context, id string) (*alerts.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) ListAlertsByTrip(ctx context.Context, tripID string) ([]alerts.Alert, error) {
	return m.listAlerts(func(a *alerts.Alert) bool { return a.TripID == tripID }), nil
}

func (m *Memory) ListAlertsByUser(ctx context.Context, userID string) ([]alerts.Alert, error) {
	return m.listAlerts(func(a *alerts.Alert) bool { return a.UserID == userID }), nil
}

func (m *Memory) listAlerts(match func(*alerts.Alert) bool) []alerts.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []alerts.Alert
	for _, a := range m.alerts {
		if match(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (m *Memory) RecordDelivery(ctx context.Context, id string, sent bool, recipientCount int) error {
	return m.updateAlert(id, func(a *alerts.Alert) error {
		a.IsSent = sent
		a.RecipientCount = recipientCount
		return nil
	})
}

func (m *Memory) AcknowledgeAlert(ctx context.Context, id string) error {
	return m.updateAlert(id, func(a *alerts.Alert) error {
		a.IsAcknowledged = true
		return nil
	})
}

func (m *Memory) CancelAlert(ctx context.Context, id string, at time.Time) error {
	return m.updateAlert(id, func(a *alerts.Alert) error {
		if a.Type != alerts.TypeSOS || a.IsCancelled {
			return ErrConflict
		}
		a.IsCancelled = true
		a.CancelledAt = &at
		return nil
	})
}

func (m *Memory) updateAlert(id string, fn func(*alerts.Alert) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return ErrNotFound
	}
	return fn(a)
}

func (m *Memory) CreateRoute(ctx context.Context, r *trip.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[r.ID]; ok {
		return ErrDuplicate
	}
	m.routes[r.ID] = cloneRoute(r)
	return nil
}

func (m *Memory) GetRoute(ctx context.Context, id string) (*trip.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.routes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRoute(r), nil
}

func (m *Memory) ActivatePath(ctx context.Context, routeID, pathID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[routeID]
	if !ok {
		return ErrNotFound
	}
	if err := r.Activate(pathID); err != nil {
		return ErrNotFound
	}
	return nil
}

func (m *Memory) SaveCircle(ctx context.Context, c *circles.Circle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c.Code = circles.NormalizeCode(c.Code)
	for id, other := range m.circles {
		if id != c.ID && other.Code == c.Code {
			return ErrDuplicate
		}
	}
	if prev, ok := m.circles[c.ID]; ok {
		for _, member := range prev.Members {
			delete(m.memberOf, member.UserID)
		}
	}

	cp := cloneCircle(c)
	for _, member := range cp.Members {
		if prevID, ok := m.memberOf[member.UserID]; ok && prevID != c.ID {
			m.removeMemberLocked(prevID, member.UserID)
		}
		m.memberOf[member.UserID] = c.ID
	}
	m.circles[c.ID] = cp
	return nil
}

func (m *Memory) removeMemberLocked(circleID, userID string) {
	c, ok := m.circles[circleID]
	if !ok {
		return
	}
	kept := c.Members[:0]
	for _, member := range c.Members {
		if member.UserID != userID {
			kept = append(kept, member)
		}
	}
	c.Members = kept
}

func (m *Memory) CircleForUser(ctx context.Context, userID string) (*circles.Circle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.memberOf[userID]
	if !ok {
		return nil, ErrNotFound
	}
	c, ok := m.circles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCircle(c), nil
}

func (m *Memory) CircleByCode(ctx context.Context, code string) (*circles.Circle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	code = circles.NormalizeCode(code)
	for _, c := range m.circles {
		if c.Code == code {
			return cloneCircle(c), nil
		}
	}
	return nil, ErrNotFound
}

func cloneRoute(r *trip.Route) *trip.Route {
	cp := *r
	cp.Paths = make([]trip.Path, len(r.Paths))
	for i, p := range r.Paths {
		p.Points = append([]trip.PathPoint(nil), p.Points...)
		cp.Paths[i] = p
	}
	return &cp
}

func cloneCircle(c *circles.Circle) *circles.Circle {
	cp := *c
	cp.Members = append([]circles.Member(nil), c.Members...)
	return &cp
}

func sortBy[T any](items []T, less func(a, b T) bool) {
	sort.SliceStable(items, func(i, j int) bool { return less(items[i], items[j]) })
}
