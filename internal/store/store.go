// Package store persists trips, samples, alerts, routes and circle
// membership. Backends return the sentinel errors below; callers translate
// them into coded errors.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tripwatch/server/internal/lib/alerts"
	"github.com/tripwatch/server/internal/lib/circles"
	"github.com/tripwatch/server/internal/lib/trip"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate id")

	// ErrConflict is returned when a conditional update finds the row in an
	// unexpected state.
	ErrConflict = errors.New("store: conflicting state")

	// ErrActiveTripExists is returned when a second trip for a user would
	// become active.
	ErrActiveTripExists = errors.New("store: user already has an active trip")
)

// TripStore persists trips.
type TripStore interface {
	CreateTrip(ctx context.Context, t *trip.Trip) error
	GetTrip(ctx context.Context, id string) (*trip.Trip, error)
	ActiveTripForUser(ctx context.Context, userID string) (*trip.Trip, error)

	// UpdateTripStatus writes status, start and end time of t provided the
	// stored status is still from.
	UpdateTripStatus(ctx context.Context, t *trip.Trip, from trip.Status) error

	// AddTripCounters increments the counters of an active trip.
	AddTripCounters(ctx context.Context, tripID string, delta trip.Counters) error
}

// SampleStore persists location samples. Client sample ids are only unique
// within a trip, so saving is idempotent by (trip id, sample id).
type SampleStore interface {
	SaveSamples(ctx context.Context, samples []trip.Sample) (int, error)
	SampleExists(ctx context.Context, tripID, id string) (bool, error)
	ListSamples(ctx context.Context, tripID string) ([]trip.Sample, error)
	PurgeSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertStore persists alerts.
type AlertStore interface {
	CreateAlert(ctx context.Context, a *alerts.Alert) error
	GetAlert(ctx context.Context, id string) (*alerts.Alert, error)
	ListAlertsByTrip(ctx context.Context, tripID string) ([]alerts.Alert, error)
	ListAlertsByUser(ctx context.Context, userID string) ([]alerts.Alert, error)
	RecordDelivery(ctx context.Context, id string, sent bool, recipientCount int) error
	AcknowledgeAlert(ctx context.Context, id string) error

	// CancelAlert flips an uncancelled SOS alert to cancelled.
	CancelAlert(ctx context.Context, id string, at time.Time) error
}

// RouteStore persists routes with their paths.
type RouteStore interface {
	CreateRoute(ctx context.Context, r *trip.Route) error
	GetRoute(ctx context.Context, id string) (*trip.Route, error)
	ActivatePath(ctx context.Context, routeID, pathID string) error
}

// CircleStore holds read-mostly circle membership synced from the account
// system.
type CircleStore interface {
	// SaveCircle replaces the circle and its members. Members are removed
	// from any other circle they belonged to.
	SaveCircle(ctx context.Context, c *circles.Circle) error
	CircleForUser(ctx context.Context, userID string) (*circles.Circle, error)
	CircleByCode(ctx context.Context, code string) (*circles.Circle, error)
}

// Store is the full persistence surface.
type Store interface {
	TripStore
	SampleStore
	AlertStore
	RouteStore
	CircleStore
	Close() error
}

// statusIn renders a SQL condition matching every stored spelling of s.
func statusIn(s trip.Status) string {
	labels := s.Labels()
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = "'" + strings.ReplaceAll(l, "'", "''") + "'"
	}
	return "status IN (" + strings.Join(quoted, ", ") + ")"
}

// parseStatus normalizes a stored status label.
func parseStatus(tripID, label string) (trip.Status, error) {
	s, err := trip.NormalizeStatus(label)
	if err != nil {
		return "", fmt.Errorf("trip %s: %w", tripID, err)
	}
	return s, nil
}

func sortSamples(samples []trip.Sample) {
	sortBy(samples, func(a, b trip.Sample) bool {
		if a.Timestamp.Equal(b.Timestamp) {
			return a.ID < b.ID
		}
		return a.Timestamp.Before(b.Timestamp)
	})
}
