package services

import (
	"context"
	"errors"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/google/uuid"

	"github.com/tripwatch/server/internal/clients/google"
	"github.com/tripwatch/server/internal/lib/alerts"
	"github.com/tripwatch/server/internal/lib/dispatch"
	"github.com/tripwatch/server/internal/lib/export"
	"github.com/tripwatch/server/internal/lib/geo"
	"github.com/tripwatch/server/internal/lib/trip"
	"github.com/tripwatch/server/internal/store"
)

// Directions computes a driving route between two points.
type Directions interface {
	ComputeRoute(ctx context.Context, origin, destination geo.Point) (*google.RouteData, error)
}

// TripService drives the trip lifecycle and keeps tracking sessions in step
// with it.
type TripService struct {
	store      store.Store
	tracking   *TrackingService
	alerts     *AlertService
	circles    dispatch.MembershipResolver
	directions Directions
	now        func() time.Time
}

// NewTripService creates a TripService. directions may be nil, in which case
// trips without a polyline are measured without a path.
func NewTripService(s store.Store, tracking *TrackingService, alertSvc *AlertService, circles dispatch.MembershipResolver, directions Directions) *TripService {
	return &TripService{
		store:      s,
		tracking:   tracking,
		alerts:     alertSvc,
		circles:    circles,
		directions: directions,
		now:        time.Now,
	}
}

// StartTripRequest describes a new trip.
type StartTripRequest struct {
	UserID               string    `json:"userId"`
	Source               geo.Point `json:"source"`
	SourceAddress        string    `json:"sourceAddress"`
	Destination          geo.Point `json:"destination"`
	DestinationAddress   string    `json:"destinationAddress"`
	Polyline             string    `json:"polyline"`
	AlternativePolylines []string  `json:"alternativePolylines"`
	RouteID              string    `json:"routeId"`

	// Plan creates the trip without activating it.
	Plan bool `json:"plan"`
}

// TripView is a trip with its derived emergency flag.
type TripView struct {
	*trip.Trip
	Emergency bool `json:"emergency"`
}

// StartTrip creates a trip and, unless it is only planned, activates it.
func (s *TripService) StartTrip(ctx context.Context, req StartTripRequest) (*TripView, error) {
	if req.UserID == "" {
		return nil, invalid("userId is required")
	}
	if !geo.IsValid(req.Source) || !geo.IsValid(req.Destination) {
		return nil, invalid("%v", geo.ErrInvalidCoordinate)
	}
	if req.RouteID != "" {
		r, err := s.store.GetRoute(ctx, req.RouteID)
		if err != nil {
			return nil, storeError(err, "route", req.RouteID)
		}
		if r.UserID != req.UserID {
			return nil, notFound("route", req.RouteID)
		}
	}
	if !req.Plan {
		if err := s.ensureNoActiveTrip(ctx, req.UserID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	t := &trip.Trip{
		ID:                   uuid.NewString(),
		UserID:               req.UserID,
		Source:               req.Source,
		SourceAddress:        req.SourceAddress,
		Destination:          req.Destination,
		DestinationAddress:   req.DestinationAddress,
		Polyline:             req.Polyline,
		AlternativePolylines: req.AlternativePolylines,
		RouteID:              req.RouteID,
		Status:               trip.StatusPlanned,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if t.Polyline == "" && t.RouteID == "" {
		s.fillDirections(ctx, t)
	}
	if !req.Plan {
		if err := t.Activate(now); err != nil {
			return nil, domainError(err)
		}
	}

	if err := s.store.CreateTrip(ctx, t); err != nil {
		return nil, storeError(err, "trip", t.ID)
	}
	logging.Infow(ctx, "Trips: trip created", "trip_id", t.ID, "user_id", t.UserID, "status", t.Status)

	if t.IsActive() {
		if err := s.onActivated(ctx, t); err != nil {
			return nil, err
		}
	}
	return &TripView{Trip: t}, nil
}

func (s *TripService) fillDirections(ctx context.Context, t *trip.Trip) {
	if s.directions == nil {
		return
	}
	route, err := s.directions.ComputeRoute(ctx, t.Source, t.Destination)
	if err != nil {
		logging.Warnw(ctx, "Trips: directions unavailable, trip has no path",
			"trip_id", t.ID, "user_id", t.UserID, "error", err)
		return
	}
	t.Polyline = route.Polyline
	t.AlternativePolylines = route.Alternatives
	t.EstimatedDurationSeconds = route.DurationSeconds
	t.EstimatedDistanceMeters = float64(route.DistanceMeters)
}

func (s *TripService) ensureNoActiveTrip(ctx context.Context, userID string) error {
	_, err := s.store.ActiveTripForUser(ctx, userID)
	switch {
	case err == nil:
		return errActiveTrip
	case errors.Is(err, store.ErrNotFound):
		return nil
	}
	return storeError(err, "active trip", userID)
}

// onActivated starts tracking and tells the circle the trip is under way.
func (s *TripService) onActivated(ctx context.Context, t *trip.Trip) error {
	if _, _, err := s.tracking.Begin(ctx, t); err != nil {
		return err
	}
	_, err := s.alerts.Record(ctx, alerts.Alert{
		ID:          alerts.DerivedID(t.ID, "", alerts.TypeTripStarted),
		TripID:      t.ID,
		UserID:      t.UserID,
		Type:        alerts.TypeTripStarted,
		Latitude:    t.Source.Latitude,
		Longitude:   t.Source.Longitude,
		Timestamp:   t.StartTime,
		Description: describeDestination(t),
	})
	if err != nil {
		logging.Warnw(ctx, "Trips: failed to record trip start alert", "trip_id", t.ID, "error", err)
	}
	return nil
}

func describeDestination(t *trip.Trip) string {
	if t.DestinationAddress != "" {
		return "Heading to " + t.DestinationAddress
	}
	return ""
}

// ActivateTrip starts a planned trip.
func (s *TripService) ActivateTrip(ctx context.Context, userID, tripID string) (*TripView, error) {
	t, err := s.owned(ctx, userID, tripID)
	if err != nil {
		return nil, err
	}
	if err := t.Activate(s.now()); err != nil {
		return nil, domainError(err)
	}
	if err := s.ensureNoActiveTrip(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateTripStatus(ctx, t, trip.StatusPlanned); err != nil {
		return nil, storeError(err, "trip", tripID)
	}
	logging.Infow(ctx, "Trips: trip activated", "trip_id", t.ID, "user_id", userID)
	if err := s.onActivated(ctx, t); err != nil {
		return nil, err
	}
	return s.view(ctx, t)
}

// CompleteTrip ends an active trip at the user's request.
func (s *TripService) CompleteTrip(ctx context.Context, userID, tripID string) (*TripView, error) {
	t, err := s.owned(ctx, userID, tripID)
	if err != nil {
		return nil, err
	}
	if err := t.Complete(s.now()); err != nil {
		return nil, domainError(err)
	}
	if err := s.store.UpdateTripStatus(ctx, t, trip.StatusActive); err != nil {
		return nil, storeError(err, "trip", tripID)
	}
	s.tracking.End(ctx, tripID)
	logging.Infow(ctx, "Trips: trip completed", "trip_id", t.ID, "user_id", userID)
	return s.view(ctx, t)
}

// CancelTrip ends a planned or active trip.
func (s *TripService) CancelTrip(ctx context.Context, userID, tripID string) (*TripView, error) {
	t, err := s.owned(ctx, userID, tripID)
	if err != nil {
		return nil, err
	}
	from := t.Status
	if err := t.Cancel(s.now()); err != nil {
		return nil, domainError(err)
	}
	if err := s.store.UpdateTripStatus(ctx, t, from); err != nil {
		return nil, storeError(err, "trip", tripID)
	}
	s.tracking.End(ctx, tripID)
	logging.Infow(ctx, "Trips: trip cancelled", "trip_id", t.ID, "user_id", userID, "from", from)
	return s.view(ctx, t)
}

// GetTrip returns a trip to its owner or to a member of the owner's circle.
func (s *TripService) GetTrip(ctx context.Context, viewerID, tripID string) (*TripView, error) {
	t, err := s.visible(ctx, viewerID, tripID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, t)
}

// ActiveTrip returns the user's active trip.
func (s *TripService) ActiveTrip(ctx context.Context, userID string) (*TripView, error) {
	t, err := s.store.ActiveTripForUser(ctx, userID)
	if err != nil {
		return nil, storeError(err, "active trip for user", userID)
	}
	return s.view(ctx, t)
}

// Track collects what the KML export renders for a trip.
func (s *TripService) Track(ctx context.Context, viewerID, tripID string) (export.Track, error) {
	t, err := s.visible(ctx, viewerID, tripID)
	if err != nil {
		return export.Track{}, err
	}
	target, err := s.tracking.targetFor(ctx, t)
	if err != nil {
		return export.Track{}, err
	}
	samples, err := s.store.ListSamples(ctx, tripID)
	if err != nil {
		return export.Track{}, storeError(err, "samples of trip", tripID)
	}
	list, err := s.store.ListAlertsByTrip(ctx, tripID)
	if err != nil {
		return export.Track{}, storeError(err, "alerts of trip", tripID)
	}
	return export.Track{Trip: t, Planned: target.Path, Samples: samples, Alerts: list}, nil
}

func (s *TripService) owned(ctx context.Context, userID, tripID string) (*trip.Trip, error) {
	t, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, storeError(err, "trip", tripID)
	}
	if t.UserID != userID {
		return nil, notFound("trip", tripID)
	}
	return t, nil
}

func (s *TripService) visible(ctx context.Context, viewerID, tripID string) (*trip.Trip, error) {
	t, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, storeError(err, "trip", tripID)
	}
	if t.UserID == viewerID {
		return t, nil
	}
	c, err := s.circles.CircleForUser(ctx, viewerID)
	if err == nil && c != nil {
		if _, ok := c.Member(t.UserID); ok {
			return t, nil
		}
	}
	return nil, notFound("trip", tripID)
}

func (s *TripService) view(ctx context.Context, t *trip.Trip) (*TripView, error) {
	list, err := s.store.ListAlertsByTrip(ctx, t.ID)
	if err != nil {
		return nil, storeError(err, "alerts of trip", t.ID)
	}
	return &TripView{Trip: t, Emergency: alerts.HasOpenSOS(list)}, nil
}
