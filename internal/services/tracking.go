package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	perrors "github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
	"google.golang.org/grpc/codes"

	"github.com/tripwatch/server/internal/lib/alerts"
	"github.com/tripwatch/server/internal/lib/dispatch"
	"github.com/tripwatch/server/internal/lib/geo"
	"github.com/tripwatch/server/internal/lib/monitor"
	"github.com/tripwatch/server/internal/lib/polyline"
	"github.com/tripwatch/server/internal/lib/realtime"
	"github.com/tripwatch/server/internal/lib/tracking"
	"github.com/tripwatch/server/internal/lib/trip"
	"github.com/tripwatch/server/internal/store"
)

// TrackingDeps are the collaborators of a TrackingService. Broadcaster may be
// nil.
type TrackingDeps struct {
	Store       store.Store
	Processor   *monitor.Processor
	Alerts      *AlertService
	Dispatcher  Dispatcher
	Circles     dispatch.MembershipResolver
	Broadcaster realtime.Broadcaster
}

// TrackingService owns the session registry and implements the work each
// session performs: classification, alerting, persistence and the periodic
// status update.
type TrackingService struct {
	TrackingDeps
	registry *tracking.Registry
	now      func() time.Time
}

// NewTrackingService creates the service and its registry. Sessions run under
// ctx.
func NewTrackingService(ctx context.Context, cfg tracking.Config, deps TrackingDeps) *TrackingService {
	t := &TrackingService{TrackingDeps: deps, now: time.Now}
	t.registry = tracking.NewRegistry(ctx, cfg, t)
	return t
}

// Registry returns the live session registry.
func (t *TrackingService) Registry() *tracking.Registry {
	return t.registry
}

// SampleRequest is one location report from a client.
type SampleRequest struct {
	ID           string    `json:"id"`
	TripID       string    `json:"tripId"`
	UserID       string    `json:"userId"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Speed        float64   `json:"speed"`
	Heading      float64   `json:"heading"`
	Altitude     float64   `json:"altitude"`
	Accuracy     float64   `json:"accuracy"`
	BatteryLevel *float64  `json:"batteryLevel"`
	Timestamp    time.Time `json:"timestamp"`
	IsMoving     *bool     `json:"isMoving"`
}

// SubmitSample validates a sample, resolves its trip and queues it on the
// trip's session. The trip is the one named, or the user's active trip.
func (t *TrackingService) SubmitSample(ctx context.Context, req SampleRequest) (tracking.Outcome, error) {
	if req.UserID == "" {
		return tracking.Outcome{}, invalid("userId is required")
	}
	point := geo.Point{Latitude: req.Latitude, Longitude: req.Longitude}
	if !geo.IsValid(point) {
		return tracking.Outcome{}, invalid("%v", geo.ErrInvalidCoordinate)
	}
	if req.BatteryLevel != nil && (*req.BatteryLevel < 0 || *req.BatteryLevel > 100) {
		return tracking.Outcome{}, invalid("batteryLevel must be within [0, 100]")
	}

	tr, err := t.tripForSample(ctx, req.UserID, req.TripID)
	if err != nil {
		return tracking.Outcome{}, err
	}

	sample := trip.Sample{
		ID:           req.ID,
		TripID:       tr.ID,
		UserID:       req.UserID,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		Speed:        req.Speed,
		Heading:      req.Heading,
		Altitude:     req.Altitude,
		Accuracy:     req.Accuracy,
		BatteryLevel: req.BatteryLevel,
		Timestamp:    req.Timestamp,
		IsMoving:     req.Speed > 0,
	}
	if req.IsMoving != nil {
		sample.IsMoving = *req.IsMoving
	}
	if sample.ID == "" {
		sample.ID = alerts.NewID()
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = t.now()
	}

	sess, created, err := t.Begin(ctx, tr)
	if err != nil {
		return tracking.Outcome{}, err
	}
	if created {
		// The trip may have ended between the status check and the start.
		current, err := t.Store.GetTrip(ctx, tr.ID)
		if err != nil || !current.IsActive() {
			t.registry.Stop(tr.ID)
			return tracking.Outcome{}, errTripNotActive
		}
	}

	out, err := sess.Submit(ctx, sample)
	if errors.Is(err, tracking.ErrSessionStopped) {
		return tracking.Outcome{}, errTripNotActive
	}
	return out, err
}

func (t *TrackingService) tripForSample(ctx context.Context, userID, tripID string) (*trip.Trip, error) {
	var (
		tr  *trip.Trip
		err error
	)
	if tripID != "" {
		tr, err = t.Store.GetTrip(ctx, tripID)
	} else {
		tr, err = t.Store.ActiveTripForUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, errTripNotActive
		}
	}
	if err != nil {
		return nil, storeError(err, "trip", tripID)
	}
	if tr.UserID != userID {
		return nil, notFound("trip", tripID)
	}
	if !tr.IsActive() {
		return nil, errTripNotActive
	}
	return tr, nil
}

// StartTracking ensures a session exists for an active trip. created is
// false when one already did.
func (t *TrackingService) StartTracking(ctx context.Context, userID, tripID string) (bool, error) {
	tr, err := t.Store.GetTrip(ctx, tripID)
	if err != nil {
		return false, storeError(err, "trip", tripID)
	}
	if tr.UserID != userID {
		return false, notFound("trip", tripID)
	}
	if !tr.IsActive() {
		return false, errTripNotActive
	}
	_, created, err := t.Begin(ctx, tr)
	return created, err
}

// StopTracking removes the session of tripID. Unknown trips are a no-op.
func (t *TrackingService) StopTracking(ctx context.Context, userID, tripID string) error {
	sess, ok := t.registry.Get(tripID)
	if !ok {
		return nil
	}
	if sess.UserID != userID {
		return perrors.NewC("tracking session belongs to another user", codes.PermissionDenied)
	}
	t.End(ctx, tripID)
	return nil
}

// Begin returns the session of an active trip, creating it when needed.
func (t *TrackingService) Begin(ctx context.Context, tr *trip.Trip) (*tracking.Session, bool, error) {
	if sess, ok := t.registry.Get(tr.ID); ok {
		return sess, false, nil
	}
	target, err := t.targetFor(ctx, tr)
	if err != nil {
		return nil, false, err
	}
	sess, created := t.registry.Start(tr.ID, tr.UserID, target)
	if created {
		logging.Infow(ctx, "Tracking: session started",
			"trip_id", tr.ID, "user_id", tr.UserID, "path_points", len(target.Path))
	}
	return sess, created, nil
}

// End stops the session of tripID, if any.
func (t *TrackingService) End(ctx context.Context, tripID string) bool {
	sess, ok := t.registry.Stop(tripID)
	if ok {
		logging.Infow(ctx, "Tracking: session stopped", "trip_id", tripID, "user_id", sess.UserID)
	}
	return ok
}

// Retarget swaps the path a live session measures against and resets its
// progress.
func (t *TrackingService) Retarget(ctx context.Context, tripID string, path []geo.Point) error {
	sess, ok := t.registry.Get(tripID)
	if !ok {
		return nil
	}
	err := sess.Do(ctx, func(s *tracking.Session) {
		s.Target.Path = path
		s.State.ResetPath()
	})
	if errors.Is(err, tracking.ErrSessionStopped) {
		return nil
	}
	return err
}

// targetFor returns the geometry a trip is measured against: the active path
// of its route, or its own polyline.
func (t *TrackingService) targetFor(ctx context.Context, tr *trip.Trip) (monitor.Target, error) {
	target := monitor.Target{
		TripID:      tr.ID,
		UserID:      tr.UserID,
		Destination: tr.Destination,
	}
	if tr.RouteID != "" {
		r, err := t.Store.GetRoute(ctx, tr.RouteID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return target, storeError(err, "route", tr.RouteID)
		}
		if err == nil {
			if p, ok := r.ActivePath(); ok {
				target.Path = p.Geometry()
				return target, nil
			}
		}
		logging.Warnw(ctx, "Tracking: route has no active path, using trip polyline",
			"trip_id", tr.ID, "route_id", tr.RouteID)
	}
	target.Path = polyline.Decode(tr.Polyline)
	return target, nil
}

// Shutdown stops every session and waits for their final flush.
func (t *TrackingService) Shutdown(ctx context.Context) error {
	return t.registry.Shutdown(ctx)
}

// ProcessSample implements tracking.Hooks.
func (t *TrackingService) ProcessSample(ctx context.Context, s *tracking.Session, sample trip.Sample) (tracking.Outcome, error) {
	if s.Seen(sample.ID) {
		logging.Debugw(ctx, "Tracking: duplicate sample ignored", "trip_id", s.TripID, "sample_id", sample.ID)
		return tracking.Outcome{Duplicate: true}, nil
	}
	exists, err := t.Store.SampleExists(ctx, s.TripID, sample.ID)
	if err != nil {
		return tracking.Outcome{}, fmt.Errorf("check sample %s: %w", sample.ID, err)
	}
	if exists {
		logging.Debugw(ctx, "Tracking: sample already stored", "trip_id", s.TripID, "sample_id", sample.ID)
		return tracking.Outcome{Duplicate: true}, nil
	}

	res := t.Processor.Process(&s.State, s.Target, sample)
	out := tracking.Outcome{Saved: true, Alerts: len(res.Alerts), Arrived: res.Arrived}

	if !res.Counters.IsZero() {
		if err := t.Store.AddTripCounters(ctx, s.TripID, res.Counters); err != nil {
			logging.Warnw(ctx, "Tracking: failed to update trip counters",
				"trip_id", s.TripID, "sample_id", sample.ID, "error", err)
		}
	}
	if res.Arrived {
		t.completeOnArrival(ctx, s)
	}

	for _, a := range res.Alerts {
		r, err := t.Alerts.Record(ctx, a)
		if err != nil {
			logging.Errorw(ctx, "Tracking: failed to record alert",
				"trip_id", s.TripID, "alert_id", a.ID, "type", a.Type, "error", err)
			continue
		}
		if r.Duplicate {
			continue
		}
		out.Notified = true
		if r.Delivery.RecipientCount > out.RecipientCount {
			out.RecipientCount = r.Delivery.RecipientCount
		}
	}

	t.broadcastLocation(ctx, s, sample)
	return out, nil
}

func (t *TrackingService) completeOnArrival(ctx context.Context, s *tracking.Session) {
	tr, err := t.Store.GetTrip(ctx, s.TripID)
	if err != nil {
		logging.Errorw(ctx, "Tracking: arrival on unknown trip", "trip_id", s.TripID, "error", err)
		return
	}
	if err := tr.Complete(t.now()); err != nil {
		return
	}
	if err := t.Store.UpdateTripStatus(ctx, tr, trip.StatusActive); err != nil {
		logging.Warnw(ctx, "Tracking: failed to complete trip on arrival", "trip_id", s.TripID, "error", err)
		return
	}
	logging.Infow(ctx, "Tracking: trip completed on arrival", "trip_id", s.TripID, "user_id", s.UserID)
	t.End(ctx, s.TripID)
}

func (t *TrackingService) broadcastLocation(ctx context.Context, s *tracking.Session, sample trip.Sample) {
	if t.Broadcaster == nil {
		return
	}
	c, err := t.Circles.CircleForUser(ctx, s.UserID)
	if err != nil || c == nil {
		return
	}
	t.Broadcaster.Broadcast(ctx, c.Code, realtime.Event{
		Type: realtime.EventLocation,
		Room: c.Code,
		Location: &realtime.Location{
			TripID:    s.TripID,
			UserID:    s.UserID,
			Latitude:  sample.Latitude,
			Longitude: sample.Longitude,
			Speed:     sample.Speed,
			Heading:   sample.Heading,
			Timestamp: sample.Timestamp,
		},
		SentAt: t.now(),
	})
}

// FlushSamples implements tracking.Hooks.
func (t *TrackingService) FlushSamples(ctx context.Context, s *tracking.Session, samples []trip.Sample) error {
	n, err := t.Store.SaveSamples(ctx, samples)
	if err != nil {
		return err
	}
	logging.Debugw(ctx, "Tracking: samples persisted",
		"trip_id", s.TripID, "batch", len(samples), "inserted", n)
	return nil
}

// NotifyStatus implements tracking.Hooks.
func (t *TrackingService) NotifyStatus(ctx context.Context, s *tracking.Session, latest trip.Sample) error {
	out, err := t.Dispatcher.Dispatch(ctx, alerts.StatusMessage{
		Trip:     s.TripID,
		User:     s.UserID,
		Position: latest.Point(),
		At:       latest.Timestamp,
		Speed:    latest.Speed,
	})
	if err != nil {
		return err
	}
	logging.Debugw(ctx, "Tracking: periodic status sent",
		"trip_id", s.TripID, "recipients", out.RecipientCount, "delivered", out.Delivered)
	return nil
}
