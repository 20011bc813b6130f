package services

import (
	"context"
	"errors"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/google/uuid"

	"github.com/tripwatch/server/internal/lib/trip"
	"github.com/tripwatch/server/internal/store"
)

// RouteService manages saved routes and which of their paths is active.
type RouteService struct {
	store    store.Store
	tracking *TrackingService
	now      func() time.Time
}

// NewRouteService creates a RouteService.
func NewRouteService(s store.Store, tracking *TrackingService) *RouteService {
	return &RouteService{store: s, tracking: tracking, now: time.Now}
}

// CreateRoute stores a route. When no path is marked active the first one is.
func (s *RouteService) CreateRoute(ctx context.Context, r trip.Route) (*trip.Route, error) {
	if r.UserID == "" {
		return nil, invalid("userId is required")
	}
	if len(r.Paths) == 0 {
		return nil, invalid("a route needs at least one path")
	}

	active := -1
	for i := range r.Paths {
		p := &r.Paths[i]
		if len(p.Points) < 2 {
			return nil, invalid("path %d needs at least two points", i)
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.IsActive {
			if active >= 0 {
				p.IsActive = false
				continue
			}
			active = i
		}
	}
	if active < 0 {
		r.Paths[0].IsActive = true
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = s.now()
	if err := s.store.CreateRoute(ctx, &r); err != nil {
		return nil, storeError(err, "route", r.ID)
	}
	logging.Infow(ctx, "Routes: route created", "route_id", r.ID, "user_id", r.UserID, "paths", len(r.Paths))
	return &r, nil
}

// ActivatePath makes pathID the active path of routeID and retargets the
// user's live trip on that route.
func (s *RouteService) ActivatePath(ctx context.Context, userID, routeID, pathID string) (*trip.Route, error) {
	r, err := s.store.GetRoute(ctx, routeID)
	if err != nil {
		return nil, storeError(err, "route", routeID)
	}
	if r.UserID != userID {
		return nil, notFound("route", routeID)
	}
	if err := r.Activate(pathID); err != nil {
		return nil, notFound("path", pathID)
	}
	if err := s.store.ActivatePath(ctx, routeID, pathID); err != nil {
		return nil, storeError(err, "path", pathID)
	}

	active, err := s.store.ActiveTripForUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && active.RouteID != routeID) {
		return r, nil
	}
	if err != nil {
		return nil, storeError(err, "active trip for user", userID)
	}

	p, _ := r.ActivePath()
	if err := s.tracking.Retarget(ctx, active.ID, p.Geometry()); err != nil {
		return nil, err
	}
	logging.Infow(ctx, "Routes: active path switched",
		"route_id", routeID, "path_id", pathID, "trip_id", active.ID, "user_id", userID)
	return r, nil
}
