package trip

import (
	"sort"
	"time"

	"github.com/tripwatch/server/internal/lib/geo"
)

// Trip is a single monitored journey from source to destination.
type Trip struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"userId"`
	Source               geo.Point  `json:"source"`
	SourceAddress        string     `json:"sourceAddress,omitempty"`
	Destination          geo.Point  `json:"destination"`
	DestinationAddress   string     `json:"destinationAddress,omitempty"`
	Polyline             string     `json:"polyline"`
	AlternativePolylines []string   `json:"alternativePolylines,omitempty"`
	Status               Status     `json:"status"`
	StartTime            time.Time  `json:"startTime"`
	EndTime              *time.Time `json:"endTime,omitempty"`
	RouteID              string     `json:"routeId,omitempty"`

	// Estimates reported by the directions provider, zero when unknown
	EstimatedDurationSeconds int     `json:"estimatedDurationSeconds,omitempty"`
	EstimatedDistanceMeters  float64 `json:"estimatedDistanceMeters,omitempty"`

	Counters

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Counters are the monotonically non-decreasing totals the sample processor
// maintains while a trip is active.
type Counters struct {
	DeviationCount int `json:"deviationCount"`
	StopCount      int `json:"stopCount"`
	AlertCount     int `json:"alertCount"`
}

// Add returns the sum of c and delta.
func (c Counters) Add(delta Counters) Counters {
	return Counters{
		DeviationCount: c.DeviationCount + delta.DeviationCount,
		StopCount:      c.StopCount + delta.StopCount,
		AlertCount:     c.AlertCount + delta.AlertCount,
	}
}

// IsZero reports whether no counter changed.
func (c Counters) IsZero() bool {
	return c == Counters{}
}

// Sample is one location report for an active trip.
type Sample struct {
	ID           string    `json:"id"`
	TripID       string    `json:"tripId"`
	UserID       string    `json:"userId"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Speed        float64   `json:"speed,omitempty"`
	Heading      float64   `json:"heading,omitempty"`
	Altitude     float64   `json:"altitude,omitempty"`
	Accuracy     float64   `json:"accuracy,omitempty"`
	BatteryLevel *float64  `json:"batteryLevel,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	IsMoving     bool      `json:"isMoving"`
}

// Point returns the sample position.
func (s Sample) Point() geo.Point {
	return geo.Point{Latitude: s.Latitude, Longitude: s.Longitude}
}

// PointKind tags the role of a path point.
type PointKind string

const (
	PointSource      PointKind = "source"
	PointWaypoint    PointKind = "waypoint"
	PointDestination PointKind = "destination"
)

// PathPoint is one ordered vertex of a Path.
type PathPoint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Kind      PointKind `json:"kind"`
	Order     int       `json:"order"`
}

// Path is a named, ordered sequence of points belonging to a Route.
type Path struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	IsActive bool        `json:"isActive"`
	Points   []PathPoint `json:"points"`
}

// Geometry returns the path vertices sorted by their order index.
func (p Path) Geometry() []geo.Point {
	pts := make([]PathPoint, len(p.Points))
	copy(pts, p.Points)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Order < pts[j].Order })

	out := make([]geo.Point, len(pts))
	for i, pt := range pts {
		out[i] = geo.Point{Latitude: pt.Latitude, Longitude: pt.Longitude}
	}
	return out
}

// Route aggregates alternative paths between the same endpoints. At most one
// path is active at a time.
type Route struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Paths     []Path    `json:"paths"`
	CreatedAt time.Time `json:"createdAt"`
}

// ActivePath returns the path currently marked active.
func (r Route) ActivePath() (Path, bool) {
	for _, p := range r.Paths {
		if p.IsActive {
			return p, true
		}
	}
	return Path{}, false
}

// Activate marks pathID as the only active path.
func (r *Route) Activate(pathID string) error {
	found := false
	for i := range r.Paths {
		if r.Paths[i].ID == pathID {
			found = true
		}
	}
	if !found {
		return ErrPathNotFound
	}
	for i := range r.Paths {
		r.Paths[i].IsActive = r.Paths[i].ID == pathID
	}
	return nil
}
