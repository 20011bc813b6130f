package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by every distance calculation.
const EarthRadiusMeters = 6371000.0

// Point represents a geographic coordinate
type Point struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// PathMatch describes the projection of a point onto an ordered path.
// Index is the segment start vertex (segment Index -> Index+1), or the only
// vertex for single-point paths.
type PathMatch struct {
	Index    int     `json:"index"`
	Distance float64 `json:"distance_meters"`
	Point    Point   `json:"point"`
	Fraction float64 `json:"fraction"` // Position along the matched segment, 0..1
}

// NoPath is returned when there is nothing to project onto. Callers must
// treat it as "cannot evaluate", never as "on route".
var NoPath = PathMatch{Index: -1, Distance: math.Inf(1)}

// Found reports whether the match refers to an actual path position.
func (m PathMatch) Found() bool {
	return m.Index >= 0
}
