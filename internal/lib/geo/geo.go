package geo

import (
	"errors"
	"math"
)

// ErrInvalidCoordinate is returned for points outside the WGS84 range.
var ErrInvalidCoordinate = errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")

// Distance calculates great-circle distance between two points using the Haversine formula
func Distance(p1, p2 Point) float64 {
	// If points are the same, distance is 0
	if p1.Latitude == p2.Latitude && p1.Longitude == p2.Longitude {
		return 0
	}

	lat1 := toRadians(p1.Latitude)
	lat2 := toRadians(p2.Latitude)
	dlat := lat2 - lat1
	dlon := toRadians(p2.Longitude - p1.Longitude)

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// Bearing returns the initial bearing from p1 to p2 in degrees, normalized to [0, 360)
func Bearing(p1, p2 Point) float64 {
	return normalizeDegrees(toDegrees(initialBearing(p1, p2)))
}

// Destination projects a point distanceMeters away from origin along bearingDegrees
func Destination(origin Point, bearingDegrees, distanceMeters float64) Point {
	if distanceMeters == 0 {
		return origin
	}
	lat1 := toRadians(origin.Latitude)
	lon1 := toRadians(origin.Longitude)
	brng := toRadians(bearingDegrees)
	d := distanceMeters / EarthRadiusMeters

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(brng))
	lon2 := lon1 + math.Atan2(
		math.Sin(brng)*math.Sin(d)*math.Cos(lat1),
		math.Cos(d)-math.Sin(lat1)*math.Sin(lat2),
	)

	return Point{
		Latitude:  toDegrees(lat2),
		Longitude: normalizeLongitude(toDegrees(lon2)),
	}
}

// ClosestPointOnPath projects point onto every segment of the ordered path and
// returns the nearest one. An empty path yields NoPath.
func ClosestPointOnPath(point Point, path []Point) PathMatch {
	return ClosestPointOnPathFrom(point, path, 0)
}

// ClosestPointOnPathFrom is ClosestPointOnPath restricted to segments starting
// at index from or later.
func ClosestPointOnPathFrom(point Point, path []Point, from int) PathMatch {
	if len(path) == 0 {
		return NoPath
	}
	if from < 0 {
		from = 0
	}
	if from > len(path)-1 {
		from = len(path) - 1
	}

	if len(path) == 1 {
		return PathMatch{Index: 0, Distance: Distance(point, path[0]), Point: path[0]}
	}

	best := NoPath
	last := len(path) - 2
	if from > last {
		from = last
	}
	for i := from; i <= last; i++ {
		match := projectOntoSegment(point, path[i], path[i+1])
		if match.Distance < best.Distance {
			match.Index = i
			best = match
		}
	}

	return best
}

// PathLength returns the summed great-circle length of the path in meters
func PathLength(path []Point) float64 {
	total := 0.0
	for i := 0; i+1 < len(path); i++ {
		total += Distance(path[i], path[i+1])
	}
	return total
}

// projectOntoSegment computes the perpendicular (cross-track) distance from
// point to the great-circle segment, clamped to the segment endpoints.
func projectOntoSegment(point, segmentStart, segmentEnd Point) PathMatch {
	distanceToStart := Distance(point, segmentStart)
	segmentLength := Distance(segmentStart, segmentEnd)

	// Degenerate segment
	if segmentLength < 0.01 {
		return PathMatch{Distance: distanceToStart, Point: segmentStart}
	}

	d13 := distanceToStart / EarthRadiusMeters
	bearing13 := initialBearing(segmentStart, point)
	bearing12 := initialBearing(segmentStart, segmentEnd)

	// Projection falls before the segment start
	if math.Cos(bearing13-bearing12) < 0 {
		return PathMatch{Distance: distanceToStart, Point: segmentStart}
	}

	dxt := math.Asin(clamp(math.Sin(d13)*math.Sin(bearing13-bearing12), -1, 1))
	crossTrackDistance := math.Abs(dxt) * EarthRadiusMeters

	dat := math.Acos(clamp(math.Cos(d13)/math.Cos(dxt), -1, 1))
	alongTrackDistance := dat * EarthRadiusMeters

	// Projection falls beyond the segment end
	if alongTrackDistance > segmentLength {
		return PathMatch{Distance: Distance(point, segmentEnd), Point: segmentEnd, Fraction: 1}
	}

	return PathMatch{
		Distance: crossTrackDistance,
		Point:    Destination(segmentStart, toDegrees(bearing12), alongTrackDistance),
		Fraction: alongTrackDistance / segmentLength,
	}
}

// NewPoint creates a Point from latitude and longitude values with validation
func NewPoint(latitude, longitude float64) (Point, error) {
	point := Point{Latitude: latitude, Longitude: longitude}
	if !IsValid(point) {
		return Point{}, ErrInvalidCoordinate
	}
	return point, nil
}

// IsValid validates latitude and longitude values
func IsValid(point Point) bool {
	if math.IsNaN(point.Latitude) || math.IsNaN(point.Longitude) {
		return false
	}
	return point.Latitude >= -90 && point.Latitude <= 90 &&
		point.Longitude >= -180 && point.Longitude <= 180
}

func initialBearing(p1, p2 Point) float64 {
	lat1 := toRadians(p1.Latitude)
	lat2 := toRadians(p2.Latitude)
	dlon := toRadians(p2.Longitude - p1.Longitude)

	y := math.Sin(dlon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dlon)
	return math.Atan2(y, x)
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }

func normalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

func normalizeLongitude(lon float64) float64 {
	return math.Mod(lon+540, 360) - 180
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
