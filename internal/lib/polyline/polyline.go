// Package polyline converts between geo points and the Google encoded
// polyline format, the only transport representation of a path.
package polyline

import (
	"github.com/twpayne/go-polyline"

	"github.com/tripwatch/server/internal/lib/geo"
)

// Precision is the coordinate resolution the codec round-trips at (5 decimal digits).
const Precision = 1e-5

// Encode returns the encoded polyline for points. An empty list encodes to "".
func Encode(points []geo.Point) string {
	if len(points) == 0 {
		return ""
	}
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Latitude, p.Longitude}
	}
	return string(polyline.EncodeCoords(coords))
}

// Decode parses an encoded polyline. Empty or malformed input yields an empty
// slice rather than an error so bad upstream data cannot break consumers.
func Decode(encoded string) []geo.Point {
	points, err := DecodeStrict(encoded)
	if err != nil {
		return []geo.Point{}
	}
	return points
}

// DecodeStrict is Decode but reports malformed input.
func DecodeStrict(encoded string) ([]geo.Point, error) {
	if encoded == "" {
		return []geo.Point{}, nil
	}

	coords, rest, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, ErrTrailingData
	}

	points := make([]geo.Point, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			return nil, ErrMalformed
		}
		p := geo.Point{Latitude: c[0], Longitude: c[1]}
		if !geo.IsValid(p) {
			return nil, geo.ErrInvalidCoordinate
		}
		points = append(points, p)
	}
	return points, nil
}
