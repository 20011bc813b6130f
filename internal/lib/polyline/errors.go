package polyline

import "errors"

var (
	// ErrMalformed is returned when a decoded coordinate has the wrong arity.
	ErrMalformed = errors.New("polyline: malformed coordinate")

	// ErrTrailingData is returned when bytes remain after the last coordinate.
	ErrTrailingData = errors.New("polyline: trailing data")
)
