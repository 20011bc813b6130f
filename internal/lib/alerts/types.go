package alerts

import (
	"errors"
	"fmt"
	"time"

	"github.com/tripwatch/server/internal/lib/geo"
)

// Type identifies what an alert reports.
type Type string

const (
	TypeDeviation    Type = "route_deviation"
	TypeStop         Type = "unexpected_stop"
	TypeSOS          Type = "sos"
	TypeTripComplete Type = "trip_complete"

	// Informational types
	TypeTripStarted Type = "trip_started"
	TypeLowBattery  Type = "low_battery"
)

// Valid reports whether t is a known alert type.
func (t Type) Valid() bool {
	switch t {
	case TypeDeviation, TypeStop, TypeSOS, TypeTripComplete, TypeTripStarted, TypeLowBattery:
		return true
	}
	return false
}

// Priority selects the dispatch lane a message travels on.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

var (
	ErrNotCancellable   = errors.New("only sos alerts can be cancelled")
	ErrAlreadyCancelled = errors.New("alert already cancelled")
	ErrUnknownType      = errors.New("unknown alert type")
)

// Alert is a recorded safety event. Only SOS alerts change after creation,
// through cancellation; all others are write-once apart from delivery and
// acknowledgement bookkeeping.
type Alert struct {
	ID             string     `json:"id"`
	TripID         string     `json:"tripId,omitempty"`
	UserID         string     `json:"userId"`
	Type           Type       `json:"type"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	Timestamp      time.Time  `json:"timestamp"`
	Description    string     `json:"description,omitempty"`
	IsSent         bool       `json:"isSent"`
	RecipientCount int        `json:"recipientCount"`
	IsAcknowledged bool       `json:"isAcknowledged"`
	IsCancelled    bool       `json:"isCancelled"`
	CancelledAt    *time.Time `json:"cancelledAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Location returns the alert coordinates.
func (a Alert) Location() geo.Point {
	return geo.Point{Latitude: a.Latitude, Longitude: a.Longitude}
}

// Validate checks the fields required before an alert is stored.
func (a Alert) Validate() error {
	switch {
	case a.UserID == "":
		return errors.New("userId is required")
	case !a.Type.Valid():
		return fmt.Errorf("%w: %q", ErrUnknownType, a.Type)
	case !geo.IsValid(a.Location()):
		return geo.ErrInvalidCoordinate
	case a.Timestamp.IsZero():
		return errors.New("timestamp is required")
	}
	return nil
}

// CheckCancellable reports why the alert cannot be cancelled, or nil.
func (a Alert) CheckCancellable() error {
	if a.Type != TypeSOS {
		return ErrNotCancellable
	}
	if a.IsCancelled {
		return ErrAlreadyCancelled
	}
	return nil
}

// HasOpenSOS reports whether any alert in list is an uncancelled SOS. This is
// the derived emergency overlay of a trip.
func HasOpenSOS(list []Alert) bool {
	for _, a := range list {
		if a.Type == TypeSOS && !a.IsCancelled {
			return true
		}
	}
	return false
}
