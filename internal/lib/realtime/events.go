// Package realtime pushes trip events to live clients grouped into rooms by
// circle join code.
package realtime

import (
	"context"
	"time"

	"github.com/tripwatch/server/internal/lib/alerts"
)

// EventType names a realtime event.
type EventType string

const (
	EventLocation       EventType = "location"
	EventAlert          EventType = "alert"
	EventAlertCancelled EventType = "alert_cancelled"
	EventJoined         EventType = "joined"
)

// Location is the payload of a location event.
type Location struct {
	TripID    string    `json:"tripId"`
	UserID    string    `json:"userId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed,omitempty"`
	Heading   float64   `json:"heading,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is one message delivered to a room.
type Event struct {
	Type     EventType     `json:"type"`
	Room     string        `json:"room"`
	Alert    *alerts.Alert `json:"alert,omitempty"`
	Location *Location     `json:"location,omitempty"`
	SentAt   time.Time     `json:"sentAt"`

	// Origin identifies the instance that produced the event
	Origin string `json:"origin,omitempty"`
}

// Broadcaster delivers an event to every client in room. Delivery is best
// effort.
type Broadcaster interface {
	Broadcast(ctx context.Context, room string, ev Event)
}

// Fanout broadcasts to several broadcasters.
type Fanout []Broadcaster

// Broadcast implements Broadcaster.
func (f Fanout) Broadcast(ctx context.Context, room string, ev Event) {
	for _, b := range f {
		if b != nil {
			b.Broadcast(ctx, room, ev)
		}
	}
}
