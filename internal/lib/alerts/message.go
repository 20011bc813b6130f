package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/tripwatch/server/internal/lib/geo"
)

// Kind enumerates the message variants sent to circle members.
type Kind string

const (
	KindSOS          Kind = "sos"
	KindDeviation    Kind = "deviation"
	KindStop         Kind = "stop"
	KindTripComplete Kind = "trip_complete"
	KindTripStarted  Kind = "trip_started"
	KindLowBattery   Kind = "low_battery"
	KindAllClear     Kind = "all_clear"
	KindStatus       Kind = "status"
)

// Message is a composed notification. The set of implementations is closed;
// every variant lives in this file.
type Message interface {
	Kind() Kind
	Priority() Priority
	Text(sender string) string
	Location() geo.Point
	TripID() string
	UserID() string
	message()
}

// MapLink returns a maps URL for p.
func MapLink(p geo.Point) string {
	return fmt.Sprintf("https://maps.google.com/?q=%.6f,%.6f", p.Latitude, p.Longitude)
}

// ForAlert returns the message variant for a stored alert.
func ForAlert(a Alert) (Message, error) {
	base := alertMessage{Alert: a}
	switch a.Type {
	case TypeSOS:
		return SOSMessage{base}, nil
	case TypeDeviation:
		return DeviationMessage{base}, nil
	case TypeStop:
		return StopMessage{base}, nil
	case TypeTripComplete:
		return TripCompleteMessage{base}, nil
	case TypeTripStarted:
		return TripStartedMessage{base}, nil
	case TypeLowBattery:
		return LowBatteryMessage{base}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, a.Type)
}

// alertMessage carries the alert a variant was built from.
type alertMessage struct {
	Alert Alert
}

func (m alertMessage) Location() geo.Point { return m.Alert.Location() }
func (m alertMessage) TripID() string { return m.Alert.TripID }
func (m alertMessage) UserID() string { return m.Alert.UserID }
func (m alertMessage) Source() Alert { return m.Alert }
func (alertMessage) message() {}

// SOSMessage is an emergency raised by the trip owner.
type SOSMessage struct{ alertMessage }

func (SOSMessage) Kind() Kind { return KindSOS }
func (SOSMessage) Priority() Priority { return PriorityHigh }
func (m SOSMessage) Text(sender string) string {
	text := fmt.Sprintf("EMERGENCY: %s has triggered an SOS alert and may need help.", name(sender))
	return compose(text, m.Alert.Description, m.Location(), m.Alert.Timestamp)
}

// DeviationMessage reports the start of a deviation episode.
type DeviationMessage struct{ alertMessage }

func (DeviationMessage) Kind() Kind { return KindDeviation }
func (DeviationMessage) Priority() Priority { return PriorityNormal }
func (m DeviationMessage) Text(sender string) string {
	text := fmt.Sprintf("%s has gone off their planned route.", name(sender))
	return compose(text, m.Alert.Description, m.Location(), m.Alert.Timestamp)
}

// StopMessage reports the start of a stop episode.
type StopMessage struct{ alertMessage }

func (StopMessage) Kind() Kind { return KindStop }
func (StopMessage) Priority() Priority { return PriorityNormal }
func (m StopMessage) Text(sender string) string {
	text := fmt.Sprintf("%s has made an unexpected stop.", name(sender))
	return compose(text, m.Alert.Description, m.Location(), m.Alert.Timestamp)
}

// TripCompleteMessage reports arrival.
type TripCompleteMessage struct{ alertMessage }

func (TripCompleteMessage) Kind() Kind { return KindTripComplete }
func (TripCompleteMessage) Priority() Priority { return PriorityNormal }
func (m TripCompleteMessage) Text(sender string) string {
	text := fmt.Sprintf("%s has arrived safely at their destination.", name(sender))
	return compose(text, "", m.Location(), m.Alert.Timestamp)
}

// TripStartedMessage reports a newly activated trip.
type TripStartedMessage struct{ alertMessage }

func (TripStartedMessage) Kind() Kind { return KindTripStarted }
func (TripStartedMessage) Priority() Priority { return PriorityNormal }
func (m TripStartedMessage) Text(sender string) string {
	text := fmt.Sprintf("%s has started a trip and is sharing their location with you.", name(sender))
	return compose(text, m.Alert.Description, m.Location(), m.Alert.Timestamp)
}

// LowBatteryMessage warns that the tracked device may go dark.
type LowBatteryMessage struct{ alertMessage }

func (LowBatteryMessage) Kind() Kind { return KindLowBattery }
func (LowBatteryMessage) Priority() Priority { return PriorityNormal }
func (m LowBatteryMessage) Text(sender string) string {
	text := fmt.Sprintf("%s's phone battery is running low during their trip.", name(sender))
	return compose(text, m.Alert.Description, m.Location(), m.Alert.Timestamp)
}

// AllClearMessage follows the cancellation of an SOS alert.
type AllClearMessage struct{ alertMessage }

// NewAllClear builds the all-clear variant for a cancelled SOS alert.
func NewAllClear(a Alert) AllClearMessage {
	return AllClearMessage{alertMessage{Alert: a}}
}

func (AllClearMessage) Kind() Kind { return KindAllClear }
func (AllClearMessage) Priority() Priority { return PriorityHigh }
func (m AllClearMessage) Text(sender string) string {
	text := fmt.Sprintf("All clear: %s has cancelled their SOS alert and is safe.", name(sender))
	return compose(text, "", m.Location(), time.Time{})
}

// StatusMessage is the periodic "still on route" update. It is not backed by
// a stored alert.
type StatusMessage struct {
	Trip     string
	User     string
	Position geo.Point
	At       time.Time
	Speed    float64
}

func (StatusMessage) Kind() Kind { return KindStatus }
func (StatusMessage) Priority() Priority { return PriorityLow }
func (m StatusMessage) Location() geo.Point { return m.Position }
func (m StatusMessage) TripID() string { return m.Trip }
func (m StatusMessage) UserID() string { return m.User }
func (StatusMessage) message() {}
func (m StatusMessage) Text(sender string) string {
	text := fmt.Sprintf("Trip update: %s is on their way.", name(sender))
	detail := ""
	if m.Speed > 0 {
		detail = fmt.Sprintf("Moving at %.0f km/h.", m.Speed*3.6)
	}
	return compose(text, detail, m.Position, m.At)
}

func name(sender string) string {
	if strings.TrimSpace(sender) == "" {
		return "Your contact"
	}
	return sender
}

func compose(headline, detail string, at geo.Point, when time.Time) string {
	var b strings.Builder
	b.WriteString(headline)
	if detail != "" {
		b.WriteString(" ")
		b.WriteString(detail)
	}
	if !when.IsZero() {
		b.WriteString(" (")
		b.WriteString(when.UTC().Format("15:04 MST"))
		b.WriteString(")")
	}
	b.WriteString("\nLocation: ")
	b.WriteString(MapLink(at))
	return b.String()
}
