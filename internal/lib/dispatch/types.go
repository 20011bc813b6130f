package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/tripwatch/server/internal/lib/circles"
)

// Channel is a messaging transport.
type Channel string

const (
	ChannelMessenger Channel = "messenger"
	ChannelSMS       Channel = "sms"
)

var (
	// ErrProviderUnavailable is returned by a Sender that cannot deliver on any
	// recipient, typically because it is not configured.
	ErrProviderUnavailable = errors.New("messaging provider unavailable")

	// ErrNoCircle is returned by a MembershipResolver when the user belongs to
	// no circle.
	ErrNoCircle = errors.New("user is not in a circle")

	errNoAddress = errors.New("recipient has no address for channel")
)

// Sender delivers text to one address on one channel.
type Sender interface {
	Send(ctx context.Context, channel Channel, address, text string) error
}

// MembershipResolver finds the circle a user belongs to.
type MembershipResolver interface {
	CircleForUser(ctx context.Context, userID string) (*circles.Circle, error)
}

// Config controls fan-out concurrency and timeouts.
type Config struct {
	RecipientTimeout  time.Duration `koanf:"recipient_timeout" yaml:"recipient_timeout"`
	HighConcurrency   int           `koanf:"high_concurrency" yaml:"high_concurrency"`
	NormalConcurrency int           `koanf:"normal_concurrency" yaml:"normal_concurrency"`
	LowConcurrency    int           `koanf:"low_concurrency" yaml:"low_concurrency"`
}

// DefaultConfig returns the production fan-out limits.
func DefaultConfig() Config {
	return Config{
		RecipientTimeout:  10 * time.Second,
		HighConcurrency:   16,
		NormalConcurrency: 8,
		LowConcurrency:    4,
	}
}

// Validate rejects unusable limits.
func (c Config) Validate() error {
	if c.RecipientTimeout <= 0 {
		return errors.New("dispatch: recipient_timeout must be positive")
	}
	if c.HighConcurrency <= 0 || c.NormalConcurrency <= 0 || c.LowConcurrency <= 0 {
		return errors.New("dispatch: lane concurrency must be positive")
	}
	return nil
}

// RecipientResult is the delivery record for one circle member.
type RecipientResult struct {
	UserID    string  `json:"userId"`
	Channel   Channel `json:"channel,omitempty"`
	Delivered bool    `json:"delivered"`
	Fallback  bool    `json:"fallback"`
	Error     string  `json:"error,omitempty"`

	unavailable bool
}

// Outcome summarizes one dispatch.
type Outcome struct {
	CircleCode     string            `json:"circleCode,omitempty"`
	RecipientCount int               `json:"recipientCount"`
	Delivered      int               `json:"delivered"`
	Sent           bool              `json:"sent"`
	NoCircle       bool              `json:"noCircle,omitempty"`
	Degraded       bool              `json:"degraded,omitempty"`
	Results        []RecipientResult `json:"results,omitempty"`
}
