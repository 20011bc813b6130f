package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/tripwatch/server/internal/lib/circles"
)

// DefaultSubjectPrefix is the NATS subject namespace for circle rooms.
const DefaultSubjectPrefix = "tripwatch.circle"

// Relay mirrors room events across server instances over NATS. Events
// published by this instance are delivered locally by the hub directly and
// ignored when they come back from the bus.
type Relay struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	prefix string
	origin string
	local  Broadcaster
}

// ConnectRelay dials url and starts relaying into local.
func ConnectRelay(ctx context.Context, url, prefix string, local Broadcaster) (*Relay, error) {
	conn, err := nats.Connect(url,
		nats.Name("tripwatch-realtime"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warnw(ctx, "Realtime relay: disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logging.Infow(ctx, "Realtime relay: reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	relay, err := NewRelay(ctx, conn, prefix, local)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return relay, nil
}

// NewRelay subscribes to every room under prefix on an existing connection.
func NewRelay(ctx context.Context, conn *nats.Conn, prefix string, local Broadcaster) (*Relay, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	ctx = logging.EnsureLogger(ctx)
	r := &Relay{
		conn:   conn,
		prefix: prefix,
		origin: uuid.NewString(),
		local:  local,
	}

	sub, err := conn.Subscribe(prefix+".*", func(msg *nats.Msg) {
		r.receive(ctx, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s.*: %w", prefix, err)
	}
	r.sub = sub
	return r, nil
}

// Subject returns the NATS subject for room.
func (r *Relay) Subject(room string) string {
	return r.prefix + "." + circles.NormalizeCode(room)
}

// Broadcast publishes ev for other instances.
func (r *Relay) Broadcast(ctx context.Context, room string, ev Event) {
	room = circles.NormalizeCode(room)
	if room == "" || strings.ContainsAny(room, ".*>") {
		logging.Warnw(ctx, "Realtime relay: room is not a valid subject token", "room", room)
		return
	}
	ev.Room = room
	ev.Origin = r.origin
	if ev.SentAt.IsZero() {
		ev.SentAt = time.Now()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		logging.Errorw(ctx, "Realtime relay: failed to encode event", "room", room, "error", err)
		return
	}
	if err := r.conn.Publish(r.Subject(room), payload); err != nil {
		logging.Warnw(ctx, "Realtime relay: publish failed", "room", room, "error", err)
	}
}

func (r *Relay) receive(ctx context.Context, msg *nats.Msg) {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		logging.Warnw(ctx, "Realtime relay: dropping malformed event", "subject", msg.Subject, "error", err)
		return
	}
	if ev.Origin == r.origin || r.local == nil {
		return
	}
	r.local.Broadcast(ctx, ev.Room, ev)
}

// Close drains the subscription and the connection.
func (r *Relay) Close() error {
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
	return r.conn.Drain()
}
