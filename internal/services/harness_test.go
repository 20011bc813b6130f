package services

import (
	"context"
	"sync"
	"testing"
	"time"

	perrors "github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/tripwatch/server/internal/lib/circles"
	"github.com/tripwatch/server/internal/lib/dispatch"
	"github.com/tripwatch/server/internal/lib/geo"
	"github.com/tripwatch/server/internal/lib/monitor"
	"github.com/tripwatch/server/internal/lib/polyline"
	"github.com/tripwatch/server/internal/lib/realtime"
	"github.com/tripwatch/server/internal/lib/tracking"
	"github.com/tripwatch/server/internal/store"
)

type sentMessage struct {
	Channel dispatch.Channel
	Address string
	Text    string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
	fail error
}

func (r *recordingSender) Send(ctx context.Context, channel dispatch.Channel, address, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.sent = append(r.sent, sentMessage{Channel: channel, Address: address, Text: text})
	return nil
}

func (r *recordingSender) messages() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMessage(nil), r.sent...)
}

type captureBroadcaster struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (c *captureBroadcaster) Broadcast(ctx context.Context, room string, ev realtime.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureBroadcaster) ofType(typ realtime.EventType) []realtime.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []realtime.Event
	for _, ev := range c.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	ctx      context.Context
	store    *store.Memory
	sender   *recordingSender
	events   *captureBroadcaster
	circles  *MembershipResolver
	alerts   *AlertService
	tracking *TrackingService
	trips    *TripService
	routes   *RouteService
}

// Test geography: a straight eastbound path of roughly 1.8 km.
var (
	origin      = geo.Point{Latitude: 37.0, Longitude: -122.0}
	midway      = geo.Point{Latitude: 37.0, Longitude: -121.99}
	destination = geo.Point{Latitude: 37.0, Longitude: -121.98}
	testPath    = polyline.Encode([]geo.Point{origin, midway, destination})
	testStart   = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(testContext())
	mem := store.NewMemory()
	h := &harness{
		ctx:     ctx,
		store:   mem,
		sender:  &recordingSender{},
		events:  &captureBroadcaster{},
		circles: NewMembershipResolver(mem, time.Minute),
	}
	d := dispatch.New(dispatch.DefaultConfig(), h.circles, h.sender, h.events)
	h.alerts = NewAlertService(mem, d)
	h.tracking = NewTrackingService(ctx, tracking.Config{
		PersistInterval: time.Hour,
		NotifyInterval:  time.Hour,
	}, TrackingDeps{
		Store:       mem,
		Processor:   monitor.NewProcessor(monitor.DefaultConfig()),
		Alerts:      h.alerts,
		Dispatcher:  d,
		Circles:     h.circles,
		Broadcaster: h.events,
	})
	h.trips = NewTripService(mem, h.tracking, h.alerts, h.circles, nil)
	h.routes = NewRouteService(mem, h.tracking)

	t.Cleanup(func() {
		_ = h.tracking.Shutdown(testContext())
		cancel()
	})

	require.NoError(t, h.circles.SyncCircle(ctx, &circles.Circle{
		ID:   "circle-1",
		Name: "Family",
		Code: "FAM123",
		Members: []circles.Member{
			{UserID: "alice", DisplayName: "Alice", MessengerID: "m-alice"},
			{UserID: "bob", DisplayName: "Bob", MessengerID: "m-bob", Phone: "+15550001"},
		},
	}))
	return h
}

// startTrip starts an active trip for alice along the test path.
func (h *harness) startTrip(t *testing.T) *TripView {
	t.Helper()
	v, err := h.trips.StartTrip(h.ctx, StartTripRequest{
		UserID:      "alice",
		Source:      origin,
		Destination: destination,
		Polyline:    testPath,
	})
	require.NoError(t, err)
	return v
}

// flush stops tracking for tripID and waits for buffered samples to persist.
func (h *harness) flush(t *testing.T, tripID string) {
	t.Helper()
	sess, ok := h.tracking.Registry().Get(tripID)
	if !ok {
		return
	}
	h.tracking.End(h.ctx, tripID)
	ctx, cancel := context.WithTimeout(testContext(), 5*time.Second)
	defer cancel()
	require.NoError(t, sess.Wait(ctx))
}

func sampleAt(id string, p geo.Point, at time.Time) SampleRequest {
	return SampleRequest{
		ID:        id,
		UserID:    "alice",
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Speed:     10,
		Timestamp: at,
	}
}

func requireCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, perrors.Code(err), "unexpected code for %v", err)
}

// testContext returns a background context with a logger attached.
func testContext() context.Context {
	return logging.EnsureLogger(context.Background())
}
