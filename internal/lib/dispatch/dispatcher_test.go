package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tripwatch/server/internal/lib/alerts"
	"github.com/tripwatch/server/internal/lib/circles"
	"github.com/tripwatch/server/internal/lib/realtime"
)

// MockSender is a mock implementation of Sender
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, channel Channel, address, text string) error {
	args := m.Called(ctx, channel, address, text)
	return args.Error(0)
}

// senderFunc adapts a function to Sender
type senderFunc func(ctx context.Context, channel Channel, address, text string) error

func (f senderFunc) Send(ctx context.Context, channel Channel, address, text string) error {
	return f(ctx, channel, address, text)
}

type staticResolver struct {
	circle *circles.Circle
	err    error
}

func (r staticResolver) CircleForUser(ctx context.Context, userID string) (*circles.Circle, error) {
	return r.circle, r.err
}

type captureBroadcaster struct {
	mu     sync.Mutex
	rooms  []string
	events []realtime.Event
}

func (c *captureBroadcaster) Broadcast(_ context.Context, room string, ev realtime.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms = append(c.rooms, room)
	c.events = append(c.events, ev)
}

func (c *captureBroadcaster) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func testCircle() *circles.Circle {
	return &circles.Circle{
		ID:   "c1",
		Code: "ABC123",
		Members: []circles.Member{
			{UserID: "trigger", DisplayName: "Sam"},
			{UserID: "a", MessengerID: "im-a", Phone: "+15550001"},
			{UserID: "b", MessengerID: "im-b", Phone: "+15550002"},
			{UserID: "c", MessengerID: "im-c", Phone: "+15550003"},
		},
	}
}

func sosMessage(t *testing.T) alerts.Message {
	msg, err := alerts.ForAlert(alerts.Alert{
		ID: "alert-1", TripID: "trip-1", UserID: "trigger", Type: alerts.TypeSOS,
		Latitude: 38.1, Longitude: -120.4, Timestamp: time.Now(),
	})
	require.NoError(t, err)
	return msg
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RecipientTimeout = 50 * time.Millisecond
	return cfg
}

func TestDispatch_FallbackStillCountsAsSent(t *testing.T) {
	sender := &MockSender{}
	sender.On("Send", mock.Anything, ChannelMessenger, "im-a", mock.Anything).Return(nil)
	sender.On("Send", mock.Anything, ChannelMessenger, "im-b", mock.Anything).Return(errors.New("messenger outage"))
	sender.On("Send", mock.Anything, ChannelSMS, "+15550002", mock.Anything).Return(nil)
	sender.On("Send", mock.Anything, ChannelMessenger, "im-c", mock.Anything).Return(nil)

	d := New(testConfig(), staticResolver{circle: testCircle()}, sender, nil)
	out, err := d.Dispatch(testContext(), sosMessage(t))
	require.NoError(t, err)

	assert.True(t, out.Sent)
	assert.Equal(t, 3, out.RecipientCount)
	assert.Equal(t, 3, out.Delivered)
	assert.False(t, out.Degraded)

	byUser := map[string]RecipientResult{}
	for _, r := range out.Results {
		byUser[r.UserID] = r
	}
	assert.NotContains(t, byUser, "trigger", "the trigger is never a recipient")
	assert.Equal(t, ChannelSMS, byUser["b"].Channel)
	assert.True(t, byUser["b"].Fallback)
	assert.Equal(t, ChannelMessenger, byUser["a"].Channel)
	assert.False(t, byUser["a"].Fallback)

	sender.AssertNotCalled(t, "Send", mock.Anything, ChannelSMS, "+15550001", mock.Anything)
	sender.AssertExpectations(t)
}

func TestDispatch_MessageCarriesSenderNameAndMapLink(t *testing.T) {
	sender := &MockSender{}
	sender.On("Send", mock.Anything, ChannelMessenger, mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "Sam") &&
			strings.Contains(text, "https://maps.google.com/?q=38.100000,-120.400000")
	})).Return(nil)

	d := New(testConfig(), staticResolver{circle: testCircle()}, sender, nil)
	out, err := d.Dispatch(testContext(), sosMessage(t))
	require.NoError(t, err)
	assert.Equal(t, 3, out.Delivered)
}

func TestDispatch_EmptyCircleIsSent(t *testing.T) {
	circle := &circles.Circle{Code: "SOLO01", Members: []circles.Member{{UserID: "trigger"}}}
	sender := &MockSender{}

	d := New(testConfig(), staticResolver{circle: circle}, sender, nil)
	out, err := d.Dispatch(testContext(), sosMessage(t))
	require.NoError(t, err)

	assert.True(t, out.Sent, "an empty recipient set is a degenerate success")
	assert.Zero(t, out.RecipientCount)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_NoCircleIsRecordedUnsent(t *testing.T) {
	d := New(testConfig(), staticResolver{err: ErrNoCircle}, &MockSender{}, nil)
	out, err := d.Dispatch(testContext(), sosMessage(t))
	require.NoError(t, err)
	assert.True(t, out.NoCircle)
	assert.False(t, out.Sent)
}

func TestDispatch_ResolverFailureIsReturned(t *testing.T) {
	d := New(testConfig(), staticResolver{err: errors.New("db down")}, &MockSender{}, nil)
	_, err := d.Dispatch(testContext(), sosMessage(t))
	assert.Error(t, err)
}

func TestDispatch_ProviderUnavailableDegrades(t *testing.T) {
	sender := senderFunc(func(context.Context, Channel, string, string) error {
		return ErrProviderUnavailable
	})
	d := New(testConfig(), staticResolver{circle: testCircle()}, sender, nil)
	out, err := d.Dispatch(testContext(), sosMessage(t))
	require.NoError(t, err)
	assert.True(t, out.Degraded)
	assert.False(t, out.Sent)
	assert.Equal(t, 3, out.RecipientCount)

	// A nil sender is the same degraded mode
	d = New(testConfig(), staticResolver{circle: testCircle()}, nil, nil)
	out, err = d.Dispatch(testContext(), sosMessage(t))
	require.NoError(t, err)
	assert.True(t, out.Degraded)
	assert.False(t, out.Sent)
}

func TestDispatch_SlowRecipientTimesOutWithoutBlockingOthers(t *testing.T) {
	var mu sync.Mutex
	delivered := map[string]time.Duration{}
	start := time.Now()

	sender := senderFunc(func(ctx context.Context, ch Channel, address, text string) error {
		if ch == ChannelMessenger && address == "im-a" {
			<-ctx.Done()
			return ctx.Err()
		}
		mu.Lock()
		delivered[address] = time.Since(start)
		mu.Unlock()
		return nil
	})

	d := New(testConfig(), staticResolver{circle: testCircle()}, sender, nil)
	out, err := d.Dispatch(testContext(), sosMessage(t))
	require.NoError(t, err)

	assert.Equal(t, 3, out.Delivered)
	assert.Contains(t, delivered, "+15550001", "timed out recipient falls back to sms")
	assert.Less(t, delivered["im-b"], 50*time.Millisecond, "siblings do not wait for the slow recipient")
	assert.Less(t, delivered["im-c"], 50*time.Millisecond)
}

func TestDispatch_UnreachableRecipientIsIsolated(t *testing.T) {
	sender := senderFunc(func(ctx context.Context, ch Channel, address, text string) error {
		if address == "im-c" || address == "+15550003" {
			return errors.New("bounced")
		}
		return nil
	})
	d := New(testConfig(), staticResolver{circle: testCircle()}, sender, nil)
	out, err := d.Dispatch(testContext(), sosMessage(t))
	require.NoError(t, err)

	assert.True(t, out.Sent)
	assert.Equal(t, 2, out.Delivered)
	for _, r := range out.Results {
		if r.UserID == "c" {
			assert.False(t, r.Delivered)
			assert.NotEmpty(t, r.Error)
		}
	}
}

func TestDispatch_BroadcastsToCircleRoom(t *testing.T) {
	b := &captureBroadcaster{}
	d := New(testConfig(), staticResolver{circle: testCircle()}, nil, b)

	_, err := d.Dispatch(testContext(), sosMessage(t))
	require.NoError(t, err)

	cancelled := alerts.Alert{ID: "alert-1", UserID: "trigger", Type: alerts.TypeSOS, IsCancelled: true}
	_, err = d.Dispatch(testContext(), alerts.NewAllClear(cancelled))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return b.count() == 2 }, time.Second, time.Millisecond)

	b.mu.Lock()
	defer b.mu.Unlock()
	types := []realtime.EventType{b.events[0].Type, b.events[1].Type}
	assert.ElementsMatch(t, []realtime.EventType{realtime.EventAlert, realtime.EventAlertCancelled}, types)
	assert.Equal(t, []string{"ABC123", "ABC123"}, b.rooms)
}

func TestEventFor_Status(t *testing.T) {
	ev, ok := eventFor(alerts.StatusMessage{Trip: "t", User: "u"})
	require.True(t, ok)
	assert.Equal(t, realtime.EventLocation, ev.Type)
	require.NotNil(t, ev.Location)
	assert.Equal(t, "t", ev.Location.TripID)
}

// testContext returns a background context with a logger attached.
func testContext() context.Context {
	return logging.EnsureLogger(context.Background())
}
