package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/tripwatch/server/internal/lib/alerts"
	"github.com/tripwatch/server/internal/lib/dispatch"
	"github.com/tripwatch/server/internal/lib/realtime"
)

func sosRequest(id, tripID string) CreateAlertRequest {
	return CreateAlertRequest{
		ID:        id,
		TripID:    tripID,
		UserID:    "alice",
		Type:      "SOS",
		Latitude:  midway.Latitude,
		Longitude: midway.Longitude,
		Timestamp: testStart,
	}
}

func TestCreateAlert_SOSReachesCircle(t *testing.T) {
	h := newHarness(t)
	v := h.startTrip(t)
	before := len(h.sender.messages())

	res, err := h.alerts.CreateAlert(h.ctx, sosRequest("sos-1", v.ID))
	require.NoError(t, err)
	assert.Equal(t, alerts.TypeSOS, res.Alert.Type)
	assert.True(t, res.Alert.IsSent)
	assert.Equal(t, 1, res.Delivery.RecipientCount)
	assert.Equal(t, "FAM123", res.Delivery.CircleCode)

	msgs := h.sender.messages()
	require.Len(t, msgs, before+1)
	assert.Equal(t, dispatch.ChannelMessenger, msgs[before].Channel)
	assert.Contains(t, msgs[before].Text, "Alice")

	stored, err := h.store.GetAlert(h.ctx, "sos-1")
	require.NoError(t, err)
	assert.True(t, stored.IsSent)
	assert.Equal(t, 1, stored.RecipientCount)

	assert.Eventually(t, func() bool {
		return len(h.events.ofType(realtime.EventAlert)) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestCreateAlert_ResubmissionDoesNotRedispatch(t *testing.T) {
	h := newHarness(t)
	v := h.startTrip(t)

	_, err := h.alerts.CreateAlert(h.ctx, sosRequest("sos-1", v.ID))
	require.NoError(t, err)
	count := len(h.sender.messages())

	res, err := h.alerts.CreateAlert(h.ctx, sosRequest("sos-1", v.ID))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.True(t, res.Alert.IsSent)
	assert.Len(t, h.sender.messages(), count)
}

func TestCreateAlert_ForeignIDIsNotEchoed(t *testing.T) {
	h := newHarness(t)
	v := h.startTrip(t)

	_, err := h.alerts.CreateAlert(h.ctx, sosRequest("sos-1", v.ID))
	require.NoError(t, err)
	count := len(h.sender.messages())

	req := sosRequest("sos-1", "")
	req.UserID = "mallory"
	req.Latitude, req.Longitude = 0, 0
	res, err := h.alerts.CreateAlert(h.ctx, req)
	requireCode(t, err, codes.AlreadyExists)
	assert.Nil(t, res)
	assert.Len(t, h.sender.messages(), count)

	stored, err := h.store.GetAlert(h.ctx, "sos-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.UserID)
	assert.InDelta(t, midway.Latitude, stored.Latitude, 1e-9)
}

func TestCreateAlert_Validation(t *testing.T) {
	h := newHarness(t)

	req := sosRequest("", "")
	req.Type = "flood"
	_, err := h.alerts.CreateAlert(h.ctx, req)
	requireCode(t, err, codes.InvalidArgument)

	req = sosRequest("", "")
	req.Latitude = -95
	_, err = h.alerts.CreateAlert(h.ctx, req)
	requireCode(t, err, codes.InvalidArgument)

	_, err = h.alerts.CreateAlert(h.ctx, sosRequest("", "missing-trip"))
	requireCode(t, err, codes.NotFound)
}

func TestCreateAlert_WithoutCircleIsRecordedUnsent(t *testing.T) {
	h := newHarness(t)
	req := sosRequest("sos-carol", "")
	req.UserID = "carol"

	res, err := h.alerts.CreateAlert(h.ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Delivery.NoCircle)
	assert.False(t, res.Alert.IsSent)

	stored, err := h.store.GetAlert(h.ctx, "sos-carol")
	require.NoError(t, err)
	assert.False(t, stored.IsSent)
}

func TestCreateAlert_ProviderOutageIsDegradedNotFailed(t *testing.T) {
	h := newHarness(t)
	h.sender.fail = dispatch.ErrProviderUnavailable

	res, err := h.alerts.CreateAlert(h.ctx, sosRequest("sos-1", ""))
	require.NoError(t, err)
	assert.True(t, res.Delivery.Degraded)
	assert.False(t, res.Alert.IsSent)

	stored, err := h.store.GetAlert(h.ctx, "sos-1")
	require.NoError(t, err)
	assert.Equal(t, alerts.TypeSOS, stored.Type)
}

func TestCancelAlert(t *testing.T) {
	h := newHarness(t)
	v := h.startTrip(t)
	_, err := h.alerts.CreateAlert(h.ctx, sosRequest("sos-1", v.ID))
	require.NoError(t, err)
	before := len(h.sender.messages())

	_, err = h.alerts.CancelAlert(h.ctx, "bob", "sos-1")
	requireCode(t, err, codes.NotFound)

	res, err := h.alerts.CancelAlert(h.ctx, "alice", "sos-1")
	require.NoError(t, err)
	assert.True(t, res.Alert.IsCancelled)
	require.NotNil(t, res.Alert.CancelledAt)

	msgs := h.sender.messages()
	require.Len(t, msgs, before+1)
	assert.Contains(t, msgs[before].Text, "All clear")

	_, err = h.alerts.CancelAlert(h.ctx, "alice", "sos-1")
	requireCode(t, err, codes.FailedPrecondition)

	assert.Eventually(t, func() bool {
		return len(h.events.ofType(realtime.EventAlertCancelled)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCancelAlert_OnlySOSIsCancellable(t *testing.T) {
	h := newHarness(t)
	v := h.startTrip(t)

	started := alerts.DerivedID(v.ID, "", alerts.TypeTripStarted)
	_, err := h.alerts.CancelAlert(h.ctx, "alice", started)
	requireCode(t, err, codes.FailedPrecondition)
}

func TestAcknowledgeAndListAlerts(t *testing.T) {
	h := newHarness(t)
	v := h.startTrip(t)
	_, err := h.alerts.CreateAlert(h.ctx, sosRequest("sos-1", v.ID))
	require.NoError(t, err)

	a, err := h.alerts.AcknowledgeAlert(h.ctx, "sos-1")
	require.NoError(t, err)
	assert.True(t, a.IsAcknowledged)

	_, err = h.alerts.AcknowledgeAlert(h.ctx, "nope")
	requireCode(t, err, codes.NotFound)

	byTrip, err := h.alerts.ListAlerts(h.ctx, v.ID, "")
	require.NoError(t, err)
	assert.Len(t, byTrip, 2, "trip start plus SOS")

	byUser, err := h.alerts.ListAlerts(h.ctx, "", "alice")
	require.NoError(t, err)
	assert.Len(t, byUser, 2)
}
