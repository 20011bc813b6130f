package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripwatch/server/internal/lib/geo"
)

func testAlert(typ Type) Alert {
	return Alert{
		ID:        "a1",
		TripID:    "t1",
		UserID:    "u1",
		Type:      typ,
		Latitude:  38.0675,
		Longitude: -120.5436,
		Timestamp: time.Date(2026, 3, 1, 17, 30, 0, 0, time.UTC),
	}
}

func TestForAlert_EveryTypeHasAVariant(t *testing.T) {
	want := map[Type]Kind{
		TypeSOS:          KindSOS,
		TypeDeviation:    KindDeviation,
		TypeStop:         KindStop,
		TypeTripComplete: KindTripComplete,
		TypeTripStarted:  KindTripStarted,
		TypeLowBattery:   KindLowBattery,
	}
	for typ, kind := range want {
		msg, err := ForAlert(testAlert(typ))
		require.NoError(t, err, typ)
		assert.Equal(t, kind, msg.Kind())
		assert.Equal(t, "t1", msg.TripID())
		assert.Equal(t, "u1", msg.UserID())
		assert.Contains(t, msg.Text("Dana"), "https://maps.google.com/?q=38.067500,-120.543600",
			"every message must carry a map link")
		assert.Contains(t, msg.Text("Dana"), "Dana")
	}

	_, err := ForAlert(testAlert("weather"))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestPriorities(t *testing.T) {
	sos, _ := ForAlert(testAlert(TypeSOS))
	dev, _ := ForAlert(testAlert(TypeDeviation))
	assert.Equal(t, PriorityHigh, sos.Priority())
	assert.Equal(t, PriorityHigh, NewAllClear(testAlert(TypeSOS)).Priority())
	assert.Equal(t, PriorityNormal, dev.Priority())
	assert.Equal(t, PriorityLow, StatusMessage{}.Priority())
}

func TestStatusMessage(t *testing.T) {
	msg := StatusMessage{
		Trip:     "t1",
		User:     "u1",
		Position: geo.Point{Latitude: 1.5, Longitude: 2.25},
		Speed:    10,
	}
	text := msg.Text("")
	assert.Contains(t, text, "Your contact")
	assert.Contains(t, text, "36 km/h")
	assert.Contains(t, text, MapLink(msg.Position))
}

func TestCheckCancellable(t *testing.T) {
	assert.NoError(t, testAlert(TypeSOS).CheckCancellable())
	assert.ErrorIs(t, testAlert(TypeDeviation).CheckCancellable(), ErrNotCancellable)

	cancelled := testAlert(TypeSOS)
	cancelled.IsCancelled = true
	assert.ErrorIs(t, cancelled.CheckCancellable(), ErrAlreadyCancelled)
}

func TestHasOpenSOS(t *testing.T) {
	sos := testAlert(TypeSOS)
	closed := sos
	closed.IsCancelled = true

	assert.False(t, HasOpenSOS(nil))
	assert.False(t, HasOpenSOS([]Alert{testAlert(TypeStop), closed}))
	assert.True(t, HasOpenSOS([]Alert{closed, sos}))
}

func TestDerivedID(t *testing.T) {
	a := DerivedID("trip-1", "sample-1", TypeDeviation)
	assert.Equal(t, a, DerivedID("trip-1", "sample-1", TypeDeviation), "derived ids must be stable")
	assert.NotEqual(t, a, DerivedID("trip-1", "sample-1", TypeStop))
	assert.NotEqual(t, a, DerivedID("trip-1", "sample-2", TypeDeviation))
	assert.NotEqual(t, a, DerivedID("trip-2", "sample-1", TypeDeviation), "sample ids repeat across trips")
}

func TestValidate(t *testing.T) {
	assert.NoError(t, testAlert(TypeSOS).Validate())

	missingUser := testAlert(TypeSOS)
	missingUser.UserID = ""
	assert.Error(t, missingUser.Validate())

	badType := testAlert("nope")
	assert.ErrorIs(t, badType.Validate(), ErrUnknownType)

	badCoord := testAlert(TypeSOS)
	badCoord.Latitude = 120
	assert.ErrorIs(t, badCoord.Validate(), geo.ErrInvalidCoordinate)
}
