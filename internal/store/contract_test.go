package store

import (
	"context"
	"testing"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripwatch/server/internal/lib/alerts"
	"github.com/tripwatch/server/internal/lib/circles"
	"github.com/tripwatch/server/internal/lib/geo"
	"github.com/tripwatch/server/internal/lib/trip"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newTrip(id, user string, status trip.Status) *trip.Trip {
	return &trip.Trip{
		ID:                   id,
		UserID:               user,
		Source:               geo.Point{Latitude: 38.0675, Longitude: -120.5397},
		Destination:          geo.Point{Latitude: 38.1388, Longitude: -120.4572},
		Polyline:             "_p~iF~ps|U_ulLnnqC",
		AlternativePolylines: []string{"_ulLnnqC_mqNvxq`@"},
		Status:               status,
		StartTime:            t0,
		CreatedAt:            t0,
		UpdatedAt:            t0,
	}
}

func sample(id, tripID string, at time.Time) trip.Sample {
	battery := 42.0
	return trip.Sample{
		ID:           id,
		TripID:       tripID,
		UserID:       "u1",
		Latitude:     38.07,
		Longitude:    -120.53,
		Speed:        12.5,
		BatteryLevel: &battery,
		Timestamp:    at,
		IsMoving:     true,
	}
}

// runStoreContract exercises behavior every backend must share.
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	ctx := testContext()

	t.Run("TripRoundTrip", func(t *testing.T) {
		s := open(t)
		want := newTrip("trip-1", "u1", trip.StatusPlanned)
		require.NoError(t, s.CreateTrip(ctx, want))

		got, err := s.GetTrip(ctx, "trip-1")
		require.NoError(t, err)
		assert.Equal(t, want.UserID, got.UserID)
		assert.Equal(t, want.Polyline, got.Polyline)
		assert.Equal(t, want.AlternativePolylines, got.AlternativePolylines)
		assert.Equal(t, trip.StatusPlanned, got.Status)
		assert.True(t, want.StartTime.Equal(got.StartTime))
		assert.Nil(t, got.EndTime)

		_, err = s.GetTrip(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, s.CreateTrip(ctx, want), ErrDuplicate)
	})

	t.Run("OneActiveTripPerUser", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.CreateTrip(ctx, newTrip("a", "u1", trip.StatusActive)))
		assert.ErrorIs(t, s.CreateTrip(ctx, newTrip("b", "u1", trip.StatusActive)), ErrActiveTripExists)
		require.NoError(t, s.CreateTrip(ctx, newTrip("c", "u2", trip.StatusActive)))

		planned := newTrip("d", "u1", trip.StatusPlanned)
		require.NoError(t, s.CreateTrip(ctx, planned))
		planned.Status = trip.StatusActive
		assert.ErrorIs(t, s.UpdateTripStatus(ctx, planned, trip.StatusPlanned), ErrActiveTripExists)

		active, err := s.ActiveTripForUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "a", active.ID)

		_, err = s.ActiveTripForUser(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UpdateTripStatusIsConditional", func(t *testing.T) {
		s := open(t)
		tr := newTrip("trip-1", "u1", trip.StatusActive)
		require.NoError(t, s.CreateTrip(ctx, tr))

		end := t0.Add(time.Hour)
		tr.Status = trip.StatusCompleted
		tr.EndTime = &end
		tr.UpdatedAt = end
		require.NoError(t, s.UpdateTripStatus(ctx, tr, trip.StatusActive))

		tr.Status = trip.StatusCancelled
		assert.ErrorIs(t, s.UpdateTripStatus(ctx, tr, trip.StatusActive), ErrConflict)

		got, err := s.GetTrip(ctx, "trip-1")
		require.NoError(t, err)
		assert.Equal(t, trip.StatusCompleted, got.Status)
		require.NotNil(t, got.EndTime)
		assert.True(t, end.Equal(*got.EndTime))

		missing := newTrip("nope", "u1", trip.StatusCompleted)
		assert.ErrorIs(t, s.UpdateTripStatus(ctx, missing, trip.StatusActive), ErrNotFound)
	})

	t.Run("CountersOnlyWhileActive", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.CreateTrip(ctx, newTrip("trip-1", "u1", trip.StatusActive)))
		require.NoError(t, s.AddTripCounters(ctx, "trip-1", trip.Counters{DeviationCount: 1, AlertCount: 1}))
		require.NoError(t, s.AddTripCounters(ctx, "trip-1", trip.Counters{StopCount: 2, AlertCount: 2}))

		got, err := s.GetTrip(ctx, "trip-1")
		require.NoError(t, err)
		assert.Equal(t, trip.Counters{DeviationCount: 1, StopCount: 2, AlertCount: 3}, got.Counters)

		require.NoError(t, s.CreateTrip(ctx, newTrip("trip-2", "u2", trip.StatusPlanned)))
		assert.ErrorIs(t, s.AddTripCounters(ctx, "trip-2", trip.Counters{AlertCount: 1}), ErrConflict)
		assert.ErrorIs(t, s.AddTripCounters(ctx, "missing", trip.Counters{AlertCount: 1}), ErrNotFound)
	})

	t.Run("SamplesAreIdempotent", func(t *testing.T) {
		s := open(t)
		batch := []trip.Sample{
			sample("s2", "trip-1", t0.Add(10*time.Second)),
			sample("s1", "trip-1", t0),
			sample("x1", "trip-2", t0),
		}
		n, err := s.SaveSamples(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = s.SaveSamples(ctx, append(batch, sample("s3", "trip-1", t0.Add(20*time.Second))))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		exists, err := s.SampleExists(ctx, "trip-1", "s1")
		require.NoError(t, err)
		assert.True(t, exists)
		exists, err = s.SampleExists(ctx, "trip-1", "zzz")
		require.NoError(t, err)
		assert.False(t, exists)
		exists, err = s.SampleExists(ctx, "trip-2", "s1")
		require.NoError(t, err)
		assert.False(t, exists, "sample ids are scoped to their trip")

		// The same client id on another trip is a different sample
		n, err = s.SaveSamples(ctx, []trip.Sample{sample("s1", "trip-2", t0)})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		list, err := s.ListSamples(ctx, "trip-1")
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []string{"s1", "s2", "s3"}, []string{list[0].ID, list[1].ID, list[2].ID})
		require.NotNil(t, list[0].BatteryLevel)
		assert.InDelta(t, 42.0, *list[0].BatteryLevel, 1e-9)
		assert.True(t, list[0].IsMoving)
	})

	t.Run("PurgeSamples", func(t *testing.T) {
		s := open(t)
		_, err := s.SaveSamples(ctx, []trip.Sample{
			sample("old", "trip-1", t0.Add(-48*time.Hour)),
			sample("new", "trip-1", t0),
		})
		require.NoError(t, err)

		removed, err := s.PurgeSamplesBefore(ctx, t0.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		list, err := s.ListSamples(ctx, "trip-1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "new", list[0].ID)
	})

	t.Run("AlertLifecycle", func(t *testing.T) {
		s := open(t)
		sos := &alerts.Alert{ID: "a1", TripID: "trip-1", UserID: "u1", Type: alerts.TypeSOS, Timestamp: t0, CreatedAt: t0}
		dev := &alerts.Alert{ID: "a2", TripID: "trip-1", UserID: "u1", Type: alerts.TypeDeviation, Timestamp: t0.Add(time.Minute), CreatedAt: t0}
		require.NoError(t, s.CreateAlert(ctx, sos))
		require.NoError(t, s.CreateAlert(ctx, dev))
		assert.ErrorIs(t, s.CreateAlert(ctx, sos), ErrDuplicate)

		require.NoError(t, s.RecordDelivery(ctx, "a1", true, 3))
		require.NoError(t, s.AcknowledgeAlert(ctx, "a1"))
		assert.ErrorIs(t, s.AcknowledgeAlert(ctx, "missing"), ErrNotFound)

		at := t0.Add(5 * time.Minute)
		require.NoError(t, s.CancelAlert(ctx, "a1", at))
		assert.ErrorIs(t, s.CancelAlert(ctx, "a1", at), ErrConflict)
		assert.ErrorIs(t, s.CancelAlert(ctx, "a2", at), ErrConflict)
		assert.ErrorIs(t, s.CancelAlert(ctx, "missing", at), ErrNotFound)

		got, err := s.GetAlert(ctx, "a1")
		require.NoError(t, err)
		assert.True(t, got.IsSent)
		assert.Equal(t, 3, got.RecipientCount)
		assert.True(t, got.IsAcknowledged)
		assert.True(t, got.IsCancelled)
		require.NotNil(t, got.CancelledAt)
		assert.True(t, at.Equal(*got.CancelledAt))

		byTrip, err := s.ListAlertsByTrip(ctx, "trip-1")
		require.NoError(t, err)
		require.Len(t, byTrip, 2)
		assert.Equal(t, "a1", byTrip[0].ID)

		byUser, err := s.ListAlertsByUser(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, byUser, 2)
	})

	t.Run("RoutePaths", func(t *testing.T) {
		s := open(t)
		r := &trip.Route{
			ID:        "r1",
			UserID:    "u1",
			Name:      "Commute",
			CreatedAt: t0,
			Paths: []trip.Path{
				{ID: "p1", Name: "Highway", IsActive: true, Points: []trip.PathPoint{
					{Latitude: 1, Longitude: 1, Kind: trip.PointSource, Order: 0},
					{Latitude: 2, Longitude: 2, Kind: trip.PointDestination, Order: 1},
				}},
				{ID: "p2", Name: "Back roads", Points: []trip.PathPoint{
					{Latitude: 1, Longitude: 1, Kind: trip.PointSource, Order: 0},
					{Latitude: 1.5, Longitude: 2.5, Kind: trip.PointWaypoint, Order: 1},
					{Latitude: 2, Longitude: 2, Kind: trip.PointDestination, Order: 2},
				}},
			},
		}
		require.NoError(t, s.CreateRoute(ctx, r))
		assert.ErrorIs(t, s.CreateRoute(ctx, r), ErrDuplicate)

		require.NoError(t, s.ActivatePath(ctx, "r1", "p2"))
		assert.ErrorIs(t, s.ActivatePath(ctx, "r1", "p9"), ErrNotFound)
		assert.ErrorIs(t, s.ActivatePath(ctx, "r9", "p1"), ErrNotFound)

		got, err := s.GetRoute(ctx, "r1")
		require.NoError(t, err)
		require.Len(t, got.Paths, 2)
		active, ok := got.ActivePath()
		require.True(t, ok)
		assert.Equal(t, "p2", active.ID)
		assert.Len(t, active.Points, 3)
		assert.False(t, got.Paths[0].IsActive)
	})

	t.Run("CircleMembership", func(t *testing.T) {
		s := open(t)
		family := &circles.Circle{ID: "c1", Name: "Family", Code: "ab c123", Members: []circles.Member{
			{UserID: "u1", DisplayName: "Ana", Phone: "+15550001"},
			{UserID: "u2", DisplayName: "Ben", MessengerID: "ben"},
		}}
		require.NoError(t, s.SaveCircle(ctx, family))

		got, err := s.CircleForUser(ctx, "u2")
		require.NoError(t, err)
		assert.Equal(t, "ABC123", got.Code)
		assert.Len(t, got.Members, 2)

		byCode, err := s.CircleByCode(ctx, "abc123")
		require.NoError(t, err)
		assert.Equal(t, "c1", byCode.ID)

		work := &circles.Circle{ID: "c2", Name: "Work", Code: "WRK999", Members: []circles.Member{
			{UserID: "u2", DisplayName: "Ben"},
		}}
		require.NoError(t, s.SaveCircle(ctx, work))

		moved, err := s.CircleForUser(ctx, "u2")
		require.NoError(t, err)
		assert.Equal(t, "c2", moved.ID)

		left, err := s.CircleForUser(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, left.Members, 1)

		_, err = s.CircleForUser(ctx, "stranger")
		assert.ErrorIs(t, err, ErrNotFound)

		clash := &circles.Circle{ID: "c3", Name: "Clash", Code: "WRK999"}
		assert.ErrorIs(t, s.SaveCircle(ctx, clash), ErrDuplicate)
	})
}

// testContext returns a background context with a logger attached.
func testContext() context.Context {
	return logging.EnsureLogger(context.Background())
}
