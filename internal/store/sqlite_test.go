package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripwatch/server/internal/lib/trip"
)

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, err := OpenSQLite(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteReopen(t *testing.T) {
	ctx := testContext()
	path := filepath.Join(t.TempDir(), "trips.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateTrip(ctx, newTrip("trip-1", "u1", trip.StatusActive)))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.ActiveTripForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "trip-1", got.ID)
}

func TestSQLiteNormalizesStoredStatus(t *testing.T) {
	ctx := testContext()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateTrip(ctx, newTrip("trip-1", "u1", trip.StatusPlanned)))
	_, err = s.db.ExecContext(ctx, `UPDATE trips SET status = 'in_progress' WHERE id = ?`, "trip-1")
	require.NoError(t, err)

	got, err := s.GetTrip(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, trip.StatusActive, got.Status)

	active, err := s.ActiveTripForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "trip-1", active.ID)
	require.NoError(t, s.AddTripCounters(ctx, "trip-1", trip.Counters{AlertCount: 1}))

	require.NoError(t, got.Complete(t0.Add(time.Hour)))
	require.NoError(t, s.UpdateTripStatus(ctx, got, trip.StatusActive))
	got, err = s.GetTrip(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, trip.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.AlertCount)

	_, err = s.db.ExecContext(ctx, `UPDATE trips SET status = 'emergency' WHERE id = ?`, "trip-1")
	require.NoError(t, err)
	_, err = s.GetTrip(ctx, "trip-1")
	assert.ErrorIs(t, err, trip.ErrUnknownStatus)
}
