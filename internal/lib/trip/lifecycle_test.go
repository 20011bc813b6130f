package trip

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]Status{
		"active":      StatusActive,
		"in_progress": StatusActive,
		"In-Progress": StatusActive,
		" ongoing ":   StatusActive,
		"scheduled":   StatusPlanned,
		"completed":   StatusCompleted,
		"canceled":    StatusCancelled,
		"CANCELLED":   StatusCancelled,
	}
	for label, want := range tests {
		got, err := NormalizeStatus(label)
		require.NoError(t, err, label)
		assert.Equal(t, want, got, label)
	}

	_, err := NormalizeStatus("emergency")
	assert.ErrorIs(t, err, ErrUnknownStatus, "emergency is an overlay, never a stored status")
}

func TestStatusLabels(t *testing.T) {
	labels := StatusActive.Labels()
	assert.Equal(t, "active", labels[0])
	assert.Contains(t, labels, "in_progress")
	assert.NotContains(t, labels, "planned")
	for _, l := range labels {
		got, err := NormalizeStatus(l)
		require.NoError(t, err)
		assert.Equal(t, StatusActive, got)
	}
}

func TestStatusUnmarshalJSON(t *testing.T) {
	var v struct {
		Status Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"status":"in_progress"}`), &v))
	assert.Equal(t, StatusActive, v.Status)

	err := json.Unmarshal([]byte(`{"status":"emergency"}`), &v)
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestLifecycle_HappyPath(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tr := &Trip{ID: "t1", UserID: "u1", Status: StatusPlanned}

	require.NoError(t, tr.Activate(now))
	assert.Equal(t, StatusActive, tr.Status)
	assert.Equal(t, now, tr.StartTime)
	assert.True(t, tr.IsActive())
	assert.Nil(t, tr.EndTime)

	end := now.Add(30 * time.Minute)
	require.NoError(t, tr.Complete(end))
	assert.Equal(t, StatusCompleted, tr.Status)
	require.NotNil(t, tr.EndTime)
	assert.Equal(t, end, *tr.EndTime)
}

func TestLifecycle_TerminalStatesAreFinal(t *testing.T) {
	now := time.Now()
	for _, terminal := range []Status{StatusCompleted, StatusCancelled} {
		tr := &Trip{Status: terminal}
		assert.ErrorIs(t, tr.Activate(now), ErrIllegalTransition)
		assert.ErrorIs(t, tr.Complete(now), ErrIllegalTransition)
		assert.ErrorIs(t, tr.Cancel(now), ErrIllegalTransition)
		assert.Equal(t, terminal, tr.Status, "failed transition must leave status unchanged")
		assert.True(t, terminal.IsTerminal())
	}
}

func TestLifecycle_CompleteRequiresActive(t *testing.T) {
	tr := &Trip{Status: StatusPlanned}
	assert.ErrorIs(t, tr.Complete(time.Now()), ErrIllegalTransition)
	assert.Nil(t, tr.EndTime)

	// Planned trips may still be cancelled
	require.NoError(t, tr.Cancel(time.Now()))
	assert.Equal(t, StatusCancelled, tr.Status)
	assert.NotNil(t, tr.EndTime)
}

func TestRoute_Activate(t *testing.T) {
	r := &Route{
		ID: "r1",
		Paths: []Path{
			{ID: "fast", IsActive: true},
			{ID: "scenic"},
		},
	}

	require.NoError(t, r.Activate("scenic"))
	active, ok := r.ActivePath()
	require.True(t, ok)
	assert.Equal(t, "scenic", active.ID)
	assert.False(t, r.Paths[0].IsActive, "exactly one path may be active")

	assert.ErrorIs(t, r.Activate("missing"), ErrPathNotFound)
	active, _ = r.ActivePath()
	assert.Equal(t, "scenic", active.ID)
}

func TestPath_GeometryOrdersByIndex(t *testing.T) {
	p := Path{Points: []PathPoint{
		{Latitude: 3, Kind: PointDestination, Order: 2},
		{Latitude: 1, Kind: PointSource, Order: 0},
		{Latitude: 2, Kind: PointWaypoint, Order: 1},
	}}
	g := p.Geometry()
	require.Len(t, g, 3)
	assert.Equal(t, 1.0, g[0].Latitude)
	assert.Equal(t, 2.0, g[1].Latitude)
	assert.Equal(t, 3.0, g[2].Latitude)
}

func TestCounters_Add(t *testing.T) {
	c := Counters{DeviationCount: 1, AlertCount: 2}
	c = c.Add(Counters{StopCount: 1, AlertCount: 1})
	assert.Equal(t, Counters{DeviationCount: 1, StopCount: 1, AlertCount: 3}, c)
	assert.True(t, Counters{}.IsZero())
}
