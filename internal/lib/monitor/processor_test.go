package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripwatch/server/internal/lib/alerts"
	"github.com/tripwatch/server/internal/lib/geo"
	"github.com/tripwatch/server/internal/lib/trip"
)

var (
	origin = geo.Point{Latitude: 38.0, Longitude: -120.0}
	t0     = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
)

// straightTarget is a 3-point path heading east for 4 km.
func straightTarget() Target {
	path := []geo.Point{
		origin,
		geo.Destination(origin, 90, 2000),
		geo.Destination(origin, 90, 4000),
	}
	return Target{TripID: "t1", UserID: "u1", Path: path, Destination: path[2]}
}

func sampleAt(id string, p geo.Point, at time.Time) trip.Sample {
	return trip.Sample{ID: id, TripID: "t1", UserID: "u1", Latitude: p.Latitude, Longitude: p.Longitude, Timestamp: at}
}

// alongOffset returns a point along meters east of origin and offset meters north.
func alongOffset(along, offset float64) geo.Point {
	return geo.Destination(geo.Destination(origin, 90, along), 0, offset)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DeviationThreshold = 100
	cfg.StopDuration = 90 * time.Second
	cfg.StopWindow = 180 * time.Second
	return cfg
}

func TestDeviation_OneAlertPerEpisode(t *testing.T) {
	p := NewProcessor(testConfig())
	target := straightTarget()
	state := &State{}

	res := p.Process(state, target, sampleAt("s0", alongOffset(100, 0), t0))
	require.True(t, res.Benign())
	require.True(t, state.Joined)

	// First sample 150 m off the path opens the episode
	res = p.Process(state, target, sampleAt("s1", alongOffset(500, 150), t0.Add(10*time.Second)))
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, alerts.TypeDeviation, res.Alerts[0].Type)
	assert.Equal(t, 1, res.Counters.DeviationCount)
	assert.InDelta(t, 150, res.Match.Distance, 1)

	// Staying beyond threshold emits nothing more
	for i := 2; i < 6; i++ {
		res = p.Process(state, target, sampleAt("s", alongOffset(float64(i)*300, 150), t0.Add(time.Duration(i)*10*time.Second)))
		assert.True(t, res.Benign(), "sample %d", i)
		assert.Zero(t, res.Counters.DeviationCount)
	}
	assert.True(t, state.InDeviation)

	// Back within 50 m closes the episode silently
	res = p.Process(state, target, sampleAt("s6", alongOffset(2000, 50), t0.Add(70*time.Second)))
	assert.True(t, res.Benign())
	assert.False(t, state.InDeviation)

	// A new excursion is a new episode
	res = p.Process(state, target, sampleAt("s7", alongOffset(2500, 400), t0.Add(80*time.Second)))
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, 1, res.Counters.DeviationCount)
}

func TestDeviation_SuppressedBeforeJoining(t *testing.T) {
	p := NewProcessor(testConfig())
	target := straightTarget()
	state := &State{}

	// Starting off the path is not a deviation
	for i := 0; i < 3; i++ {
		res := p.Process(state, target, sampleAt("s", alongOffset(float64(i)*200, 500), t0.Add(time.Duration(i)*30*time.Second)))
		assert.True(t, res.Benign())
	}
	assert.False(t, state.Joined)

	// Stationary off-path samples before joining do not count as stops either
	for i := 0; i < 10; i++ {
		res := p.Process(state, target, sampleAt("s", alongOffset(600, 500), t0.Add(time.Duration(100+i*20)*time.Second)))
		assert.True(t, res.Benign())
	}
}

func TestProgressIndexNeverRegresses(t *testing.T) {
	p := NewProcessor(testConfig())
	target := straightTarget()
	state := &State{}

	p.Process(state, target, sampleAt("a", alongOffset(2500, 0), t0))
	assert.Equal(t, 1, state.ProgressIndex)

	p.Process(state, target, sampleAt("b", alongOffset(1500, 0), t0.Add(10*time.Second)))
	assert.Equal(t, 1, state.ProgressIndex)
}

func TestStop_OneAlertOnceWindowCovered(t *testing.T) {
	p := NewProcessor(testConfig())
	target := straightTarget()
	state := &State{}

	var stopAt []int
	for i := 0; i < 10; i++ {
		// Jitter within 10 m of the first sample
		pt := alongOffset(1000+float64(i%3)*3, float64(i%2)*4)
		res := p.Process(state, target, sampleAt("s", pt, t0.Add(time.Duration(i)*20*time.Second)))
		for _, a := range res.Alerts {
			if a.Type == alerts.TypeStop {
				stopAt = append(stopAt, i)
				assert.Equal(t, 1, res.Counters.StopCount)
			}
		}
	}

	require.Len(t, stopAt, 1, "exactly one stop alert per episode")
	// Sample 5 is at 100 s, the first whose window spans 90 s
	assert.Equal(t, 5, stopAt[0])
	assert.True(t, state.InStop)

	// Moving away closes the episode without an alert
	res := p.Process(state, target, sampleAt("go", alongOffset(1500, 0), t0.Add(220*time.Second)))
	assert.True(t, res.Benign())
	assert.False(t, state.InStop)
}

func TestStop_WindowResetsOnMovement(t *testing.T) {
	p := NewProcessor(testConfig())
	target := straightTarget()
	state := &State{}

	// Steady movement of 100 m every 20 s never forms a stop
	for i := 0; i < 20; i++ {
		res := p.Process(state, target, sampleAt("s", alongOffset(float64(i)*100, 0), t0.Add(time.Duration(i)*20*time.Second)))
		assert.True(t, res.Benign(), "sample %d", i)
		assert.Equal(t, 1, state.WindowLen())
	}
}

func TestStop_EvaluatedWithoutPath(t *testing.T) {
	p := NewProcessor(testConfig())
	target := Target{TripID: "t1", UserID: "u1", Destination: geo.Destination(origin, 90, 5000)}
	state := &State{}

	stops := 0
	for i := 0; i < 8; i++ {
		res := p.Process(state, target, sampleAt("s", origin, t0.Add(time.Duration(i)*20*time.Second)))
		for _, a := range res.Alerts {
			require.NotEqual(t, alerts.TypeDeviation, a.Type, "deviation cannot be evaluated without a path")
			stops++
		}
	}
	assert.Equal(t, 1, stops)
}

func TestArrival_ShortCircuits(t *testing.T) {
	p := NewProcessor(testConfig())
	base := straightTarget()
	// Destination placed 150 m north of the path end so the arrival sample is also off route
	target := base
	target.Destination = geo.Destination(base.Path[2], 0, 150)
	state := &State{}

	p.Process(state, target, sampleAt("join", alongOffset(3800, 0), t0))
	require.True(t, state.Joined)

	// Stationary near the destination long enough to qualify as a stop
	near := geo.Destination(target.Destination, 180, 20)
	res := p.Process(state, target, sampleAt("arrive", near, t0.Add(5*time.Minute)))

	require.Len(t, res.Alerts, 1)
	assert.Equal(t, alerts.TypeTripComplete, res.Alerts[0].Type)
	assert.True(t, res.Arrived)
	assert.Equal(t, trip.Counters{AlertCount: 1}, res.Counters)

	// Further samples are ignored once arrived
	res = p.Process(state, target, sampleAt("late", near, t0.Add(6*time.Minute)))
	assert.True(t, res.Benign())
	assert.False(t, res.Arrived)
}

func TestLowBattery_ReportedOnce(t *testing.T) {
	p := NewProcessor(testConfig())
	target := straightTarget()
	state := &State{}

	level := func(v float64) *float64 { return &v }

	s := sampleAt("a", alongOffset(100, 0), t0)
	s.BatteryLevel = level(50)
	assert.True(t, p.Process(state, target, s).Benign())

	s = sampleAt("b", alongOffset(300, 0), t0.Add(10*time.Second))
	s.BatteryLevel = level(12)
	res := p.Process(state, target, s)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, alerts.TypeLowBattery, res.Alerts[0].Type)
	assert.Equal(t, 1, res.Counters.AlertCount)

	s = sampleAt("c", alongOffset(500, 0), t0.Add(20*time.Second))
	s.BatteryLevel = level(8)
	assert.True(t, p.Process(state, target, s).Benign())
}

func TestAlertIDsDerivedFromSample(t *testing.T) {
	p := NewProcessor(testConfig())
	target := straightTarget()

	run := func() string {
		state := &State{}
		p.Process(state, target, sampleAt("join", alongOffset(100, 0), t0))
		res := p.Process(state, target, sampleAt("off", alongOffset(500, 300), t0.Add(time.Minute)))
		require.Len(t, res.Alerts, 1)
		return res.Alerts[0].ID
	}
	assert.Equal(t, run(), run())
}

func TestState_ResetPath(t *testing.T) {
	state := &State{ProgressIndex: 4, Joined: true, InDeviation: true, InStop: true}
	state.ResetPath()
	assert.Zero(t, state.ProgressIndex)
	assert.False(t, state.Joined)
	assert.False(t, state.InDeviation)
	assert.True(t, state.InStop)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.StopWindow = cfg.StopDuration - time.Second
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.DeviationThreshold = 0
	assert.Error(t, cfg.Validate())
}
