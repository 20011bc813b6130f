// Package monitor classifies location samples of an active trip against its
// active path and destination.
package monitor

import (
	"fmt"
	"math"

	"github.com/tripwatch/server/internal/lib/alerts"
	"github.com/tripwatch/server/internal/lib/geo"
	"github.com/tripwatch/server/internal/lib/trip"
)

// Target is what a trip's samples are measured against.
type Target struct {
	TripID      string
	UserID      string
	Destination geo.Point
	Path        []geo.Point
}

// Result is the outcome of processing one sample.
type Result struct {
	Alerts   []alerts.Alert
	Counters trip.Counters
	Match    geo.PathMatch
	Arrived  bool
}

// Benign reports whether the sample produced nothing worth an immediate
// notification.
func (r Result) Benign() bool {
	return len(r.Alerts) == 0
}

// Processor applies the classification steps to one sample at a time.
type Processor struct {
	cfg Config
}

// NewProcessor creates a processor with cfg.
func NewProcessor(cfg Config) *Processor {
	return &Processor{cfg: cfg}
}

// Config returns the thresholds in use.
func (p *Processor) Config() Config {
	return p.cfg
}

// Process classifies sample and mutates state. Samples for one trip must be
// passed in arrival order.
func (p *Processor) Process(state *State, target Target, sample trip.Sample) Result {
	var res Result
	if state.Arrived {
		return res
	}

	point := sample.Point()
	hasPath := len(target.Path) > 0

	// Progress
	res.Match = geo.ClosestPointOnPath(point, target.Path)
	if res.Match.Found() && res.Match.Distance <= p.cfg.DeviationThreshold {
		state.Joined = true
		if res.Match.Index > state.ProgressIndex {
			state.ProgressIndex = res.Match.Index
		}
	}

	// Arrival short-circuits deviation and stop evaluation
	if geo.Distance(point, target.Destination) <= p.cfg.ArrivalThreshold {
		state.Arrived = true
		res.Arrived = true
		p.emit(&res, target, sample, alerts.TypeTripComplete, "Arrived at destination")
		return res
	}

	if hasPath && state.Joined {
		p.evaluateDeviation(state, target, sample, &res)
	}

	// Without a path there is nothing to join, so stops are still tracked
	if !hasPath || state.Joined {
		p.evaluateStop(state, target, sample, &res)
	}

	p.evaluateBattery(state, target, sample, &res)

	return res
}

func (p *Processor) evaluateDeviation(state *State, target Target, sample trip.Sample, res *Result) {
	if res.Match.Distance <= p.cfg.DeviationThreshold {
		state.InDeviation = false
		return
	}
	if state.InDeviation {
		return
	}

	state.InDeviation = true
	res.Counters.DeviationCount++
	p.emit(res, target, sample, alerts.TypeDeviation,
		fmt.Sprintf("%.0f m from the planned route", res.Match.Distance))
}

func (p *Processor) evaluateStop(state *State, target Target, sample trip.Sample, res *Result) {
	point := sample.Point()

	if state.InStop && geo.Distance(state.StopAnchor, point) > p.cfg.StopRadius {
		state.InStop = false
	}

	entry := windowEntry{point: point, at: sample.Timestamp}
	if n := len(state.window); n > 0 {
		last := state.window[n-1]
		if sample.Timestamp.Before(last.at) || geo.Distance(state.window[0].point, point) > p.cfg.StopRadius {
			state.window = state.window[:0]
		}
	}
	state.window = append(state.window, entry)

	// Keep the window bounded while still covering StopWindow
	cutoff := sample.Timestamp.Add(-p.cfg.StopWindow)
	for len(state.window) > 1 && !state.window[1].at.After(cutoff) {
		state.window = state.window[1:]
	}

	if state.InStop || len(state.window) < 2 {
		return
	}

	first := state.window[0]
	for _, e := range state.window[1:] {
		if geo.Distance(first.point, e.point) > p.cfg.StopRadius {
			return
		}
	}
	span := sample.Timestamp.Sub(first.at)
	if span < p.cfg.StopDuration {
		return
	}

	state.InStop = true
	state.StopAnchor = first.point
	res.Counters.StopCount++
	p.emit(res, target, sample, alerts.TypeStop,
		fmt.Sprintf("Stationary for %d min", int(math.Round(span.Minutes()))))
}

func (p *Processor) evaluateBattery(state *State, target Target, sample trip.Sample, res *Result) {
	if state.LowBatteryReported || sample.BatteryLevel == nil {
		return
	}
	level := *sample.BatteryLevel
	if level > p.cfg.LowBatteryThreshold {
		return
	}
	state.LowBatteryReported = true
	p.emit(res, target, sample, alerts.TypeLowBattery, fmt.Sprintf("Battery at %.0f%%", level))
}

func (p *Processor) emit(res *Result, target Target, sample trip.Sample, typ alerts.Type, description string) {
	res.Counters.AlertCount++
	res.Alerts = append(res.Alerts, alerts.Alert{
		ID:          alerts.DerivedID(target.TripID, sample.ID, typ),
		TripID:      target.TripID,
		UserID:      target.UserID,
		Type:        typ,
		Latitude:    sample.Latitude,
		Longitude:   sample.Longitude,
		Timestamp:   sample.Timestamp,
		Description: description,
		CreatedAt:   sample.Timestamp,
	})
}
