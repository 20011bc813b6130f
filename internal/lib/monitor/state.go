package monitor

import (
	"time"

	"github.com/tripwatch/server/internal/lib/geo"
)

// State is the per-trip memory the processor carries between samples. It is
// owned by a single goroutine and is not safe for concurrent use.
type State struct {
	// ProgressIndex is the furthest path segment reached so far.
	ProgressIndex int `json:"progressIndex"`

	// Joined is set once a sample lands within the deviation threshold.
	Joined bool `json:"joined"`

	InDeviation bool `json:"inDeviation"`

	InStop     bool      `json:"inStop"`
	StopAnchor geo.Point `json:"stopAnchor"`

	LowBatteryReported bool `json:"lowBatteryReported"`
	Arrived            bool `json:"arrived"`

	window []windowEntry
}

type windowEntry struct {
	point geo.Point
	at    time.Time
}

// ResetPath forgets progress against the previous path. Stop tracking is
// independent of the path and survives.
func (s *State) ResetPath() {
	s.ProgressIndex = 0
	s.Joined = false
	s.InDeviation = false
}

// WindowLen returns the number of samples in the stop window.
func (s *State) WindowLen() int {
	return len(s.window)
}
