package trip

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrIllegalTransition = errors.New("illegal trip transition")
	ErrUnknownStatus     = errors.New("unknown trip status")
	ErrPathNotFound      = errors.New("path not found on route")
)

// transitions lists the legal edges of the lifecycle graph.
var transitions = map[Status][]Status{
	StatusPlanned: {StatusActive, StatusCancelled},
	StatusActive:  {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Activate moves a planned trip to active, stamping the start time.
func (t *Trip) Activate(at time.Time) error {
	if err := t.transition(StatusActive, at); err != nil {
		return err
	}
	t.StartTime = at
	return nil
}

// Complete moves an active trip to completed.
func (t *Trip) Complete(at time.Time) error {
	if err := t.transition(StatusCompleted, at); err != nil {
		return err
	}
	t.EndTime = &at
	return nil
}

// Cancel ends a planned or active trip.
func (t *Trip) Cancel(at time.Time) error {
	if err := t.transition(StatusCancelled, at); err != nil {
		return err
	}
	t.EndTime = &at
	return nil
}

func (t *Trip) transition(to Status, at time.Time) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = at
	return nil
}

// IsActive reports whether samples may be processed for the trip.
func (t *Trip) IsActive() bool {
	return t.Status == StatusActive
}
