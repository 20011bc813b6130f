package trip

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Status is the canonical trip lifecycle state.
type Status string

const (
	StatusPlanned   Status = "planned"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// externalStatuses maps every label clients and stored rows are known to use
// onto the canonical enum.
var externalStatuses = map[string]Status{
	"planned":     StatusPlanned,
	"scheduled":   StatusPlanned,
	"pending":     StatusPlanned,
	"active":      StatusActive,
	"in_progress": StatusActive,
	"inprogress":  StatusActive,
	"in-progress": StatusActive,
	"ongoing":     StatusActive,
	"started":     StatusActive,
	"completed":   StatusCompleted,
	"complete":    StatusCompleted,
	"finished":    StatusCompleted,
	"arrived":     StatusCompleted,
	"cancelled":   StatusCancelled,
	"canceled":    StatusCancelled,
	"aborted":     StatusCancelled,
}

// NormalizeStatus converts an external status label to the canonical Status.
// It is the only place external spellings are interpreted.
func NormalizeStatus(label string) (Status, error) {
	key := strings.ToLower(strings.TrimSpace(label))
	if s, ok := externalStatuses[key]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, label)
}

// Labels returns s followed by every other external label that normalizes to
// it, so stored rows written with an older spelling can still be matched.
func (s Status) Labels() []string {
	labels := []string{string(s)}
	for label, st := range externalStatuses {
		if st == s && label != string(s) {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels[1:])
	return labels
}

// UnmarshalJSON accepts any external label.
func (s *Status) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}
	st, err := NormalizeStatus(label)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is one of the canonical values.
func (s Status) Valid() bool {
	switch s {
	case StatusPlanned, StatusActive, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }
