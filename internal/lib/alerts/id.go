package alerts

import "github.com/google/uuid"

// namespace scopes derived alert ids.
var namespace = uuid.MustParse("6f1c1c9e-8a43-4f0e-9d0b-2f9c4b8f7a31")

// DerivedID returns a stable id for an alert raised by a sample of a trip, so
// that a redelivered sample maps onto the same alert row. Sample ids are only
// unique within a trip. sampleID is empty for trip-level alerts.
func DerivedID(tripID, sampleID string, t Type) string {
	return uuid.NewSHA1(namespace, []byte(tripID+"|"+sampleID+"|"+string(t))).String()
}

// NewID returns a random alert id.
func NewID() string {
	return uuid.NewString()
}
