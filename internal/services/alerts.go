package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/tripwatch/server/internal/lib/alerts"
	"github.com/tripwatch/server/internal/lib/dispatch"
	"github.com/tripwatch/server/internal/store"
)

// Dispatcher delivers a composed message to the trigger's circle.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg alerts.Message) (dispatch.Outcome, error)
}

// AlertService records alerts and drives their delivery.
type AlertService struct {
	store      store.Store
	dispatcher Dispatcher
	now        func() time.Time
}

// NewAlertService creates an AlertService.
func NewAlertService(s store.Store, d Dispatcher) *AlertService {
	return &AlertService{store: s, dispatcher: d, now: time.Now}
}

// CreateAlertRequest is a user-submitted alert, usually an SOS.
type CreateAlertRequest struct {
	ID          string      `json:"id"`
	TripID      string      `json:"tripId"`
	UserID      string      `json:"userId"`
	Type        alerts.Type `json:"type"`
	Latitude    float64     `json:"latitude"`
	Longitude   float64     `json:"longitude"`
	Timestamp   time.Time   `json:"timestamp"`
	Description string      `json:"description"`
}

// AlertResult is an alert together with the outcome of its delivery.
type AlertResult struct {
	Alert     alerts.Alert     `json:"alert"`
	Delivery  dispatch.Outcome `json:"delivery"`
	Duplicate bool             `json:"duplicate,omitempty"`
}

// CreateAlert stores and dispatches an alert. Resubmitting an id that was
// already recorded returns the stored alert without dispatching again.
func (s *AlertService) CreateAlert(ctx context.Context, req CreateAlertRequest) (*AlertResult, error) {
	if req.ID == "" {
		req.ID = alerts.NewID()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = s.now()
	}
	req.Type = alerts.Type(strings.ToLower(strings.TrimSpace(string(req.Type))))

	a := alerts.Alert{
		ID:          req.ID,
		TripID:      req.TripID,
		UserID:      req.UserID,
		Type:        req.Type,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Timestamp:   req.Timestamp,
		Description: req.Description,
		CreatedAt:   s.now(),
	}
	if err := a.Validate(); err != nil {
		return nil, invalid("%v", err)
	}

	if a.TripID != "" {
		t, err := s.store.GetTrip(ctx, a.TripID)
		if err != nil {
			return nil, storeError(err, "trip", a.TripID)
		}
		if t.UserID != a.UserID {
			return nil, notFound("trip", a.TripID)
		}
	}

	return s.Record(ctx, a)
}

// Record persists a and dispatches it once. It is shared by user-submitted
// and processor-emitted alerts.
func (s *AlertService) Record(ctx context.Context, a alerts.Alert) (*AlertResult, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}

	err := s.store.CreateAlert(ctx, &a)
	if errors.Is(err, store.ErrDuplicate) {
		existing, gerr := s.store.GetAlert(ctx, a.ID)
		if gerr != nil {
			return nil, storeError(gerr, "alert", a.ID)
		}
		// Resubmission is idempotent per user; another user's alert is never echoed back
		if existing.UserID != a.UserID {
			logging.Warnw(ctx, "Alerts: id reused by another user", "alert_id", a.ID, "user_id", a.UserID)
			return nil, errAlertIDTaken
		}
		logging.Infow(ctx, "Alerts: duplicate submission ignored", "alert_id", a.ID, "user_id", a.UserID)
		return &AlertResult{
			Alert:     *existing,
			Delivery:  dispatch.Outcome{RecipientCount: existing.RecipientCount, Sent: existing.IsSent},
			Duplicate: true,
		}, nil
	}
	if err != nil {
		return nil, storeError(err, "alert", a.ID)
	}

	msg, err := alerts.ForAlert(a)
	if err != nil {
		return nil, invalid("%v", err)
	}
	out := s.deliver(ctx, msg, a)
	a.IsSent = out.Sent
	a.RecipientCount = out.RecipientCount
	return &AlertResult{Alert: a, Delivery: out}, nil
}

// deliver dispatches msg and records the outcome on the stored alert. Delivery
// problems never fail the caller.
func (s *AlertService) deliver(ctx context.Context, msg alerts.Message, a alerts.Alert) dispatch.Outcome {
	out, err := s.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		logging.Warnw(ctx, "Alerts: dispatch failed, alert recorded unsent",
			"alert_id", a.ID, "trip_id", a.TripID, "user_id", a.UserID, "error", err)
		out = dispatch.Outcome{Degraded: true}
	}

	if out.Degraded {
		logging.Warnw(ctx, "Alerts: messaging degraded, alert recorded only",
			"alert_id", a.ID, "trip_id", a.TripID, "user_id", a.UserID)
	}
	for _, r := range out.Results {
		if !r.Delivered {
			logging.Warnw(ctx, "Alerts: recipient not reached",
				"alert_id", a.ID, "recipient", r.UserID, "error", r.Error)
		}
	}

	if msg.Kind() == alerts.KindAllClear {
		return out
	}
	if err := s.store.RecordDelivery(ctx, a.ID, out.Sent, out.RecipientCount); err != nil {
		logging.Errorw(ctx, "Alerts: failed to record delivery outcome", "alert_id", a.ID, "error", err)
	}
	return out
}

// CancelAlert cancels an open SOS alert of userID and sends the all clear.
func (s *AlertService) CancelAlert(ctx context.Context, userID, alertID string) (*AlertResult, error) {
	a, err := s.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, storeError(err, "alert", alertID)
	}
	if a.UserID != userID {
		return nil, notFound("alert", alertID)
	}
	if err := a.CheckCancellable(); err != nil {
		return nil, domainError(err)
	}

	at := s.now()
	if err := s.store.CancelAlert(ctx, alertID, at); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domainError(alerts.ErrAlreadyCancelled)
		}
		return nil, storeError(err, "alert", alertID)
	}
	a.IsCancelled = true
	a.CancelledAt = &at

	out := s.deliver(ctx, alerts.NewAllClear(*a), *a)
	return &AlertResult{Alert: *a, Delivery: out}, nil
}

// AcknowledgeAlert marks an alert as seen by a recipient.
func (s *AlertService) AcknowledgeAlert(ctx context.Context, alertID string) (*alerts.Alert, error) {
	if err := s.store.AcknowledgeAlert(ctx, alertID); err != nil {
		return nil, storeError(err, "alert", alertID)
	}
	a, err := s.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, storeError(err, "alert", alertID)
	}
	return a, nil
}

// ListAlerts returns the alerts of a trip, or of a user when tripID is empty.
func (s *AlertService) ListAlerts(ctx context.Context, tripID, userID string) ([]alerts.Alert, error) {
	var (
		list []alerts.Alert
		err  error
	)
	switch {
	case tripID != "":
		list, err = s.store.ListAlertsByTrip(ctx, tripID)
	case userID != "":
		list, err = s.store.ListAlertsByUser(ctx, userID)
	default:
		return nil, invalid("tripId or userId is required")
	}
	if err != nil {
		return nil, storeError(err, "alerts", tripID+userID)
	}
	if list == nil {
		list = []alerts.Alert{}
	}
	return list, nil
}
