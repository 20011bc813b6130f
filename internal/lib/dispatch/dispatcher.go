// Package dispatch fans composed alert messages out to a user's circle. Each
// recipient is an independent task with its own timeout and fallback; the
// realtime broadcast runs beside the fan-out and never waits on it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	perrors "github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tripwatch/server/internal/lib/alerts"
	"github.com/tripwatch/server/internal/lib/circles"
	"github.com/tripwatch/server/internal/lib/realtime"
)

// Dispatcher delivers messages to circle members.
type Dispatcher struct {
	cfg         Config
	circles     MembershipResolver
	sender      Sender
	broadcaster realtime.Broadcaster
	lanes       map[alerts.Priority]*semaphore.Weighted
}

// New creates a dispatcher. sender and broadcaster may be nil: a nil sender
// puts the dispatcher in record-only mode.
func New(cfg Config, resolver MembershipResolver, sender Sender, broadcaster realtime.Broadcaster) *Dispatcher {
	return &Dispatcher{
		cfg:         cfg,
		circles:     resolver,
		sender:      sender,
		broadcaster: broadcaster,
		lanes: map[alerts.Priority]*semaphore.Weighted{
			alerts.PriorityHigh:   semaphore.NewWeighted(int64(cfg.HighConcurrency)),
			alerts.PriorityNormal: semaphore.NewWeighted(int64(cfg.NormalConcurrency)),
			alerts.PriorityLow:    semaphore.NewWeighted(int64(cfg.LowConcurrency)),
		},
	}
}

// Dispatch resolves the trigger's circle and delivers msg to every other
// member. Recipient failures are recorded in the outcome, never returned.
// An error is returned only when membership could not be resolved.
func (d *Dispatcher) Dispatch(ctx context.Context, msg alerts.Message) (Outcome, error) {
	userID := msg.UserID()

	circle, err := d.circles.CircleForUser(ctx, userID)
	if errors.Is(err, ErrNoCircle) || (err == nil && circle == nil) {
		logging.Infow(ctx, "Dispatch: user has no circle, recording only",
			"user_id", userID, "trip_id", msg.TripID(), "kind", msg.Kind())
		return Outcome{NoCircle: true}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve circle for %s: %w", userID, err)
	}

	d.broadcast(ctx, circle.Code, msg)

	recipients := circle.Recipients(userID)
	out := Outcome{CircleCode: circle.Code, RecipientCount: len(recipients)}
	if len(recipients) == 0 {
		out.Sent = true
		return out, nil
	}

	if d.sender == nil {
		logging.Warnw(ctx, "Dispatch: no messaging provider configured, recording only",
			"user_id", userID, "trip_id", msg.TripID(), "kind", msg.Kind())
		out.Degraded = true
		return out, nil
	}

	sender := userID
	if m, ok := circle.Member(userID); ok && m.DisplayName != "" {
		sender = m.DisplayName
	}
	text := msg.Text(sender)

	out.Results = d.fanOut(ctx, msg.Priority(), recipients, text)

	unavailable := 0
	for _, r := range out.Results {
		if r.Delivered {
			out.Delivered++
		}
		if r.unavailable {
			unavailable++
		}
	}
	out.Sent = out.Delivered > 0
	out.Degraded = unavailable == len(out.Results)

	logging.Infow(ctx, "Dispatch: fan-out complete",
		"user_id", userID, "trip_id", msg.TripID(), "kind", msg.Kind(),
		"priority", msg.Priority().String(), "recipients", out.RecipientCount,
		"delivered", out.Delivered, "degraded", out.Degraded)
	return out, nil
}

func (d *Dispatcher) fanOut(ctx context.Context, priority alerts.Priority, recipients []circles.Member, text string) []RecipientResult {
	lane := d.lanes[priority]
	if lane == nil {
		lane = d.lanes[alerts.PriorityNormal]
	}

	results := make([]RecipientResult, len(recipients))
	var g errgroup.Group
	for i, m := range recipients {
		g.Go(func() error {
			results[i] = RecipientResult{UserID: m.UserID}
			if err := lane.Acquire(ctx, 1); err != nil {
				results[i].Error = err.Error()
				return nil
			}
			defer lane.Release(1)

			results[i] = d.deliver(ctx, m, text)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// deliver tries the messenger channel and falls back to SMS for this
// recipient only.
func (d *Dispatcher) deliver(ctx context.Context, m circles.Member, text string) (res RecipientResult) {
	res = RecipientResult{UserID: m.UserID}
	defer func() {
		if r := recover(); r != nil {
			stack, _ := perrors.ParseStack(debug.Stack())
			logging.Errorw(ctx, "Dispatch: recovered from panic in delivery",
				"user_id", m.UserID, "error", r, "error.stack_trace", stack.MinimalStack(3, 5))
			res.Delivered = false
			res.Error = fmt.Sprint(r)
		}
	}()

	primaryErr := d.attempt(ctx, ChannelMessenger, m.MessengerID, text)
	if primaryErr == nil {
		res.Channel = ChannelMessenger
		res.Delivered = true
		return res
	}
	attempted := !errors.Is(primaryErr, errNoAddress)
	if attempted {
		logging.Warnw(ctx, "Dispatch: messenger delivery failed, falling back to sms",
			"user_id", m.UserID, "error", primaryErr)
	}

	fallbackErr := d.attempt(ctx, ChannelSMS, m.Phone, text)
	res.Fallback = attempted
	if fallbackErr == nil {
		res.Channel = ChannelSMS
		res.Delivered = true
		return res
	}

	res.Error = errors.Join(primaryErr, fallbackErr).Error()
	res.unavailable = isUnavailable(primaryErr) && isUnavailable(fallbackErr) &&
		(errors.Is(primaryErr, ErrProviderUnavailable) || errors.Is(fallbackErr, ErrProviderUnavailable))
	logging.Warnw(ctx, "Dispatch: recipient unreachable on all channels",
		"user_id", m.UserID, "error", res.Error)
	return res
}

func (d *Dispatcher) attempt(ctx context.Context, ch Channel, address, text string) error {
	if address == "" {
		return errNoAddress
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.RecipientTimeout)
	defer cancel()
	return d.sender.Send(ctx, ch, address, text)
}

func isUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, errNoAddress)
}

func (d *Dispatcher) broadcast(ctx context.Context, room string, msg alerts.Message) {
	if d.broadcaster == nil || room == "" {
		return
	}
	ev, ok := eventFor(msg)
	if !ok {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Errorw(ctx, "Dispatch: recovered from panic in broadcast", "room", room, "error", r)
			}
		}()
		d.broadcaster.Broadcast(ctx, room, ev)
	}()
}

func eventFor(msg alerts.Message) (realtime.Event, bool) {
	now := time.Now()
	switch m := msg.(type) {
	case alerts.AllClearMessage:
		a := m.Source()
		return realtime.Event{Type: realtime.EventAlertCancelled, Alert: &a, SentAt: now}, true
	case alerts.StatusMessage:
		p := m.Location()
		return realtime.Event{
			Type: realtime.EventLocation,
			Location: &realtime.Location{
				TripID:    m.TripID(),
				UserID:    m.UserID(),
				Latitude:  p.Latitude,
				Longitude: p.Longitude,
				Speed:     m.Speed,
				Timestamp: m.At,
			},
			SentAt: now,
		}, true
	case interface{ Source() alerts.Alert }:
		a := m.Source()
		return realtime.Event{Type: realtime.EventAlert, Alert: &a, SentAt: now}, true
	}
	return realtime.Event{}, false
}
