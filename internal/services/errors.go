package services

import (
	"errors"
	"fmt"

	perrors "github.com/dpup/prefab/errors"
	"google.golang.org/grpc/codes"

	"github.com/tripwatch/server/internal/lib/alerts"
	"github.com/tripwatch/server/internal/lib/trip"
	"github.com/tripwatch/server/internal/store"
)

var (
	errTripNotActive = perrors.NewC("trip not active", codes.FailedPrecondition)
	errActiveTrip    = perrors.NewC("user already has an active trip", codes.FailedPrecondition)
	errAlertIDTaken  = perrors.NewC("alert id already in use", codes.AlreadyExists)
)

func invalid(format string, args ...any) error {
	return perrors.NewC(fmt.Sprintf(format, args...), codes.InvalidArgument)
}

func notFound(what, id string) error {
	return perrors.NewC(fmt.Sprintf("%s %q not found", what, id), codes.NotFound)
}

func precondition(format string, args ...any) error {
	return perrors.NewC(fmt.Sprintf(format, args...), codes.FailedPrecondition)
}

// storeError translates a store sentinel into a coded error.
func storeError(err error, what, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return notFound(what, id)
	case errors.Is(err, store.ErrActiveTripExists):
		return errActiveTrip
	case errors.Is(err, store.ErrConflict):
		return precondition("%s %q changed state concurrently", what, id)
	case errors.Is(err, store.ErrDuplicate):
		return perrors.NewC(fmt.Sprintf("%s %q already exists", what, id), codes.AlreadyExists)
	}
	return perrors.NewC(fmt.Sprintf("%s %q: %v", what, id, err), codes.Internal)
}

// domainError translates lifecycle and alert rule violations.
func domainError(err error) error {
	switch {
	case errors.Is(err, trip.ErrIllegalTransition):
		return precondition("%v", err)
	case errors.Is(err, alerts.ErrNotCancellable):
		return precondition("only SOS alerts can be cancelled")
	case errors.Is(err, alerts.ErrAlreadyCancelled):
		return precondition("alert is already cancelled")
	}
	return err
}
