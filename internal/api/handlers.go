package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tripwatch/server/internal/lib/circles"
	"github.com/tripwatch/server/internal/lib/export"
	"github.com/tripwatch/server/internal/lib/trip"
	"github.com/tripwatch/server/internal/services"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"sessions":        s.Tracking.Registry().Len(),
		"membershipCache": s.Circles.Cache().Stats(),
	})
}

// caller returns the authenticated user. The auth middleware guarantees one.
func caller(r *http.Request) string {
	id, _ := UserID(r.Context())
	return id
}

func (s *Server) handleStartTrip(w http.ResponseWriter, r *http.Request) {
	var req services.StartTripRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	req.UserID = caller(r)

	v, err := s.Trips.StartTrip(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleActiveTrip(w http.ResponseWriter, r *http.Request) {
	v, err := s.Trips.ActiveTrip(r.Context(), caller(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	v, err := s.Trips.GetTrip(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleTrackKML(w http.ResponseWriter, r *http.Request) {
	track, err := s.Trips.Track(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	w.Header().Set("Content-Disposition", `attachment; filename="trip-`+track.Trip.ID+`.kml"`)
	if err := export.Write(w, track); err != nil {
		writeError(r.Context(), w, err)
	}
}

func (s *Server) handleActivateTrip(w http.ResponseWriter, r *http.Request) {
	v, err := s.Trips.ActivateTrip(r.Context(), caller(r), chi.URLParam(r, "id"))
	respondTrip(w, r, v, err)
}

func (s *Server) handleCompleteTrip(w http.ResponseWriter, r *http.Request) {
	v, err := s.Trips.CompleteTrip(r.Context(), caller(r), chi.URLParam(r, "id"))
	respondTrip(w, r, v, err)
}

func (s *Server) handleCancelTrip(w http.ResponseWriter, r *http.Request) {
	v, err := s.Trips.CancelTrip(r.Context(), caller(r), chi.URLParam(r, "id"))
	respondTrip(w, r, v, err)
}

func respondTrip(w http.ResponseWriter, r *http.Request, v *services.TripView, err error) {
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var req services.SampleRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	req.UserID = caller(r)

	out, err := s.Tracking.SubmitSample(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type trackingRequest struct {
	TripID string `json:"tripId"`
}

func (s *Server) handleStartTracking(w http.ResponseWriter, r *http.Request) {
	var req trackingRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	created, err := s.Tracking.StartTracking(r.Context(), caller(r), req.TripID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tripId": req.TripID, "created": created})
}

func (s *Server) handleStopTracking(w http.ResponseWriter, r *http.Request) {
	var req trackingRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if err := s.Tracking.StopTracking(r.Context(), caller(r), req.TripID); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tripId": req.TripID, "stopped": true})
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req services.CreateAlertRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	req.UserID = caller(r)

	res, err := s.Alerts.CreateAlert(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// handleListAlerts lists a visible trip's alerts, or the caller's own.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	tripID := r.URL.Query().Get("tripId")
	userID := r.URL.Query().Get("userId")
	if userID == "" || tripID != "" {
		userID = caller(r)
	}
	if userID != caller(r) {
		writeError(r.Context(), w, errForeignAlerts)
		return
	}
	if tripID != "" {
		if _, err := s.Trips.GetTrip(r.Context(), caller(r), tripID); err != nil {
			writeError(r.Context(), w, err)
			return
		}
	}

	list, err := s.Alerts.ListAlerts(r.Context(), tripID, userID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": list})
}

func (s *Server) handleCancelAlert(w http.ResponseWriter, r *http.Request) {
	res, err := s.Alerts.CancelAlert(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.Alerts.AcknowledgeAlert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleCreateRoute(w http.ResponseWriter, r *http.Request) {
	var req trip.Route
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	req.UserID = caller(r)

	route, err := s.Routes.CreateRoute(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, route)
}

func (s *Server) handleActivatePath(w http.ResponseWriter, r *http.Request) {
	route, err := s.Routes.ActivatePath(r.Context(), caller(r), chi.URLParam(r, "id"), chi.URLParam(r, "pathId"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (s *Server) handleSyncCircle(w http.ResponseWriter, r *http.Request) {
	var c circles.Circle
	if err := decode(w, r, &c); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	c.ID = chi.URLParam(r, "id")

	if err := s.Circles.SyncCircle(r.Context(), &c); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
