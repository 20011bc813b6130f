// Package api exposes the trip, tracking, alert and route services as a JSON
// HTTP surface, plus the websocket endpoint circle members join.
package api

import (
	"net/http"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tripwatch/server/internal/lib/realtime"
	"github.com/tripwatch/server/internal/services"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Trips    *services.TripService
	Tracking *services.TrackingService
	Alerts   *services.AlertService
	Routes   *services.RouteService
	Circles  *services.MembershipResolver
	Hub      *realtime.Hub
	Auth     *Authenticator
}

// Server holds the HTTP handlers.
type Server struct {
	Deps
}

// New creates a Server.
func New(deps Deps) *Server {
	return &Server{Deps: deps}
}

// Router returns the handler for /api/v1 and /ws.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(corsMiddleware)

		// Health check (no auth required).
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.Auth.Middleware)
			r.Use(middleware.Timeout(30 * time.Second))

			r.Post("/trips", s.handleStartTrip)
			r.Get("/trips/active", s.handleActiveTrip)
			r.Get("/trips/{id}", s.handleGetTrip)
			r.Get("/trips/{id}/track.kml", s.handleTrackKML)
			r.Post("/trips/{id}/start", s.handleActivateTrip)
			r.Post("/trips/{id}/complete", s.handleCompleteTrip)
			r.Post("/trips/{id}/cancel", s.handleCancelTrip)

			r.Post("/locations", s.handleLocation)
			r.Post("/tracking/start", s.handleStartTracking)
			r.Post("/tracking/stop", s.handleStopTracking)

			r.Post("/alerts", s.handleCreateAlert)
			r.Get("/alerts", s.handleListAlerts)
			r.Post("/alerts/{id}/cancel", s.handleCancelAlert)
			r.Post("/alerts/{id}/acknowledge", s.handleAcknowledgeAlert)

			r.Post("/routes", s.handleCreateRoute)
			r.Post("/routes/{id}/paths/{pathId}/activate", s.handleActivatePath)

			r.Put("/circles/{id}", s.handleSyncCircle)
		})
	})

	r.With(s.Auth.Middleware).Get("/ws", s.handleWebSocket)
	return r
}

// requestLogger logs each request at debug level. Requests that did not come
// through prefab get a logger attached first.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(logging.EnsureLogger(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debugw(r.Context(), "API: request",
			"method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"bytes", ww.BytesWritten(), "duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// corsMiddleware adds CORS headers for browser access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+UserIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
