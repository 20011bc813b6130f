package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/dpup/prefab"
	"github.com/dpup/prefab/logging"
	"github.com/joho/godotenv"

	"github.com/tripwatch/server/internal/api"
	"github.com/tripwatch/server/internal/clients/google"
	"github.com/tripwatch/server/internal/clients/messaging"
	"github.com/tripwatch/server/internal/config"
	"github.com/tripwatch/server/internal/lib/dispatch"
	"github.com/tripwatch/server/internal/lib/monitor"
	"github.com/tripwatch/server/internal/lib/realtime"
	"github.com/tripwatch/server/internal/services"
	"github.com/tripwatch/server/internal/store"
)

func main() {
	// Values from a local .env become PF__ overrides for prefab's config
	_ = godotenv.Load()

	appConfig := loadConfig()
	if err := appConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Background work logs through the same logger prefab uses for requests
	ctx, cancel := context.WithCancel(logging.With(context.Background(), logging.NewProdLogger()))
	defer cancel()

	db, err := store.Open(ctx, appConfig.Store.Backend)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", appConfig.Store.Backend.Driver, err)
	}
	defer db.Close()

	// Membership lookups are cached in front of the circle store
	membership := services.NewMembershipResolver(db, appConfig.Membership.CacheTTL)
	membership.Cache().StartPeriodicCleanup(ctx, appConfig.Membership.CacheTTL)

	// Realtime: local websocket rooms, mirrored over NATS when configured
	hub := realtime.NewHub()
	var broadcaster realtime.Broadcaster = hub
	if appConfig.Realtime.NATSURL != "" {
		relay, err := realtime.ConnectRelay(ctx, appConfig.Realtime.NATSURL, appConfig.Realtime.SubjectPrefix, hub)
		if err != nil {
			log.Fatalf("Failed to connect realtime relay: %v", err)
		}
		defer relay.Close()
		broadcaster = realtime.Fanout{hub, relay}
		log.Printf("Realtime relay connected: %s", appConfig.Realtime.NATSURL)
	}

	// Messaging providers; without any the dispatcher records alerts only
	var sender dispatch.Sender
	if router := messaging.FromConfig(appConfig.Messaging); router.Configured() {
		sender = router
	} else {
		log.Printf("No messaging provider configured, alerts will be recorded without delivery")
	}
	dispatcher := dispatch.New(appConfig.Dispatch, membership, sender, broadcaster)

	var directions services.Directions
	if appConfig.Directions.APIKey != "" {
		directions = google.NewClientWithHTTPDoer(appConfig.Directions.APIKey, appConfig.Directions.BaseURL,
			&http.Client{Timeout: 15 * time.Second})
	}

	alertService := services.NewAlertService(db, dispatcher)
	trackingService := services.NewTrackingService(ctx, appConfig.Tracking, services.TrackingDeps{
		Store:       db,
		Processor:   monitor.NewProcessor(appConfig.Monitor),
		Alerts:      alertService,
		Dispatcher:  dispatcher,
		Circles:     membership,
		Broadcaster: broadcaster,
	})
	tripService := services.NewTripService(db, trackingService, alertService, membership, directions)
	routeService := services.NewRouteService(db, trackingService)

	sweeper := services.NewRetentionSweeper(db, appConfig.Store.SampleRetention, appConfig.Store.SweepInterval)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	handler := api.New(api.Deps{
		Trips:    tripService,
		Tracking: trackingService,
		Alerts:   alertService,
		Routes:   routeService,
		Circles:  membership,
		Hub:      hub,
		Auth:     api.NewAuthenticator(appConfig.Auth.JWTSecret, appConfig.Auth.Issuer, appConfig.Auth.AllowHeaderIdentity),
	}).Router()

	log.Printf("TripWatch server starting")
	log.Printf("Store: %s, retention: %v", appConfig.Store.Backend.Driver, appConfig.Store.SampleRetention)

	// Server configuration (port, etc.) will be loaded from prefab.yaml/env vars
	server := prefab.New(
		prefab.WithContext(ctx),
		prefab.WithHTTPHandlerFunc("/api/v1/", handler.ServeHTTP),
		prefab.WithHTTPHandlerFunc("/ws", handler.ServeHTTP),
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
	)

	// Start the server (blocks until shutdown)
	if err := server.Start(); err != nil {
		log.Printf("Server failed: %v", err)
	}

	// Flush buffered samples of every live session before exiting
	shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer done()
	if err := trackingService.Shutdown(shutdownCtx); err != nil {
		log.Printf("Tracking shutdown incomplete: %v", err)
	}
}

// loadConfig loads configuration using Prefab's config system
// Configuration is loaded from prefab.yaml and environment variables with PF__ prefix
func loadConfig() *config.Config {
	appConfig := config.DefaultConfig()

	sections := []struct {
		key    string
		target any
	}{
		{"store", &appConfig.Store},
		{"monitor", &appConfig.Monitor},
		{"tracking", &appConfig.Tracking},
		{"dispatch", &appConfig.Dispatch},
		{"messaging", &appConfig.Messaging},
		{"directions", &appConfig.Directions},
		{"realtime", &appConfig.Realtime},
		{"auth", &appConfig.Auth},
		{"membership", &appConfig.Membership},
	}
	for _, s := range sections {
		if err := prefab.Config.Unmarshal(s.key, s.target); err != nil {
			log.Fatalf("Failed to unmarshal %s section: %v", s.key, err)
		}
	}

	return appConfig
}

// homepageHandler serves a simple HTML homepage at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	// Only handle the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>TripWatch</title>
    <style>
        body {
            font-family: 'Courier New', Consolas, monospace;
            background: #000;
            color: #0f0;
            padding: 20px;
            line-height: 1.4;
        }
        .header { color: #ff0; }
        pre { margin: 0; }
    </style>
</head>
<body>
<pre>
<span class="header">TripWatch</span>

Trip safety monitoring: live location tracking, route deviation and
stop detection, and SOS alerts delivered to your safe circle.

<span class="header">API Endpoints:</span>

Trips:
  POST /api/v1/trips                         - Start (or plan) a trip
  POST /api/v1/trips/{id}/start|complete|cancel
  GET  /api/v1/trips/active                  - Current active trip
  GET  /api/v1/trips/{id}                    - Trip with emergency flag
  GET  /api/v1/trips/{id}/track.kml          - Recorded track as KML

Tracking:
  POST /api/v1/locations                     - Submit a location sample
  POST /api/v1/tracking/start|stop

Alerts:
  POST /api/v1/alerts                        - Raise an alert (SOS)
  POST /api/v1/alerts/{id}/cancel|acknowledge
  GET  /api/v1/alerts?tripId=

Routes and circles:
  POST /api/v1/routes
  POST /api/v1/routes/{id}/paths/{pathId}/activate
  PUT  /api/v1/circles/{id}

Realtime:
  GET  /ws?circle={code}                     - Join your circle's live feed
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Error("Failed to write homepage HTML", "error", err)
	}
}
