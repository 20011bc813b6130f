package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tripwatch/server/internal/lib/geo"
)

// DefaultBaseURL is the Routes API v2 endpoint.
const DefaultBaseURL = "https://routes.googleapis.com"

const fieldMask = "routes.duration,routes.distanceMeters,routes.polyline.encodedPolyline"

var (
	ErrRateLimited = errors.New("google: rate limit exceeded")
	ErrNoRoutes    = errors.New("google: no routes found")
)

// HTTPDoer is the part of *http.Client the client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client computes driving routes with the Google Routes API v2.
type Client struct {
	apiKey     string
	httpClient HTTPDoer
	baseURL    string
}

// RouteData is the primary route plus any alternatives the provider offered.
type RouteData struct {
	DurationSeconds int
	DistanceMeters  int
	Polyline        string
	Alternatives    []string
}

// NewClient creates a client against the public endpoint.
func NewClient(apiKey string) *Client {
	return NewClientWithHTTPDoer(apiKey, DefaultBaseURL, &http.Client{Timeout: 30 * time.Second})
}

// NewClientWithHTTPDoer creates a client with an injected transport.
func NewClientWithHTTPDoer(apiKey, baseURL string, doer HTTPDoer) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		httpClient: doer,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// ComputeRoute returns the driving route from origin to destination.
func (c *Client) ComputeRoute(ctx context.Context, origin, destination geo.Point) (*RouteData, error) {
	body := computeRoutesRequest{
		Origin:                   waypointFor(origin),
		Destination:              waypointFor(destination),
		TravelMode:               "DRIVE",
		RoutingPreference:        "TRAFFIC_AWARE",
		ComputeAlternativeRoutes: true,
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/directions/v2:computeRoutes", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// The API rejects requests without a field mask.
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(b))
	}

	var response computeRoutesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(response.Routes) == 0 {
		return nil, ErrNoRoutes
	}
	return processRoutes(response.Routes)
}

func processRoutes(routes []route) (*RouteData, error) {
	primary := routes[0]
	seconds, err := parseDuration(primary.Duration)
	if err != nil {
		return nil, fmt.Errorf("failed to parse duration: %w", err)
	}

	data := &RouteData{
		DurationSeconds: seconds,
		DistanceMeters:  primary.DistanceMeters,
		Polyline:        primary.Polyline.EncodedPolyline,
	}
	for _, alt := range routes[1:] {
		if alt.Polyline.EncodedPolyline != "" {
			data.Alternatives = append(data.Alternatives, alt.Polyline.EncodedPolyline)
		}
	}
	return data, nil
}

// parseDuration parses Google's duration format like "450s".
func parseDuration(s string) (int, error) {
	if s == "" {
		return 0, errors.New("empty duration string")
	}
	s = strings.TrimSuffix(s, "s")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func waypointFor(p geo.Point) waypoint {
	var w waypoint
	w.Location.LatLng = latLng{Latitude: p.Latitude, Longitude: p.Longitude}
	return w
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type waypoint struct {
	Location struct {
		LatLng latLng `json:"latLng"`
	} `json:"location"`
}

type computeRoutesRequest struct {
	Origin                   waypoint `json:"origin"`
	Destination              waypoint `json:"destination"`
	TravelMode               string   `json:"travelMode"`
	RoutingPreference        string   `json:"routingPreference"`
	ComputeAlternativeRoutes bool     `json:"computeAlternativeRoutes"`
}

type computeRoutesResponse struct {
	Routes []route `json:"routes"`
}

type route struct {
	Duration       string `json:"duration"`
	DistanceMeters int    `json:"distanceMeters"`
	Polyline       struct {
		EncodedPolyline string `json:"encodedPolyline"`
	} `json:"polyline"`
}
