// Package client talks to the recommendation backend.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/go-citytailor/app/observability/metrics"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

const maxErrorBody = 512

// Config of the backend client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables throttling
	Burst     int
}

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client is safe for concurrent use. Every returned error wraps
// types.ErrNetwork.
type Client struct {
	logger  *slog.Logger
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	token   func() string
}

type Option func(*Client)

// WithToken attaches "Authorization: Bearer <token>" when token returns a
// non-empty value.
func WithToken(token func() string) Option { return func(c *Client) { c.token = token } }

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func New(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	l := logger.With(slog.String("component", "backend-client"))

	c := &Client{
		logger:  l,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "recommendation-backend",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < http.StatusInternalServerError && se.Code != http.StatusTooManyRequests
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn("Circuit breaker state changed",
				slog.String("name", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends body (when non-nil) as JSON and decodes the answer into out
// (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	start := time.Now()
	raw, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, query, body)
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.Get().BackendRequestSeconds.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("route", method+" "+routeLabel(path)),
		attribute.String("outcome", outcome),
	))

	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", types.ErrNetwork, method, path, err)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %w", types.ErrNetwork, method, path, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}

// routeLabel replaces path ids so metric cardinality stays bounded.
func routeLabel(path string) string {
	if strings.HasPrefix(path, "/itineraries/") {
		return "/itineraries/{id}/activities"
	}
	return path
}

func (c *Client) TrackSearch(ctx context.Context, req types.TrackSearchRequest) (types.TrackSearchResponse, error) {
	var resp types.TrackSearchResponse
	err := c.do(ctx, http.MethodPost, "/track-search", nil, req, &resp)
	return resp, err
}

func (c *Client) TrackInteraction(ctx context.Context, req types.TrackInteractionRequest) error {
	return c.do(ctx, http.MethodPost, "/track-interaction", nil, req, nil)
}

func (c *Client) HomeRecommendations(ctx context.Context, q types.HomeRecommendationsQuery) (types.HomeRecommendationsResponse, error) {
	query := url.Values{}
	query.Set("identity", q.Identity)
	query.Set("sessionId", q.SessionID)
	query.Set("useSearchContext", strconv.FormatBool(q.UseSearchContext))
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.City != "" {
		query.Set("city", q.City)
	}
	if len(q.Activities) > 0 {
		query.Set("activities", strings.Join(q.Activities, ","))
	}
	var resp types.HomeRecommendationsResponse
	err := c.do(ctx, http.MethodGet, "/home-recommendations", query, nil, &resp)
	return resp, err
}

func (c *Client) MigrateAnonymousToUser(ctx context.Context, userID, sessionID string) (types.MigrateResponse, error) {
	var resp types.MigrateResponse
	err := c.do(ctx, http.MethodPost, "/migrate-anonymous-to-user", nil,
		types.MigrateRequest{UserID: userID, SessionID: sessionID}, &resp)
	return resp, err
}

func (c *Client) ListItineraries(ctx context.Context, identity string) ([]types.RemoteItinerary, error) {
	var resp []types.RemoteItinerary
	err := c.do(ctx, http.MethodGet, "/itineraries", url.Values{"identity": {identity}}, nil, &resp)
	return resp, err
}

func (c *Client) ItineraryActivities(ctx context.Context, itineraryID string) ([]types.ItineraryItem, error) {
	var resp []types.ItineraryItem
	err := c.do(ctx, http.MethodGet, "/itineraries/"+url.PathEscape(itineraryID)+"/activities", nil, nil, &resp)
	return resp, err
}

func (c *Client) CreateItinerary(ctx context.Context, identity string, req types.CreateItineraryRequest) (types.RemoteItinerary, error) {
	var resp types.RemoteItinerary
	err := c.do(ctx, http.MethodPost, "/itineraries", url.Values{"identity": {identity}}, req, &resp)
	return resp, err
}

func (c *Client) AddItineraryActivity(ctx context.Context, itineraryID string, item types.ItineraryItem) error {
	return c.do(ctx, http.MethodPost, "/itineraries/"+url.PathEscape(itineraryID)+"/activities", nil, item, nil)
}

// DeleteItineraryActivity removes the activity called name. An activity that
// is already gone is not an error.
func (c *Client) DeleteItineraryActivity(ctx context.Context, itineraryID, name string) error {
	err := c.do(ctx, http.MethodDelete,
		"/itineraries/"+url.PathEscape(itineraryID)+"/activities/"+url.PathEscape(name), nil, nil, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil
	}
	return err
}

// ClearSearchContext drops the backend's copy of a session's search context.
func (c *Client) ClearSearchContext(ctx context.Context, identity, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/search-context", url.Values{
		"identity":  {identity},
		"sessionId": {sessionID},
	}, nil, nil)
}

func (c *Client) SubmitPreferences(ctx context.Context, activities []string, bucket string) (types.PreferencesResponse, error) {
	var resp types.PreferencesResponse
	err := c.do(ctx, http.MethodPost, "/submit-preferences", nil,
		types.PreferencesRequest{Activities: activities, Time: bucket}, &resp)
	return resp, err
}

// MirrorEvent forwards a recorded interaction to the matching tracking
// endpoint.
func (c *Client) MirrorEvent(ctx context.Context, e types.InteractionEvent) error {
	if e.Type == types.EventSearch {
		_, err := c.TrackSearch(ctx, types.TrackSearchRequest{
			City:       e.City,
			Activities: splitActivities(e.Metadata[types.MetaActivities]),
			Time:       e.Metadata[types.MetaTime],
			Identity:   e.Identity.WireValue(),
			SessionID:  e.SessionID,
			Timestamp:  e.Timestamp,
		})
		return err
	}
	req := types.TrackInteractionRequest{
		ID:        e.ID,
		Type:      e.Type,
		PlaceName: e.PlaceName,
		PlaceID:   e.PlaceID,
		City:      e.City,
		Category:  e.Category,
		Identity:  e.Identity.WireValue(),
		SessionID: e.SessionID,
		Metadata:  e.Metadata,
	}
	if e.Coordinates != nil {
		lat, lon := e.Coordinates.Lat, e.Coordinates.Lon
		req.Lat, req.Lon = &lat, &lon
	}
	return c.TrackInteraction(ctx, req)
}

func splitActivities(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
