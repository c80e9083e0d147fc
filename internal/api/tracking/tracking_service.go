package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-citytailor/internal/clock"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

var _ Service = (*ServiceImpl)(nil)

type Service interface {
	TrackSearch(ctx context.Context, req types.TrackSearchRequest) (types.TrackSearchResponse, error)
	TrackInteraction(ctx context.Context, req types.TrackInteractionRequest) error
	HomeRecommendations(ctx context.Context, q types.HomeRecommendationsQuery) (types.HomeRecommendationsResponse, error)
	MigrateAnonymousToUser(ctx context.Context, userID, sessionID string) (types.MigrateResponse, error)
	ClearSearchContext(ctx context.Context, identity, sessionID string) error
	Trending(ctx context.Context, city string, limit int) (types.TrendingResponse, error)
}

// Expander tops up a short recommendation list, typically with a
// generative model.
type Expander interface {
	Expand(ctx context.Context, city string, categories []string, exclude []string, n int) ([]types.Recommendation, error)
}

const (
	defaultLimit   = 8
	maxLimit       = 50
	trendingWindow = 7 * 24 * time.Hour
)

type ServiceImpl struct {
	logger   *slog.Logger
	repo     Repository
	clock    clock.Clock
	ttl      time.Duration
	limit    int
	expander Expander
}

type Option func(*ServiceImpl)

// WithExpander enables generative expansion of short recommendation lists.
func WithExpander(e Expander) Option {
	return func(s *ServiceImpl) { s.expander = e }
}

func WithClock(c clock.Clock) Option {
	return func(s *ServiceImpl) { s.clock = c }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *ServiceImpl) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithDefaultLimit sets the list size used when a request names none.
func WithDefaultLimit(n int) Option {
	return func(s *ServiceImpl) {
		if n > 0 && n <= maxLimit {
			s.limit = n
		}
	}
}

func NewServiceImpl(repo Repository, logger *slog.Logger, opts ...Option) *ServiceImpl {
	s := &ServiceImpl{
		logger: logger,
		repo:   repo,
		clock:  clock.Real{},
		ttl:    types.SearchContextTTL,
		limit:  defaultLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// userIDOf maps the wire identity to the user_id column.
func userIDOf(identity string) *string {
	identity = strings.TrimSpace(identity)
	if identity == "" || identity == types.AnonymousIdentityValue {
		return nil
	}
	return &identity
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (s *ServiceImpl) TrackSearch(ctx context.Context, req types.TrackSearchRequest) (types.TrackSearchResponse, error) {
	ctx, span := otel.Tracer("TrackingService").Start(ctx, "TrackSearch", trace.WithAttributes(
		attribute.String("search.city", req.City),
		attribute.String("session.id", req.SessionID),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "TrackSearch"), slog.String("sessionID", req.SessionID))

	city := strings.TrimSpace(req.City)
	if city == "" || req.SessionID == "" {
		span.SetStatus(codes.Error, "city and sessionId are required")
		return types.TrackSearchResponse{}, fmt.Errorf("%w: city and sessionId are required", types.ErrInvalidRequest)
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = s.clock.Now()
	}
	activities := cleanList(req.Activities)

	err := s.repo.InsertEvent(ctx, types.StoredEvent{
		ID:         uuid.New(),
		UserID:     userIDOf(req.Identity),
		SessionID:  req.SessionID,
		Type:       types.EventSearch,
		City:       city,
		Activities: activities,
		Time:       req.Time,
		CreatedAt:  ts,
	})
	if err != nil {
		l.ErrorContext(ctx, "Failed to record search", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to record search")
		return types.TrackSearchResponse{}, fmt.Errorf("failed to record search: %w", err)
	}

	err = s.repo.UpsertSearchContext(ctx, types.StoredSearchContext{
		SessionID:  req.SessionID,
		Identity:   identityOrAnonymous(req.Identity),
		City:       city,
		Activities: activities,
		Time:       req.Time,
		CreatedAt:  ts,
	})
	if err != nil {
		l.WarnContext(ctx, "Search recorded without context", slog.Any("error", err))
		span.RecordError(err)
		return types.TrackSearchResponse{ContextStored: false}, nil
	}

	l.DebugContext(ctx, "Search tracked", slog.String("city", city), slog.Int("activities", len(activities)))
	span.SetStatus(codes.Ok, "Search tracked")
	return types.TrackSearchResponse{ContextStored: true}, nil
}

func identityOrAnonymous(identity string) string {
	if id := userIDOf(identity); id != nil {
		return *id
	}
	return types.AnonymousIdentityValue
}

func (s *ServiceImpl) TrackInteraction(ctx context.Context, req types.TrackInteractionRequest) error {
	ctx, span := otel.Tracer("TrackingService").Start(ctx, "TrackInteraction", trace.WithAttributes(
		attribute.String("interaction.type", string(req.Type)),
		attribute.String("interaction.place", req.PlaceName),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "TrackInteraction"), slog.String("sessionID", req.SessionID))

	if !req.Type.Valid() || req.Type == types.EventSearch || strings.TrimSpace(req.PlaceName) == "" || req.SessionID == "" {
		span.SetStatus(codes.Error, "invalid interaction")
		return fmt.Errorf("%w: type, placeName and sessionId are required", types.ErrInvalidRequest)
	}

	id, err := uuid.Parse(req.ID)
	if err != nil {
		id = uuid.New()
	}
	err = s.repo.InsertEvent(ctx, types.StoredEvent{
		ID:        id,
		UserID:    userIDOf(req.Identity),
		SessionID: req.SessionID,
		Type:      req.Type,
		PlaceName: strings.TrimSpace(req.PlaceName),
		PlaceID:   req.PlaceID,
		City:      strings.TrimSpace(req.City),
		Category:  strings.TrimSpace(req.Category),
		Lat:       req.Lat,
		Lon:       req.Lon,
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		l.ErrorContext(ctx, "Failed to record interaction", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to record interaction")
		return fmt.Errorf("failed to record interaction: %w", err)
	}
	span.SetStatus(codes.Ok, "Interaction tracked")
	return nil
}

// liveContext loads the session's stored search context, dropping it once
// it is older than the TTL.
func (s *ServiceImpl) liveContext(ctx context.Context, sessionID string) *types.StoredSearchContext {
	if sessionID == "" {
		return nil
	}
	sc, err := s.repo.GetSearchContext(ctx, sessionID)
	if err != nil || sc == nil {
		return nil
	}
	if s.clock.Now().Sub(sc.CreatedAt) >= s.ttl {
		if _, err := s.repo.DeleteSearchContext(ctx, sessionID); err != nil {
			s.logger.WarnContext(ctx, "Failed to drop expired search context", slog.Any("error", err))
		}
		return nil
	}
	return sc
}

func (s *ServiceImpl) clampLimit(n int) int {
	switch {
	case n <= 0:
		return s.limit
	case n > maxLimit:
		return maxLimit
	}
	return n
}

func (s *ServiceImpl) HomeRecommendations(ctx context.Context, q types.HomeRecommendationsQuery) (types.HomeRecommendationsResponse, error) {
	ctx, span := otel.Tracer("TrackingService").Start(ctx, "HomeRecommendations", trace.WithAttributes(
		attribute.String("identity", q.Identity),
		attribute.Bool("use_search_context", q.UseSearchContext),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "HomeRecommendations"), slog.String("sessionID", q.SessionID))
	limit := s.clampLimit(q.Limit)
	meta := types.RecommendationMetadata{Source: "popularity", GeneratedAt: s.clock.Now()}

	var city string
	var categories []string
	if q.UseSearchContext {
		if sc := s.liveContext(ctx, q.SessionID); sc != nil {
			city, categories = sc.City, sc.Activities
			meta.UsedSearchContext = true
		} else if q.City != "" {
			city, categories = q.City, cleanList(q.Activities)
			meta.UsedSearchContext = true
		}
	}
	if !meta.UsedSearchContext {
		userID := ""
		if id := userIDOf(q.Identity); id != nil {
			userID = *id
		}
		top, err := s.repo.TopCategories(ctx, userID, q.SessionID, 3)
		if err != nil {
			l.WarnContext(ctx, "Top categories unavailable", slog.Any("error", err))
		}
		categories = top
	}
	meta.Personalized = meta.UsedSearchContext || len(categories) > 0
	meta.City = city
	meta.Categories = categories

	places, err := s.repo.TopPlaces(ctx, types.PlaceQuery{City: city, Categories: categories, Limit: limit})
	if err != nil {
		l.ErrorContext(ctx, "Failed to rank places", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to rank places")
		return types.HomeRecommendationsResponse{}, fmt.Errorf("failed to rank places: %w", err)
	}

	if s.expander != nil && len(places) < limit {
		exclude := make([]string, 0, len(places))
		for _, p := range places {
			exclude = append(exclude, p.Name)
		}
		extra, err := s.expander.Expand(ctx, city, categories, exclude, limit-len(places))
		if err != nil {
			l.WarnContext(ctx, "Generative expansion failed", slog.Any("error", err))
		} else if len(extra) > 0 {
			places = append(places, extra...)
			meta.Source = "popularity+generative"
		}
	}
	if len(places) > limit {
		places = places[:limit]
	}

	l.DebugContext(ctx, "Recommendations ranked",
		slog.Int("count", len(places)), slog.Bool("used_search_context", meta.UsedSearchContext))
	span.SetAttributes(attribute.Int("recommendations.count", len(places)))
	span.SetStatus(codes.Ok, "Recommendations ranked")
	return types.HomeRecommendationsResponse{MainRecommendations: places, Metadata: meta}, nil
}

func (s *ServiceImpl) MigrateAnonymousToUser(ctx context.Context, userID, sessionID string) (types.MigrateResponse, error) {
	ctx, span := otel.Tracer("TrackingService").Start(ctx, "MigrateAnonymousToUser", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "MigrateAnonymousToUser"), slog.String("userID", userID))

	if userIDOf(userID) == nil || sessionID == "" {
		span.SetStatus(codes.Error, "userId and sessionId are required")
		return types.MigrateResponse{}, fmt.Errorf("%w: userId and sessionId are required", types.ErrInvalidRequest)
	}

	n, err := s.repo.MigrateAnonymous(ctx, userID, sessionID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to migrate anonymous activity", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to migrate")
		return types.MigrateResponse{}, fmt.Errorf("failed to migrate anonymous activity: %w", err)
	}

	l.InfoContext(ctx, "Anonymous activity migrated", slog.Int("migrated", n))
	span.SetStatus(codes.Ok, "Migrated")
	return types.MigrateResponse{MigratedActivities: n}, nil
}

func (s *ServiceImpl) ClearSearchContext(ctx context.Context, identity, sessionID string) error {
	ctx, span := otel.Tracer("TrackingService").Start(ctx, "ClearSearchContext", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	if sessionID == "" {
		return fmt.Errorf("%w: sessionId is required", types.ErrInvalidRequest)
	}
	existed, err := s.repo.DeleteSearchContext(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to clear search context")
		return fmt.Errorf("failed to clear search context: %w", err)
	}
	s.logger.DebugContext(ctx, "Search context cleared",
		slog.String("identity", identity), slog.Bool("existed", existed))
	return nil
}

func (s *ServiceImpl) Trending(ctx context.Context, city string, limit int) (types.TrendingResponse, error) {
	ctx, span := otel.Tracer("TrackingService").Start(ctx, "Trending", trace.WithAttributes(
		attribute.String("city", city),
	))
	defer span.End()

	city = strings.TrimSpace(city)
	places, err := s.repo.TopPlaces(ctx, types.PlaceQuery{
		City:  city,
		Since: s.clock.Now().Add(-trendingWindow),
		Limit: s.clampLimit(limit),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load trending places")
		return types.TrendingResponse{}, fmt.Errorf("failed to load trending places: %w", err)
	}
	return types.TrendingResponse{City: city, Places: places}, nil
}
