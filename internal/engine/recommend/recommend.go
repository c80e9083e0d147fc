// Package recommend builds home recommendation requests, biased by the live
// search context when there is one.
package recommend

import (
	"context"
	"log/slog"
	"time"

	"github.com/FACorreiaa/go-citytailor/internal/clock"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

// Source fetches recommendations from the backend.
type Source interface {
	HomeRecommendations(ctx context.Context, q types.HomeRecommendationsQuery) (types.HomeRecommendationsResponse, error)
}

// ContextReader exposes the live search context.
type ContextReader interface {
	Get(ctx context.Context) *types.SearchContext
}

type Builder struct {
	logger  *slog.Logger
	source  Source
	search  ContextReader
	clock   clock.Clock
	timeout time.Duration
}

func NewBuilder(source Source, search ContextReader, clk clock.Clock, timeout time.Duration, logger *slog.Logger) *Builder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Builder{
		logger:  logger.With(slog.String("component", "recommend")),
		source:  source,
		search:  search,
		clock:   clk,
		timeout: timeout,
	}
}

// Query builds the outbound request for identity.
func (b *Builder) Query(ctx context.Context, identity types.Identity, limit int) types.HomeRecommendationsQuery {
	q := types.HomeRecommendationsQuery{
		Identity:  identity.WireValue(),
		SessionID: identity.SessionID,
		Limit:     limit,
	}
	if sc := b.search.Get(ctx); sc != nil {
		q.UseSearchContext = true
		q.City = sc.City
		q.Activities = append([]string(nil), sc.ActivityFilters...)
	}
	return q
}

// Fetch never fails: a backend error yields an empty, non-personalized
// answer.
func (b *Builder) Fetch(ctx context.Context, identity types.Identity, limit int) types.HomeRecommendationsResponse {
	q := b.Query(ctx, identity, limit)

	fctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	resp, err := b.source.HomeRecommendations(fctx, q)
	if err != nil {
		b.logger.WarnContext(ctx, "Recommendations unavailable, using fallback",
			slog.Bool("use_search_context", q.UseSearchContext), slog.Any("error", err))
		return Fallback(q, b.clock.Now())
	}
	if resp.MainRecommendations == nil {
		resp.MainRecommendations = []types.Recommendation{}
	}
	return resp
}

// Fallback is the answer used when the backend cannot be reached.
func Fallback(q types.HomeRecommendationsQuery, now time.Time) types.HomeRecommendationsResponse {
	return types.HomeRecommendationsResponse{
		MainRecommendations: []types.Recommendation{},
		Metadata: types.RecommendationMetadata{
			Personalized:      false,
			UsedSearchContext: false,
			City:              q.City,
			Source:            "fallback",
			GeneratedAt:       now,
		},
	}
}
