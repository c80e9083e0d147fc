package recommendations

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

	"github.com/FACorreiaa/go-citytailor/internal/types"
)

var _ Service = (*ServiceImpl)(nil)

type Service interface {
	SubmitPreferences(ctx context.Context, req types.PreferencesRequest) (types.PreferencesResponse, error)
}

type ServiceImpl struct {
	logger *slog.Logger
	repo   Repository
}

func NewServiceImpl(repo Repository, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{logger: logger, repo: repo}
}

// SubmitPreferences stores the submission and answers from the catalog.
func (s *ServiceImpl) SubmitPreferences(ctx context.Context, req types.PreferencesRequest) (types.PreferencesResponse, error) {
	ctx, span := otel.Tracer("RecommendationsService").Start(ctx, "SubmitPreferences", trace.WithAttributes(
		attribute.StringSlice("activities", req.Activities),
		attribute.String("time", req.Time),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "SubmitPreferences"))

	err := s.repo.InsertPreference(ctx, types.Preference{
		ID:         uuid.New(),
		Activities: strings.Join(req.Activities, ", "),
		Time:       req.Time,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		l.ErrorContext(ctx, "Failed to store preferences", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to store preferences")
		return types.PreferencesResponse{}, fmt.Errorf("failed to store preferences: %w", err)
	}

	recs := FromCatalog(req.Activities, req.Time)
	l.InfoContext(ctx, "Generated recommendations", slog.Int("count", len(recs)))
	span.SetStatus(codes.Ok, "Preferences stored")
	return types.PreferencesResponse{Recommendations: recs}, nil
}
