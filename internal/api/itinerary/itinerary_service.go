package itinerary

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
	ListItineraries(ctx context.Context, owner string) ([]types.RemoteItinerary, error)
	CreateItinerary(ctx context.Context, owner string, req types.CreateItineraryRequest) (types.RemoteItinerary, error)
	// Owner returns who owns the itinerary, for authorization.
	Owner(ctx context.Context, id uuid.UUID) (string, error)
	Activities(ctx context.Context, id uuid.UUID) ([]types.ItineraryItem, error)
	AddActivity(ctx context.Context, id uuid.UUID, item types.ItineraryItem) error
	RemoveActivity(ctx context.Context, id uuid.UUID, name string) error
}

type ServiceImpl struct {
	logger *slog.Logger
	repo   Repository
}

func NewServiceImpl(repo Repository, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger: logger,
		repo:   repo,
	}
}

func validOwner(owner string) bool {
	owner = strings.TrimSpace(owner)
	return owner != "" && owner != types.AnonymousIdentityValue
}

func (s *ServiceImpl) ListItineraries(ctx context.Context, owner string) ([]types.RemoteItinerary, error) {
	ctx, span := otel.Tracer("ItineraryService").Start(ctx, "ListItineraries", trace.WithAttributes(
		attribute.String("owner", owner),
	))
	defer span.End()

	if !validOwner(owner) {
		return []types.RemoteItinerary{}, nil
	}
	out, err := s.repo.ListByOwner(ctx, owner)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to list itineraries")
		return nil, fmt.Errorf("failed to list itineraries: %w", err)
	}
	span.SetStatus(codes.Ok, "Itineraries listed")
	return out, nil
}

func (s *ServiceImpl) CreateItinerary(ctx context.Context, owner string, req types.CreateItineraryRequest) (types.RemoteItinerary, error) {
	ctx, span := otel.Tracer("ItineraryService").Start(ctx, "CreateItinerary", trace.WithAttributes(
		attribute.String("owner", owner),
		attribute.String("itinerary.name", req.Name),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "CreateItinerary"), slog.String("owner", owner))

	name := strings.TrimSpace(req.Name)
	if !validOwner(owner) || name == "" {
		span.SetStatus(codes.Error, "owner and name are required")
		return types.RemoteItinerary{}, fmt.Errorf("%w: an account identity and a name are required", types.ErrInvalidRequest)
	}

	it := types.RemoteItinerary{
		ID:        uuid.NewString(),
		Owner:     strings.TrimSpace(owner),
		Name:      name,
		City:      strings.TrimSpace(req.City),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateItinerary(ctx, it); err != nil {
		l.ErrorContext(ctx, "Failed to create itinerary", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to create itinerary")
		return types.RemoteItinerary{}, fmt.Errorf("failed to create itinerary: %w", err)
	}

	l.InfoContext(ctx, "Itinerary created", slog.String("itineraryID", it.ID))
	span.SetStatus(codes.Ok, "Itinerary created")
	return it, nil
}

func (s *ServiceImpl) Owner(ctx context.Context, id uuid.UUID) (string, error) {
	it, err := s.repo.GetItinerary(ctx, id)
	if err != nil {
		return "", err
	}
	return it.Owner, nil
}

func (s *ServiceImpl) Activities(ctx context.Context, id uuid.UUID) ([]types.ItineraryItem, error) {
	ctx, span := otel.Tracer("ItineraryService").Start(ctx, "Activities", trace.WithAttributes(
		attribute.String("itinerary.id", id.String()),
	))
	defer span.End()

	items, err := s.repo.GetActivities(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load activities")
		return nil, fmt.Errorf("failed to load activities: %w", err)
	}
	return items, nil
}

func (s *ServiceImpl) AddActivity(ctx context.Context, id uuid.UUID, item types.ItineraryItem) error {
	ctx, span := otel.Tracer("ItineraryService").Start(ctx, "AddActivity", trace.WithAttributes(
		attribute.String("itinerary.id", id.String()),
		attribute.String("activity.name", item.Name),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "AddActivity"), slog.String("itineraryID", id.String()))

	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		return fmt.Errorf("%w: activity name is required", types.ErrInvalidRequest)
	}
	added, err := s.repo.AddActivity(ctx, id, item)
	if err != nil {
		l.ErrorContext(ctx, "Failed to add activity", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to add activity")
		return fmt.Errorf("failed to add activity: %w", err)
	}
	l.DebugContext(ctx, "Activity saved", slog.String("name", item.Name), slog.Bool("added", added))
	span.SetStatus(codes.Ok, "Activity saved")
	return nil
}

func (s *ServiceImpl) RemoveActivity(ctx context.Context, id uuid.UUID, name string) error {
	ctx, span := otel.Tracer("ItineraryService").Start(ctx, "RemoveActivity", trace.WithAttributes(
		attribute.String("itinerary.id", id.String()),
	))
	defer span.End()

	if err := s.repo.DeleteActivity(ctx, id, name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to remove activity")
		return fmt.Errorf("failed to remove activity: %w", err)
	}
	return nil
}
