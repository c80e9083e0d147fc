package itinerary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	database "github.com/FACorreiaa/go-citytailor/app/db"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

var _ Repository = (*RepositoryImpl)(nil)

type Repository interface {
	CreateItinerary(ctx context.Context, it types.RemoteItinerary) error
	GetItinerary(ctx context.Context, id uuid.UUID) (types.RemoteItinerary, error)
	ListByOwner(ctx context.Context, owner string) ([]types.RemoteItinerary, error)
	GetActivities(ctx context.Context, id uuid.UUID) ([]types.ItineraryItem, error)
	// AddActivity appends item unless an activity with the same name exists.
	AddActivity(ctx context.Context, id uuid.UUID, item types.ItineraryItem) (bool, error)
	DeleteActivity(ctx context.Context, id uuid.UUID, name string) error
}

type RepositoryImpl struct {
	logger *slog.Logger
	pgpool database.Pool
}

func NewRepository(pgpool database.Pool, logger *slog.Logger) *RepositoryImpl {
	return &RepositoryImpl{
		logger: logger,
		pgpool: pgpool,
	}
}

func (r *RepositoryImpl) CreateItinerary(ctx context.Context, it types.RemoteItinerary) error {
	query := `
        INSERT INTO itineraries (id, owner, name, city, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $5)
    `
	id, err := uuid.Parse(it.ID)
	if err != nil {
		return fmt.Errorf("%w: itinerary id %q", types.ErrInvalidRequest, it.ID)
	}
	if _, err = r.pgpool.Exec(ctx, query, id, it.Owner, it.Name, it.City, it.CreatedAt); err != nil {
		r.logger.ErrorContext(ctx, "Failed to create itinerary", slog.Any("error", err))
		return fmt.Errorf("failed to create itinerary: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) GetItinerary(ctx context.Context, id uuid.UUID) (types.RemoteItinerary, error) {
	query := `
        SELECT id, owner, name, city, created_at
        FROM itineraries
        WHERE id = $1
    `
	var (
		it    types.RemoteItinerary
		rowID uuid.UUID
	)
	err := r.pgpool.QueryRow(ctx, query, id).Scan(&rowID, &it.Owner, &it.Name, &it.City, &it.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.RemoteItinerary{}, fmt.Errorf("itinerary %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to get itinerary", slog.Any("error", err))
		return types.RemoteItinerary{}, fmt.Errorf("failed to get itinerary: %w", err)
	}
	it.ID = rowID.String()
	return it, nil
}

func (r *RepositoryImpl) ListByOwner(ctx context.Context, owner string) ([]types.RemoteItinerary, error) {
	query := `
        SELECT id, owner, name, city, created_at
        FROM itineraries
        WHERE owner = $1
        ORDER BY created_at, id
    `
	rows, err := r.pgpool.Query(ctx, query, owner)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to list itineraries", slog.Any("error", err))
		return nil, fmt.Errorf("failed to list itineraries: %w", err)
	}
	defer rows.Close()

	out := []types.RemoteItinerary{}
	for rows.Next() {
		var (
			it    types.RemoteItinerary
			rowID uuid.UUID
		)
		if err := rows.Scan(&rowID, &it.Owner, &it.Name, &it.City, &it.CreatedAt); err != nil {
			r.logger.ErrorContext(ctx, "Failed to scan itinerary", slog.Any("error", err))
			return nil, fmt.Errorf("failed to scan itinerary: %w", err)
		}
		it.ID = rowID.String()
		out = append(out, it)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating itinerary rows: %w", err)
	}
	return out, nil
}

func (r *RepositoryImpl) GetActivities(ctx context.Context, id uuid.UUID) ([]types.ItineraryItem, error) {
	query := `
        SELECT item_id, name, lat, lon, rating, duration_label, picture_url, city
        FROM itinerary_activities
        WHERE itinerary_id = $1
        ORDER BY position
    `
	rows, err := r.pgpool.Query(ctx, query, id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to get itinerary activities", slog.Any("error", err))
		return nil, fmt.Errorf("failed to get itinerary activities: %w", err)
	}
	defer rows.Close()

	out := []types.ItineraryItem{}
	for rows.Next() {
		var item types.ItineraryItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Lat, &item.Lon, &item.Rating,
			&item.DurationLabel, &item.PictureURL, &item.City); err != nil {
			return nil, fmt.Errorf("failed to scan itinerary activity: %w", err)
		}
		out = append(out, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity rows: %w", err)
	}
	return out, nil
}

func (r *RepositoryImpl) AddActivity(ctx context.Context, id uuid.UUID, item types.ItineraryItem) (bool, error) {
	query := `
        INSERT INTO itinerary_activities (
            itinerary_id, position, item_id, name, lat, lon, rating, duration_label, picture_url, city
        )
        SELECT $1, COALESCE(MAX(position), 0) + 1, $2, $3, $4, $5, $6, $7, $8, $9
        FROM itinerary_activities
        WHERE itinerary_id = $1
        ON CONFLICT (itinerary_id, name) DO NOTHING
    `
	tag, err := r.pgpool.Exec(ctx, query, id, item.ID, item.Name, item.Lat, item.Lon, item.Rating,
		item.DurationLabel, item.PictureURL, item.City)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to add itinerary activity", slog.Any("error", err))
		return false, fmt.Errorf("failed to add itinerary activity: %w", err)
	}
	if _, err := r.pgpool.Exec(ctx, `UPDATE itineraries SET updated_at = NOW() WHERE id = $1`, id); err != nil {
		r.logger.WarnContext(ctx, "Failed to touch itinerary", slog.Any("error", err))
	}
	return tag.RowsAffected() > 0, nil
}

func (r *RepositoryImpl) DeleteActivity(ctx context.Context, id uuid.UUID, name string) error {
	tag, err := r.pgpool.Exec(ctx,
		`DELETE FROM itinerary_activities WHERE itinerary_id = $1 AND name = $2`, id, name)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to delete itinerary activity", slog.Any("error", err))
		return fmt.Errorf("failed to delete itinerary activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("activity %q: %w", name, types.ErrNotFound)
	}
	return nil
}
