package recommendations

import (
	"context"
	"fmt"
	"log/slog"

	database "github.com/FACorreiaa/go-citytailor/app/db"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

var _ Repository = (*RepositoryImpl)(nil)

type Repository interface {
	InsertPreference(ctx context.Context, p types.Preference) error
}

type RepositoryImpl struct {
	logger *slog.Logger
	pgpool database.Pool
}

func NewRepository(pgpool database.Pool, logger *slog.Logger) *RepositoryImpl {
	return &RepositoryImpl{logger: logger, pgpool: pgpool}
}

func (r *RepositoryImpl) InsertPreference(ctx context.Context, p types.Preference) error {
	_, err := r.pgpool.Exec(ctx,
		`INSERT INTO preferences (id, activities, time, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Activities, p.Time, p.CreatedAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to store preference", slog.Any("error", err))
		return fmt.Errorf("failed to store preference: %w", err)
	}
	return nil
}
