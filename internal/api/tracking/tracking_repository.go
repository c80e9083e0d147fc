package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	database "github.com/FACorreiaa/go-citytailor/app/db"
	"github.com/FACorreiaa/go-citytailor/app/observability/metrics"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

var _ Repository = (*RepositoryImpl)(nil)

type Repository interface {
	InsertEvent(ctx context.Context, e types.StoredEvent) error
	UpsertSearchContext(ctx context.Context, sc types.StoredSearchContext) error
	// GetSearchContext returns nil without error when the session has none.
	GetSearchContext(ctx context.Context, sessionID string) (*types.StoredSearchContext, error)
	DeleteSearchContext(ctx context.Context, sessionID string) (bool, error)
	// MigrateAnonymous assigns the session's anonymous events to userID and
	// returns how many rows moved.
	MigrateAnonymous(ctx context.Context, userID, sessionID string) (int, error)
	TopCategories(ctx context.Context, userID, sessionID string, limit int) ([]string, error)
	TopPlaces(ctx context.Context, q types.PlaceQuery) ([]types.Recommendation, error)
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

// observe records query latency and failures. errp is read when the
// deferred call runs.
func observe(ctx context.Context, query string, start time.Time, errp *error) {
	m := metrics.Get()
	attrs := metric.WithAttributes(attribute.String("query", query))
	m.DbQueryDurationSeconds.Record(ctx, time.Since(start).Seconds(), attrs)
	if *errp != nil {
		m.DbQueryErrorsTotal.Add(ctx, 1, attrs)
	}
}

func (r *RepositoryImpl) InsertEvent(ctx context.Context, e types.StoredEvent) (err error) {
	defer observe(ctx, "insert_event", time.Now(), &err)
	query := `
        INSERT INTO interaction_events (
            id, user_id, session_id, type, place_name, place_id, city, category,
            activities, time_bucket, lat, lon, created_at
        ) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9, NULLIF($10, ''), $11, $12, $13)
        ON CONFLICT (id) DO NOTHING
    `
	activities := e.Activities
	if activities == nil {
		activities = []string{}
	}
	_, err = r.pgpool.Exec(ctx, query,
		e.ID, e.UserID, e.SessionID, string(e.Type), e.PlaceName, e.PlaceID, e.City, e.Category,
		activities, e.Time, e.Lat, e.Lon, e.CreatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to insert interaction event", slog.Any("error", err))
		return fmt.Errorf("failed to insert interaction event: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) UpsertSearchContext(ctx context.Context, sc types.StoredSearchContext) (err error) {
	defer observe(ctx, "upsert_search_context", time.Now(), &err)
	query := `
        INSERT INTO search_contexts (session_id, identity, city, activities, time_bucket, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (session_id) DO UPDATE SET
            identity = EXCLUDED.identity,
            city = EXCLUDED.city,
            activities = EXCLUDED.activities,
            time_bucket = EXCLUDED.time_bucket,
            created_at = EXCLUDED.created_at
    `
	activities := sc.Activities
	if activities == nil {
		activities = []string{}
	}
	_, err = r.pgpool.Exec(ctx, query, sc.SessionID, sc.Identity, sc.City, activities, sc.Time, sc.CreatedAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to store search context", slog.Any("error", err))
		return fmt.Errorf("failed to store search context: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) GetSearchContext(ctx context.Context, sessionID string) (_ *types.StoredSearchContext, err error) {
	defer observe(ctx, "get_search_context", time.Now(), &err)
	query := `
        SELECT session_id, identity, city, activities, time_bucket, created_at
        FROM search_contexts
        WHERE session_id = $1
    `
	var sc types.StoredSearchContext
	err = r.pgpool.QueryRow(ctx, query, sessionID).Scan(
		&sc.SessionID, &sc.Identity, &sc.City, &sc.Activities, &sc.Time, &sc.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to get search context", slog.Any("error", err))
		return nil, fmt.Errorf("failed to get search context: %w", err)
	}
	return &sc, nil
}

func (r *RepositoryImpl) DeleteSearchContext(ctx context.Context, sessionID string) (_ bool, err error) {
	defer observe(ctx, "delete_search_context", time.Now(), &err)
	tag, err := r.pgpool.Exec(ctx, `DELETE FROM search_contexts WHERE session_id = $1`, sessionID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to delete search context", slog.Any("error", err))
		return false, fmt.Errorf("failed to delete search context: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *RepositoryImpl) MigrateAnonymous(ctx context.Context, userID, sessionID string) (_ int, err error) {
	defer observe(ctx, "migrate_anonymous", time.Now(), &err)
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin migration: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				r.logger.WarnContext(ctx, "Rollback failed", slog.Any("error", rbErr))
			}
		}
	}()

	tag, err := tx.Exec(ctx,
		`UPDATE interaction_events SET user_id = $1 WHERE session_id = $2 AND user_id IS NULL`,
		userID, sessionID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to migrate anonymous events", slog.Any("error", err))
		return 0, fmt.Errorf("failed to migrate anonymous events: %w", err)
	}
	if _, err = tx.Exec(ctx,
		`UPDATE search_contexts SET identity = $1 WHERE session_id = $2`,
		userID, sessionID); err != nil {
		return 0, fmt.Errorf("failed to migrate search context: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit migration: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *RepositoryImpl) TopCategories(ctx context.Context, userID, sessionID string, limit int) (_ []string, err error) {
	defer observe(ctx, "top_categories", time.Now(), &err)
	query := `
        SELECT c, COUNT(*) AS n
        FROM (
            SELECT unnest(activities || COALESCE(ARRAY[category], '{}')) AS c
            FROM interaction_events
            WHERE ($1 <> '' AND user_id = $1) OR (user_id IS NULL AND session_id = $2)
        ) t
        WHERE c <> ''
        GROUP BY c
        ORDER BY n DESC, c
        LIMIT $3
    `
	rows, err := r.pgpool.Query(ctx, query, userID, sessionID, limit)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query top categories", slog.Any("error", err))
		return nil, fmt.Errorf("failed to query top categories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var (
			c string
			n int64
		)
		if err = rows.Scan(&c, &n); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		out = append(out, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category rows: %w", err)
	}
	return out, nil
}

// TopPlaces ranks places by favorites (3), itinerary adds (2) and views (1).
func (r *RepositoryImpl) TopPlaces(ctx context.Context, q types.PlaceQuery) (_ []types.Recommendation, err error) {
	defer observe(ctx, "top_places", time.Now(), &err)
	query := `
        SELECT place_name, city, COALESCE(MAX(category), '') AS category,
               SUM(CASE type WHEN 'favorite' THEN 3 WHEN 'add_to_itinerary' THEN 2 ELSE 1 END) AS score
        FROM interaction_events
        WHERE place_name <> ''
          AND type <> 'search'
          AND ($1 = '' OR city = $1)
          AND (cardinality($2::text[]) = 0 OR category = ANY($2))
          AND created_at >= $3
        GROUP BY place_name, city
        ORDER BY score DESC, place_name
        LIMIT $4
    `
	categories := q.Categories
	if categories == nil {
		categories = []string{}
	}
	rows, err := r.pgpool.Query(ctx, query, q.City, categories, q.Since, q.Limit)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query top places", slog.Any("error", err))
		return nil, fmt.Errorf("failed to query top places: %w", err)
	}
	defer rows.Close()

	out := []types.Recommendation{}
	for rows.Next() {
		var (
			rec   types.Recommendation
			score int64
		)
		if err = rows.Scan(&rec.Name, &rec.City, &rec.Category, &score); err != nil {
			return nil, fmt.Errorf("failed to scan place: %w", err)
		}
		rec.Score = float64(score)
		out = append(out, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating place rows: %w", err)
	}
	return out, nil
}
