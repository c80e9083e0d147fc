package tracking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-citytailor/internal/types"
)

func setupRepositoryTest(t *testing.T) (*RepositoryImpl, pgxmock.PgxPoolIface) {
	t.Helper()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRepository(pool, logger), pool
}

func TestRepository_InsertEvent(t *testing.T) {
	repo, pool := setupRepositoryTest(t)
	ctx := context.Background()
	user := "user_42"
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	pool.ExpectExec("INSERT INTO interaction_events").
		WithArgs(pgxmock.AnyArg(), &user, "sess_1", "favorite", "Louvre", "", "Paris", "Museum",
			[]string{}, "", pgxmock.AnyArg(), pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.InsertEvent(ctx, types.StoredEvent{
		ID: uuid.New(), UserID: &user, SessionID: "sess_1", Type: types.EventFavorite,
		PlaceName: "Louvre", City: "Paris", Category: "Museum", CreatedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestRepository_GetSearchContext(t *testing.T) {
	created := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		repo, pool := setupRepositoryTest(t)
		pool.ExpectQuery("FROM search_contexts").
			WithArgs("sess_1").
			WillReturnRows(pgxmock.NewRows([]string{"session_id", "identity", "city", "activities", "time_bucket", "created_at"}).
				AddRow("sess_1", "anonymous", "Rome", []string{"Cultural"}, "2-4h", created))

		sc, err := repo.GetSearchContext(context.Background(), "sess_1")
		require.NoError(t, err)
		require.NotNil(t, sc)
		assert.Equal(t, "Rome", sc.City)
		assert.Equal(t, []string{"Cultural"}, sc.Activities)
		assert.Equal(t, created, sc.CreatedAt)
	})

	t.Run("missing is not an error", func(t *testing.T) {
		repo, pool := setupRepositoryTest(t)
		pool.ExpectQuery("FROM search_contexts").WithArgs("sess_2").WillReturnError(pgx.ErrNoRows)

		sc, err := repo.GetSearchContext(context.Background(), "sess_2")
		require.NoError(t, err)
		assert.Nil(t, sc)
	})
}

func TestRepository_DeleteSearchContext(t *testing.T) {
	repo, pool := setupRepositoryTest(t)
	pool.ExpectExec("DELETE FROM search_contexts").WithArgs("sess_1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	pool.ExpectExec("DELETE FROM search_contexts").WithArgs("sess_1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	existed, err := repo.DeleteSearchContext(context.Background(), "sess_1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = repo.DeleteSearchContext(context.Background(), "sess_1")
	require.NoError(t, err)
	assert.False(t, existed)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestRepository_MigrateAnonymous(t *testing.T) {
	t.Run("moves anonymous rows in one transaction", func(t *testing.T) {
		repo, pool := setupRepositoryTest(t)
		pool.ExpectBegin()
		pool.ExpectExec("UPDATE interaction_events SET user_id").
			WithArgs("user_42", "sess_1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 5))
		pool.ExpectExec("UPDATE search_contexts SET identity").
			WithArgs("user_42", "sess_1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		pool.ExpectCommit()

		n, err := repo.MigrateAnonymous(context.Background(), "user_42", "sess_1")
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.NoError(t, pool.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		repo, pool := setupRepositoryTest(t)
		pool.ExpectBegin()
		pool.ExpectExec("UPDATE interaction_events SET user_id").
			WithArgs("user_42", "sess_1").
			WillReturnError(errors.New("deadlock"))
		pool.ExpectRollback()

		_, err := repo.MigrateAnonymous(context.Background(), "user_42", "sess_1")
		require.Error(t, err)
		assert.NoError(t, pool.ExpectationsWereMet())
	})
}

func TestRepository_TopPlaces(t *testing.T) {
	repo, pool := setupRepositoryTest(t)
	since := time.Date(2025, 5, 26, 10, 0, 0, 0, time.UTC)
	pool.ExpectQuery("FROM interaction_events").
		WithArgs("Paris", []string{"Museum"}, since, 4).
		WillReturnRows(pgxmock.NewRows([]string{"place_name", "city", "category", "score"}).
			AddRow("Louvre", "Paris", "Museum", int64(7)).
			AddRow("Orsay", "Paris", "Museum", int64(2)))

	got, err := repo.TopPlaces(context.Background(), types.PlaceQuery{
		City: "Paris", Categories: []string{"Museum"}, Since: since, Limit: 4,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, types.Recommendation{Name: "Louvre", City: "Paris", Category: "Museum", Score: 7}, got[0])
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestRepository_TopCategories(t *testing.T) {
	repo, pool := setupRepositoryTest(t)
	pool.ExpectQuery("GROUP BY c").
		WithArgs("", "sess_1", 3).
		WillReturnRows(pgxmock.NewRows([]string{"c", "n"}).
			AddRow("Cultural", int64(3)).
			AddRow("Outdoor", int64(1)))

	got, err := repo.TopCategories(context.Background(), "", "sess_1", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cultural", "Outdoor"}, got)
}
