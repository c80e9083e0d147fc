package itinerary

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	appMiddleware "github.com/FACorreiaa/go-citytailor/app/middleware"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateItinerary(ctx context.Context, it types.RemoteItinerary) error {
	return m.Called(ctx, it).Error(0)
}

func (m *MockRepository) GetItinerary(ctx context.Context, id uuid.UUID) (types.RemoteItinerary, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.RemoteItinerary), args.Error(1)
}

func (m *MockRepository) ListByOwner(ctx context.Context, owner string) ([]types.RemoteItinerary, error) {
	args := m.Called(ctx, owner)
	out, _ := args.Get(0).([]types.RemoteItinerary)
	return out, args.Error(1)
}

func (m *MockRepository) GetActivities(ctx context.Context, id uuid.UUID) ([]types.ItineraryItem, error) {
	args := m.Called(ctx, id)
	out, _ := args.Get(0).([]types.ItineraryItem)
	return out, args.Error(1)
}

func (m *MockRepository) AddActivity(ctx context.Context, id uuid.UUID, item types.ItineraryItem) (bool, error) {
	args := m.Called(ctx, id, item)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) DeleteActivity(ctx context.Context, id uuid.UUID, name string) error {
	return m.Called(ctx, id, name).Error(0)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func setupItineraryTest() (*ServiceImpl, *MockRepository, http.Handler) {
	repo := new(MockRepository)
	svc := NewServiceImpl(repo, discard())
	h := NewHandler(svc, discard())

	r := chi.NewRouter()
	r.Get("/itineraries", h.ListItinerariesHandler)
	r.Post("/itineraries", h.CreateItineraryHandler)
	r.Get("/itineraries/{itineraryID}/activities", h.GetActivitiesHandler)
	r.Post("/itineraries/{itineraryID}/activities", h.AddActivityHandler)
	r.Delete("/itineraries/{itineraryID}/activities/{name}", h.RemoveActivityHandler)
	return svc, repo, r
}

func TestService_CreateItinerary(t *testing.T) {
	t.Run("creates for an account", func(t *testing.T) {
		svc, repo, _ := setupItineraryTest()
		repo.On("CreateItinerary", mock.Anything, mock.MatchedBy(func(it types.RemoteItinerary) bool {
			_, err := uuid.Parse(it.ID)
			return err == nil && it.Owner == "user_42" && it.Name == "My itinerary"
		})).Return(nil).Once()

		it, err := svc.CreateItinerary(context.Background(), "user_42", types.CreateItineraryRequest{Name: " My itinerary ", City: "Paris"})
		require.NoError(t, err)
		assert.Equal(t, "Paris", it.City)
		repo.AssertExpectations(t)
	})

	t.Run("anonymous owners are rejected", func(t *testing.T) {
		svc, _, _ := setupItineraryTest()
		_, err := svc.CreateItinerary(context.Background(), "anonymous", types.CreateItineraryRequest{Name: "x"})
		assert.ErrorIs(t, err, types.ErrInvalidRequest)
	})

	t.Run("anonymous listing is empty", func(t *testing.T) {
		svc, repo, _ := setupItineraryTest()
		out, err := svc.ListItineraries(context.Background(), "anonymous")
		require.NoError(t, err)
		assert.Empty(t, out)
		repo.AssertNotCalled(t, "ListByOwner", mock.Anything, mock.Anything)
	})
}

func TestHandler_ItineraryRoutes(t *testing.T) {
	_, repo, router := setupItineraryTest()
	id := uuid.New()

	repo.On("ListByOwner", mock.Anything, "user_42").
		Return([]types.RemoteItinerary{{ID: id.String(), Owner: "user_42", Name: "Paris"}}, nil).Once()
	repo.On("GetActivities", mock.Anything, id).
		Return([]types.ItineraryItem{{Name: "Louvre"}, {Name: "Orsay"}}, nil).Once()
	repo.On("AddActivity", mock.Anything, id, types.ItineraryItem{Name: "Pantheon", City: "Paris"}).
		Return(true, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/itineraries?identity=user_42", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var lists []types.RemoteItinerary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lists))
	assert.Equal(t, id.String(), lists[0].ID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/itineraries/"+id.String()+"/activities", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var items []types.ItineraryItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	assert.Len(t, items, 2)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/itineraries/"+id.String()+"/activities",
		strings.NewReader(`{"name":"Pantheon","city":"Paris"}`)))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/itineraries/not-a-uuid/activities", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	repo.AssertExpectations(t)
}

func TestHandler_OwnershipIsEnforced(t *testing.T) {
	_, repo, router := setupItineraryTest()
	id := uuid.New()
	repo.On("GetItinerary", mock.Anything, id).Return(types.RemoteItinerary{ID: id.String(), Owner: "user_7"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/itineraries/"+id.String()+"/activities", nil)
	req = req.WithContext(context.WithValue(req.Context(), appMiddleware.UserIDKey, "user_42"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	repo.AssertNotCalled(t, "GetActivities", mock.Anything, mock.Anything)
}

func TestHandler_RemoveMissingActivity(t *testing.T) {
	_, repo, router := setupItineraryTest()
	id := uuid.New()
	repo.On("DeleteActivity", mock.Anything, id, "Louvre").Return(types.ErrNotFound).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/itineraries/"+id.String()+"/activities/Louvre", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRepository_Itineraries(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()
	repo := NewRepository(pool, discard())
	ctx := context.Background()
	id := uuid.New()
	created := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	t.Run("list by owner", func(t *testing.T) {
		pool.ExpectQuery("FROM itineraries").WithArgs("user_42").
			WillReturnRows(pgxmock.NewRows([]string{"id", "owner", "name", "city", "created_at"}).
				AddRow(id, "user_42", "Paris", "Paris", created))

		out, err := repo.ListByOwner(ctx, "user_42")
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, types.RemoteItinerary{ID: id.String(), Owner: "user_42", Name: "Paris", City: "Paris", CreatedAt: created}, out[0])
	})

	t.Run("missing itinerary is not found", func(t *testing.T) {
		pool.ExpectQuery("FROM itineraries").WithArgs(id).WillReturnError(pgx.ErrNoRows)
		_, err := repo.GetItinerary(ctx, id)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("duplicate names are ignored", func(t *testing.T) {
		item := types.ItineraryItem{Name: "Louvre", City: "Paris"}
		pool.ExpectExec("INSERT INTO itinerary_activities").
			WithArgs(id, "", "Louvre", 0.0, 0.0, (*float64)(nil), "", "", "Paris").
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		pool.ExpectExec("UPDATE itineraries SET updated_at").WithArgs(id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		added, err := repo.AddActivity(ctx, id, item)
		require.NoError(t, err)
		assert.False(t, added)
	})

	assert.NoError(t, pool.ExpectationsWereMet())
}
