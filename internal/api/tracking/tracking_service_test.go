package tracking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-citytailor/internal/clock"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) InsertEvent(ctx context.Context, e types.StoredEvent) error {
	return m.Called(ctx, e).Error(0)
}

func (m *MockRepository) UpsertSearchContext(ctx context.Context, sc types.StoredSearchContext) error {
	return m.Called(ctx, sc).Error(0)
}

func (m *MockRepository) GetSearchContext(ctx context.Context, sessionID string) (*types.StoredSearchContext, error) {
	args := m.Called(ctx, sessionID)
	sc, _ := args.Get(0).(*types.StoredSearchContext)
	return sc, args.Error(1)
}

func (m *MockRepository) DeleteSearchContext(ctx context.Context, sessionID string) (bool, error) {
	args := m.Called(ctx, sessionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) MigrateAnonymous(ctx context.Context, userID, sessionID string) (int, error) {
	args := m.Called(ctx, userID, sessionID)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) TopCategories(ctx context.Context, userID, sessionID string, limit int) ([]string, error) {
	args := m.Called(ctx, userID, sessionID, limit)
	out, _ := args.Get(0).([]string)
	return out, args.Error(1)
}

func (m *MockRepository) TopPlaces(ctx context.Context, q types.PlaceQuery) ([]types.Recommendation, error) {
	args := m.Called(ctx, q)
	out, _ := args.Get(0).([]types.Recommendation)
	return out, args.Error(1)
}

type MockExpander struct {
	mock.Mock
}

func (m *MockExpander) Expand(ctx context.Context, city string, categories, exclude []string, n int) ([]types.Recommendation, error) {
	args := m.Called(ctx, city, categories, exclude, n)
	out, _ := args.Get(0).([]types.Recommendation)
	return out, args.Error(1)
}

var t0 = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func setupServiceTest(opts ...Option) (*ServiceImpl, *MockRepository, *clock.Fake) {
	repo := new(MockRepository)
	clk := clock.NewFake(t0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServiceImpl(repo, logger, append([]Option{WithClock(clk)}, opts...)...), repo, clk
}

func TestService_TrackSearch(t *testing.T) {
	t.Run("stores the event and the session context", func(t *testing.T) {
		svc, repo, _ := setupServiceTest()
		repo.On("InsertEvent", mock.Anything, mock.MatchedBy(func(e types.StoredEvent) bool {
			return e.Type == types.EventSearch && e.UserID == nil && e.City == "Rome" &&
				assert.ObjectsAreEqual([]string{"Cultural", "Outdoor"}, e.Activities)
		})).Return(nil).Once()
		repo.On("UpsertSearchContext", mock.Anything, types.StoredSearchContext{
			SessionID: "sess_1", Identity: "anonymous", City: "Rome",
			Activities: []string{"Cultural", "Outdoor"}, Time: "2-4h", CreatedAt: t0,
		}).Return(nil).Once()

		resp, err := svc.TrackSearch(context.Background(), types.TrackSearchRequest{
			City: " Rome ", Activities: []string{"Cultural", " ", "Outdoor"}, Time: "2-4h",
			Identity: "anonymous", SessionID: "sess_1",
		})
		require.NoError(t, err)
		assert.True(t, resp.ContextStored)
		repo.AssertExpectations(t)
	})

	t.Run("city is required", func(t *testing.T) {
		svc, repo, _ := setupServiceTest()
		_, err := svc.TrackSearch(context.Background(), types.TrackSearchRequest{SessionID: "sess_1"})
		assert.ErrorIs(t, err, types.ErrInvalidRequest)
		repo.AssertNotCalled(t, "InsertEvent", mock.Anything, mock.Anything)
	})

	t.Run("context failure still records the search", func(t *testing.T) {
		svc, repo, _ := setupServiceTest()
		repo.On("InsertEvent", mock.Anything, mock.Anything).Return(nil).Once()
		repo.On("UpsertSearchContext", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

		resp, err := svc.TrackSearch(context.Background(), types.TrackSearchRequest{City: "Rome", SessionID: "sess_1"})
		require.NoError(t, err)
		assert.False(t, resp.ContextStored)
	})
}

func TestService_TrackInteraction(t *testing.T) {
	t.Run("keeps a client uuid for idempotent retries", func(t *testing.T) {
		svc, repo, _ := setupServiceTest()
		id := "6f1c2a4e-8b7d-4c1e-9a55-0d2f7b3e9c10"
		repo.On("InsertEvent", mock.Anything, mock.MatchedBy(func(e types.StoredEvent) bool {
			return e.ID.String() == id && *e.UserID == "user_42" && e.Type == types.EventFavorite
		})).Return(nil).Once()

		err := svc.TrackInteraction(context.Background(), types.TrackInteractionRequest{
			ID: id, Type: types.EventFavorite, PlaceName: "Louvre", Identity: "user_42", SessionID: "sess_1",
		})
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("rejects incomplete interactions", func(t *testing.T) {
		svc, _, _ := setupServiceTest()
		for _, req := range []types.TrackInteractionRequest{
			{Type: "bogus", PlaceName: "Louvre", SessionID: "s"},
			{Type: types.EventView, SessionID: "s"},
			{Type: types.EventSearch, PlaceName: "Louvre", SessionID: "s"},
		} {
			assert.ErrorIs(t, svc.TrackInteraction(context.Background(), req), types.ErrInvalidRequest)
		}
	})
}

func TestService_HomeRecommendations(t *testing.T) {
	ctx := context.Background()
	places := []types.Recommendation{{Name: "Colosseum", City: "Rome", Score: 5}}

	t.Run("live context biases the ranking", func(t *testing.T) {
		svc, repo, clk := setupServiceTest()
		clk.Advance(9 * time.Minute)
		repo.On("GetSearchContext", mock.Anything, "sess_1").Return(&types.StoredSearchContext{
			SessionID: "sess_1", City: "Rome", Activities: []string{"Cultural"}, CreatedAt: t0,
		}, nil).Once()
		repo.On("TopPlaces", mock.Anything, types.PlaceQuery{City: "Rome", Categories: []string{"Cultural"}, Limit: 4}).
			Return(places, nil).Once()

		resp, err := svc.HomeRecommendations(ctx, types.HomeRecommendationsQuery{
			Identity: "anonymous", SessionID: "sess_1", UseSearchContext: true, Limit: 4,
		})
		require.NoError(t, err)
		assert.True(t, resp.Metadata.UsedSearchContext)
		assert.True(t, resp.Metadata.Personalized)
		assert.Equal(t, "Rome", resp.Metadata.City)
		assert.Equal(t, places, resp.MainRecommendations)
		repo.AssertExpectations(t)
	})

	t.Run("expired context is dropped", func(t *testing.T) {
		svc, repo, clk := setupServiceTest()
		clk.Advance(11 * time.Minute)
		repo.On("GetSearchContext", mock.Anything, "sess_1").Return(&types.StoredSearchContext{
			SessionID: "sess_1", City: "Rome", CreatedAt: t0,
		}, nil).Once()
		repo.On("DeleteSearchContext", mock.Anything, "sess_1").Return(true, nil).Once()
		repo.On("TopCategories", mock.Anything, "user_42", "sess_1", 3).Return([]string{"Outdoor"}, nil).Once()
		repo.On("TopPlaces", mock.Anything, types.PlaceQuery{Categories: []string{"Outdoor"}, Limit: defaultLimit}).
			Return([]types.Recommendation{}, nil).Once()

		resp, err := svc.HomeRecommendations(ctx, types.HomeRecommendationsQuery{
			Identity: "user_42", SessionID: "sess_1", UseSearchContext: true,
		})
		require.NoError(t, err)
		assert.False(t, resp.Metadata.UsedSearchContext)
		assert.True(t, resp.Metadata.Personalized)
		assert.Empty(t, resp.MainRecommendations)
		repo.AssertExpectations(t)
	})

	t.Run("client hints stand in for a missing server context", func(t *testing.T) {
		svc, repo, _ := setupServiceTest()
		repo.On("GetSearchContext", mock.Anything, "sess_1").Return(nil, nil).Once()
		repo.On("TopPlaces", mock.Anything, types.PlaceQuery{City: "Paris", Categories: []string{"Cultural"}, Limit: 2}).
			Return(places, nil).Once()

		resp, err := svc.HomeRecommendations(ctx, types.HomeRecommendationsQuery{
			SessionID: "sess_1", UseSearchContext: true, Limit: 2, City: "Paris", Activities: []string{"Cultural"},
		})
		require.NoError(t, err)
		assert.True(t, resp.Metadata.UsedSearchContext)
	})

	t.Run("short lists are expanded", func(t *testing.T) {
		exp := new(MockExpander)
		svc, repo, _ := setupServiceTest(WithExpander(exp))
		repo.On("TopCategories", mock.Anything, "", "sess_1", 3).Return(nil, nil).Once()
		repo.On("TopPlaces", mock.Anything, mock.Anything).Return(places, nil).Once()
		exp.On("Expand", mock.Anything, "", []string(nil), []string{"Colosseum"}, 2).
			Return([]types.Recommendation{{Name: "Trastevere"}, {Name: "Pantheon"}}, nil).Once()

		resp, err := svc.HomeRecommendations(ctx, types.HomeRecommendationsQuery{SessionID: "sess_1", Limit: 3})
		require.NoError(t, err)
		require.Len(t, resp.MainRecommendations, 3)
		assert.Equal(t, "popularity+generative", resp.Metadata.Source)
		assert.False(t, resp.Metadata.Personalized)
		exp.AssertExpectations(t)
	})

	t.Run("ranking failure is reported", func(t *testing.T) {
		svc, repo, _ := setupServiceTest()
		repo.On("TopCategories", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
		repo.On("TopPlaces", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()

		_, err := svc.HomeRecommendations(ctx, types.HomeRecommendationsQuery{SessionID: "sess_1"})
		assert.Error(t, err)
	})
}

func TestService_MigrateAnonymousToUser(t *testing.T) {
	t.Run("reports migrated rows", func(t *testing.T) {
		svc, repo, _ := setupServiceTest()
		repo.On("MigrateAnonymous", mock.Anything, "user_42", "sess_1").Return(5, nil).Once()

		resp, err := svc.MigrateAnonymousToUser(context.Background(), "user_42", "sess_1")
		require.NoError(t, err)
		assert.Equal(t, 5, resp.MigratedActivities)
	})

	t.Run("anonymous target is rejected", func(t *testing.T) {
		svc, _, _ := setupServiceTest()
		_, err := svc.MigrateAnonymousToUser(context.Background(), "anonymous", "sess_1")
		assert.ErrorIs(t, err, types.ErrInvalidRequest)
	})
}

func TestService_ClearSearchContext(t *testing.T) {
	svc, repo, _ := setupServiceTest()
	repo.On("DeleteSearchContext", mock.Anything, "sess_1").Return(false, nil).Twice()

	require.NoError(t, svc.ClearSearchContext(context.Background(), "anonymous", "sess_1"))
	require.NoError(t, svc.ClearSearchContext(context.Background(), "anonymous", "sess_1"))
	assert.ErrorIs(t, svc.ClearSearchContext(context.Background(), "anonymous", ""), types.ErrInvalidRequest)
	repo.AssertExpectations(t)
}

func TestService_Trending(t *testing.T) {
	svc, repo, _ := setupServiceTest()
	repo.On("TopPlaces", mock.Anything, types.PlaceQuery{City: "Paris", Since: t0.Add(-trendingWindow), Limit: 5}).
		Return([]types.Recommendation{{Name: "Louvre"}}, nil).Once()

	resp, err := svc.Trending(context.Background(), " Paris ", 5)
	require.NoError(t, err)
	assert.Equal(t, "Paris", resp.City)
	assert.Len(t, resp.Places, 1)
}

func TestService_TrendingDefaultLimit(t *testing.T) {
	svc, repo, _ := setupServiceTest(WithDefaultLimit(3))
	repo.On("TopPlaces", mock.Anything, types.PlaceQuery{City: "Rome", Since: t0.Add(-trendingWindow), Limit: 3}).
		Return([]types.Recommendation{}, nil).Once()

	_, err := svc.Trending(context.Background(), "Rome", 0)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}
