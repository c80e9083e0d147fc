package recommend

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/FACorreiaa/go-citytailor/internal/clock"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) HomeRecommendations(ctx context.Context, q types.HomeRecommendationsQuery) (types.HomeRecommendationsResponse, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(types.HomeRecommendationsResponse), args.Error(1)
}

type staticContext struct {
	sc *types.SearchContext
}

func (s staticContext) Get(context.Context) *types.SearchContext { return s.sc }

var now = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func setupBuilderTest(sc *types.SearchContext) (*Builder, *MockSource) {
	src := new(MockSource)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBuilder(src, staticContext{sc: sc}, clock.NewFake(now), time.Second, logger), src
}

func TestBuilder_UsesLiveSearchContext(t *testing.T) {
	b, src := setupBuilderTest(&types.SearchContext{City: "Rome", ActivityFilters: []string{"Cultural"}, CreatedAt: now})
	id := types.Authenticated("user_42", "sess_1")

	want := types.HomeRecommendationsQuery{
		Identity: "user_42", SessionID: "sess_1", UseSearchContext: true, Limit: 6,
		City: "Rome", Activities: []string{"Cultural"},
	}
	src.On("HomeRecommendations", mock.Anything, want).Return(types.HomeRecommendationsResponse{
		MainRecommendations: []types.Recommendation{{Name: "Colosseum"}},
		Metadata:            types.RecommendationMetadata{Personalized: true, UsedSearchContext: true},
	}, nil).Once()

	resp := b.Fetch(context.Background(), id, 6)
	assert.Equal(t, "Colosseum", resp.MainRecommendations[0].Name)
	src.AssertExpectations(t)
}

func TestBuilder_WithoutSearchContext(t *testing.T) {
	b, _ := setupBuilderTest(nil)
	q := b.Query(context.Background(), types.Anonymous("sess_1"), 0)
	assert.False(t, q.UseSearchContext)
	assert.Equal(t, "anonymous", q.Identity)
	assert.Empty(t, q.City)
}

func TestBuilder_FallbackOnError(t *testing.T) {
	b, src := setupBuilderTest(&types.SearchContext{City: "Rome", CreatedAt: now})
	src.On("HomeRecommendations", mock.Anything, mock.Anything).
		Return(types.HomeRecommendationsResponse{}, types.ErrNetwork).Once()

	resp := b.Fetch(context.Background(), types.Anonymous("sess_1"), 3)
	assert.NotNil(t, resp.MainRecommendations)
	assert.Empty(t, resp.MainRecommendations)
	assert.False(t, resp.Metadata.Personalized)
	assert.Equal(t, "fallback", resp.Metadata.Source)
	assert.Equal(t, now, resp.Metadata.GeneratedAt)
}
