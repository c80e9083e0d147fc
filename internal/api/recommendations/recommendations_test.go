package recommendations

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/FACorreiaa/go-citytailor/internal/types"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) InsertPreference(ctx context.Context, p types.Preference) error {
	return m.Called(ctx, p).Error(0)
}

type MockTextGenerator struct {
	mock.Mock
}

func (m *MockTextGenerator) GenerateContent(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (string, error) {
	args := m.Called(ctx, prompt, config)
	return args.String(0), args.Error(1)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func setupRecommendationsTest() (*HandlerImpl, *MockRepository) {
	repo := new(MockRepository)
	return NewHandler(NewServiceImpl(repo, discard()), discard()), repo
}

func TestFromCatalog(t *testing.T) {
	tests := []struct {
		name       string
		activities []string
		time       string
		want       []string
	}{
		{
			name:       "selection order is kept",
			activities: []string{"Gastronomy", "Cultural"},
			time:       "2-4h",
			want: []string{"Take a food tour", "Join a local cooking class",
				"Visit the local art museum", "Attend a history tour"},
		},
		{
			name:       "short visits keep tours and museums",
			activities: []string{"Cultural", "Outdoor", "Gastronomy"},
			time:       "<2h",
			want:       []string{"Visit the local art museum", "Attend a history tour", "Take a food tour"},
		},
		{
			name:       "nothing survives the short filter",
			activities: []string{"Relaxation"},
			time:       "<2h",
			want:       []string{NoMatch},
		},
		{
			name:       "unknown categories are ignored",
			activities: []string{"Nightlife"},
			time:       "Full day",
			want:       []string{NoMatch},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromCatalog(tt.activities, tt.time))
		})
	}
}

func TestHandler_SubmitPreferences(t *testing.T) {
	t.Run("stores and answers", func(t *testing.T) {
		h, repo := setupRecommendationsTest()
		repo.On("InsertPreference", mock.Anything, mock.MatchedBy(func(p types.Preference) bool {
			return p.Activities == "Outdoor, Relaxation" && p.Time == "Full day"
		})).Return(nil).Once()

		rec := httptest.NewRecorder()
		h.SubmitPreferencesHandler(rec, httptest.NewRequest(http.MethodPost, "/submit-preferences",
			strings.NewReader(`{"activities":["Outdoor","Relaxation"],"time":"Full day"}`)))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"recommendations":["Explore a nature park","Go hiking in nearby hills","Try a spa experience","Relax in a botanical garden"]}`,
			rec.Body.String())
		repo.AssertExpectations(t)
	})

	t.Run("storage failure is a server error", func(t *testing.T) {
		h, repo := setupRecommendationsTest()
		repo.On("InsertPreference", mock.Anything, mock.Anything).Return(assert.AnError).Once()

		rec := httptest.NewRecorder()
		h.SubmitPreferencesHandler(rec, httptest.NewRequest(http.MethodPost, "/submit-preferences",
			strings.NewReader(`{"activities":["Cultural"],"time":"<2h"}`)))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		h, repo := setupRecommendationsTest()
		rec := httptest.NewRecorder()
		h.SubmitPreferencesHandler(rec, httptest.NewRequest(http.MethodPost, "/submit-preferences", strings.NewReader(`[`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		repo.AssertNotCalled(t, "InsertPreference", mock.Anything, mock.Anything)
	})
}

func TestExpander_Expand(t *testing.T) {
	ctx := context.Background()

	t.Run("parses fenced json and drops excluded names", func(t *testing.T) {
		gen := new(MockTextGenerator)
		gen.On("GenerateContent", mock.Anything, mock.MatchedBy(func(p string) bool {
			return strings.Contains(p, "in Rome") && strings.Contains(p, "Colosseum")
		}), mock.AnythingOfType("*genai.GenerateContentConfig")).Return("```json\n"+
			`[{"name":"colosseum","category":"Cultural"},`+
			`{"name":"Villa Borghese","category":"Outdoor","description":"Gardens"},`+
			`{"name":"Pantheon","city":"Rome","category":"Cultural"},`+
			`{"name":"Trastevere","category":"Gastronomy"}]`+"\n```", nil).Once()

		out, err := NewExpander(gen, discard()).Expand(ctx, "Rome", []string{"Cultural", "Outdoor"}, []string{"Colosseum"}, 2)
		require.NoError(t, err)
		assert.Equal(t, []types.Recommendation{
			{Name: "Villa Borghese", City: "Rome", Category: "Outdoor", Description: "Gardens"},
			{Name: "Pantheon", City: "Rome", Category: "Cultural"},
		}, out)
		gen.AssertExpectations(t)
	})

	t.Run("generation failure", func(t *testing.T) {
		gen := new(MockTextGenerator)
		gen.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything).Return("", assert.AnError).Once()
		_, err := NewExpander(gen, discard()).Expand(ctx, "Rome", nil, nil, 3)
		assert.ErrorIs(t, err, assert.AnError)
	})

	t.Run("unparseable answer", func(t *testing.T) {
		gen := new(MockTextGenerator)
		gen.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything).Return("I suggest the Colosseum.", nil).Once()
		_, err := NewExpander(gen, discard()).Expand(ctx, "Rome", nil, nil, 3)
		assert.Error(t, err)
	})

	t.Run("nothing requested", func(t *testing.T) {
		gen := new(MockTextGenerator)
		out, err := NewExpander(gen, discard()).Expand(ctx, "Rome", nil, nil, 0)
		require.NoError(t, err)
		assert.Empty(t, out)
		gen.AssertNotCalled(t, "GenerateContent", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRepository_InsertPreference(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	repo := NewRepository(pool, discard())
	p := types.Preference{Activities: "Cultural, Outdoor", Time: "2-4h"}
	pool.ExpectExec("INSERT INTO preferences").
		WithArgs(p.ID, p.Activities, p.Time, p.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.InsertPreference(context.Background(), p))
	assert.NoError(t, pool.ExpectationsWereMet())
}
