package searchctx

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-citytailor/internal/clock"
	"github.com/FACorreiaa/go-citytailor/internal/store"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

type MockInvalidator struct {
	mock.Mock
}

func (m *MockInvalidator) ClearSearchContext(ctx context.Context, identity, sessionID string) error {
	args := m.Called(ctx, identity, sessionID)
	return args.Error(0)
}

var start = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func setupCacheTest(opts ...Option) (*Cache, *store.EphemeralStore, *clock.Fake) {
	s := store.NewEphemeralStore()
	clk := clock.NewFake(start)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	id := func() types.Identity { return types.Anonymous("sess_1") }
	return New(s, clk, id, logger, opts...), s, clk
}

func TestCache_SetAndGet(t *testing.T) {
	c, _, _ := setupCacheTest()
	ctx := context.Background()

	assert.Nil(t, c.Get(ctx))
	assert.False(t, c.IsValid(ctx))

	c.Set(ctx, " Paris ", []string{"Outdoor", "Cultural", "Outdoor", ""}, "2-4h")
	got := c.Get(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "Paris", got.City)
	assert.Equal(t, []string{"Cultural", "Outdoor"}, got.ActivityFilters)
	assert.Equal(t, "2-4h", got.DurationBucket)
	assert.Equal(t, start, got.CreatedAt)
}

func TestCache_TTL(t *testing.T) {
	c, s, clk := setupCacheTest()
	ctx := context.Background()

	c.Set(ctx, "Lisbon", []string{"Outdoor"}, "<2h")

	clk.Advance(9*time.Minute + 59*time.Second)
	assert.True(t, c.IsValid(ctx))

	clk.Advance(time.Second)
	assert.False(t, c.IsValid(ctx), "valid only while age < ttl")

	_, err := s.Get(store.SearchContextKey("sess_1"))
	assert.ErrorIs(t, err, types.ErrNotFound, "expired context is removed on read")
}

func TestCache_ExpiredAfterElevenMinutes(t *testing.T) {
	c, _, clk := setupCacheTest()
	ctx := context.Background()

	c.Set(ctx, "Rome", []string{"Cultural"}, "2-4h")
	got := c.Get(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "Rome", got.City)

	clk.Advance(11 * time.Minute)
	assert.Nil(t, c.Get(ctx))
}

func TestCache_SecondSetOverwrites(t *testing.T) {
	c, _, clk := setupCacheTest()
	ctx := context.Background()

	c.Set(ctx, "Paris", []string{"Cultural"}, "<2h")
	clk.Advance(8 * time.Minute)
	c.Set(ctx, "Rome", nil, "4h+")
	clk.Advance(8 * time.Minute)

	got := c.Get(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "Rome", got.City)
	assert.Empty(t, got.ActivityFilters)
}

func TestCache_CustomTTL(t *testing.T) {
	c, _, clk := setupCacheTest(WithTTL(time.Minute))
	ctx := context.Background()
	c.Set(ctx, "Paris", nil, "")
	clk.Advance(time.Minute)
	assert.False(t, c.IsValid(ctx))
	assert.Equal(t, time.Minute, c.TTL())
}

func TestCache_Clear(t *testing.T) {
	remote := new(MockInvalidator)
	c, _, _ := setupCacheTest(WithRemote(remote, time.Second))
	ctx := context.Background()

	remote.On("ClearSearchContext", mock.Anything, types.AnonymousIdentityValue, "sess_1").Return(nil).Twice()

	c.Set(ctx, "Paris", []string{"Cultural"}, "<2h")
	c.Clear(ctx)
	c.Clear(ctx)
	c.Wait()

	assert.Nil(t, c.Get(ctx))
	remote.AssertExpectations(t)
}

func TestCache_RemoteFailureIsIgnored(t *testing.T) {
	remote := new(MockInvalidator)
	c, _, _ := setupCacheTest(WithRemote(remote, time.Second))
	ctx := context.Background()

	remote.On("ClearSearchContext", mock.Anything, mock.Anything, mock.Anything).Return(types.ErrNetwork).Once()

	c.Set(ctx, "Paris", nil, "")
	c.Clear(ctx)
	c.Wait()
	assert.False(t, c.IsValid(ctx))
	remote.AssertExpectations(t)
}
