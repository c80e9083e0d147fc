package migration

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-citytailor/internal/clock"
	"github.com/FACorreiaa/go-citytailor/internal/engine/ledger"
	"github.com/FACorreiaa/go-citytailor/internal/store"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

type MockRemote struct {
	mock.Mock
}

func (m *MockRemote) MigrateAnonymousToUser(ctx context.Context, userID, sessionID string) (types.MigrateResponse, error) {
	args := m.Called(ctx, userID, sessionID)
	return args.Get(0).(types.MigrateResponse), args.Error(1)
}

var (
	anon    = types.Anonymous("sess_1")
	account = types.Authenticated("user_42", "sess_1")
)

type fixture struct {
	store    *store.EphemeralStore
	remote   *MockRemote
	migrator *Migrator
	ledgers  map[string]*ledger.Ledger
}

func setupMigrationTest() *fixture {
	s := store.NewEphemeralStore()
	clk := clock.NewFake(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{store: s, remote: new(MockRemote), ledgers: map[string]*ledger.Ledger{}}
	var mu sync.Mutex
	open := func(id types.Identity) *ledger.Ledger {
		mu.Lock()
		defer mu.Unlock()
		if l, ok := f.ledgers[id.Key()]; ok {
			return l
		}
		l := ledger.New(s, id, clk, ledger.DefaultConfig(), logger)
		f.ledgers[id.Key()] = l
		return l
	}
	f.migrator = New(s, f.remote, open, time.Second, logger)
	open(anon)
	open(account)
	return f
}

func (f *fixture) seedAnonymous(t *testing.T, searches int) {
	ctx := context.Background()
	for i := 0; i < searches; i++ {
		f.ledgers[anon.Key()].Record(ctx, types.InteractionEvent{
			Type:     types.EventSearch,
			City:     "Paris",
			Category: "Cultural",
		})
	}
	require.NoError(t, store.SetJSON(f.store, store.FavoritesKey(anon.Key()), []types.ItineraryItem{{Name: "Louvre"}}))
	require.NoError(t, store.SetJSON(f.store, store.ItineraryKey(anon.Key()), []types.ItineraryItem{{Name: "Eiffel Tower"}}))
}

func TestMigrator_MovesAnonymousData(t *testing.T) {
	f := setupMigrationTest()
	f.seedAnonymous(t, 5)
	ctx := context.Background()

	f.remote.On("MigrateAnonymousToUser", mock.Anything, "user_42", "sess_1").
		Return(types.MigrateResponse{MigratedActivities: 5}, nil).Once()

	res, err := f.migrator.Run(ctx, anon, account)
	require.NoError(t, err)
	assert.Equal(t, 5, res.RemoteMigrated)
	assert.Equal(t, 5, res.EventsImported)
	assert.Equal(t, 1, res.FavoritesMerged)
	assert.Equal(t, 1, res.ItineraryMerged)

	accountAgg := f.ledgers[account.Key()].Snapshot()
	assert.Equal(t, 5, accountAgg.TotalSearches)
	assert.Equal(t, 5, accountAgg.CityCounts["Paris"])
	for _, e := range f.ledgers[account.Key()].Events() {
		assert.Equal(t, account, e.Identity)
	}

	assert.Zero(t, f.ledgers[anon.Key()].Snapshot().TotalEvents())
	_, err = f.store.Get(store.FavoritesKey(anon.Key()))
	assert.ErrorIs(t, err, types.ErrNotFound)

	var favs []types.ItineraryItem
	require.NoError(t, store.GetJSON(f.store, store.FavoritesKey(account.Key()), &favs))
	assert.Equal(t, "Louvre", favs[0].Name)

	marker, err := store.GetString(f.store, store.MigrationKey("sess_1"))
	require.NoError(t, err)
	assert.Equal(t, MarkerMigrated, marker)
	assert.Equal(t, Idle, f.migrator.State())
	f.remote.AssertExpectations(t)
}

func TestMigrator_SecondRunIsSkipped(t *testing.T) {
	f := setupMigrationTest()
	f.seedAnonymous(t, 2)
	ctx := context.Background()

	f.remote.On("MigrateAnonymousToUser", mock.Anything, "user_42", "sess_1").
		Return(types.MigrateResponse{MigratedActivities: 2}, nil).Once()

	_, err := f.migrator.Run(ctx, anon, account)
	require.NoError(t, err)
	res, err := f.migrator.Run(ctx, anon, account)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 2, f.ledgers[account.Key()].Snapshot().TotalSearches)
	f.remote.AssertExpectations(t)
}

func TestMigrator_RerunsForDataGatheredAfterMigration(t *testing.T) {
	f := setupMigrationTest()
	f.seedAnonymous(t, 2)
	ctx := context.Background()

	f.remote.On("MigrateAnonymousToUser", mock.Anything, "user_42", "sess_1").
		Return(types.MigrateResponse{MigratedActivities: 2}, nil).Twice()

	_, err := f.migrator.Run(ctx, anon, account)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		f.ledgers[anon.Key()].Record(ctx, types.InteractionEvent{Type: types.EventSearch, City: "Rome"})
	}
	require.NoError(t, store.SetJSON(f.store, store.FavoritesKey(anon.Key()), []types.ItineraryItem{{Name: "Orsay"}}))

	res, err := f.migrator.Run(ctx, anon, account)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 3, res.EventsImported)
	assert.Equal(t, 1, res.FavoritesMerged)

	agg := f.ledgers[account.Key()].Snapshot()
	assert.Equal(t, 5, agg.TotalSearches)
	assert.Equal(t, 3, agg.CityCounts["Rome"])
	assert.Zero(t, f.ledgers[anon.Key()].Snapshot().EventCount)

	var favorites []types.ItineraryItem
	require.NoError(t, store.GetJSON(f.store, store.FavoritesKey(account.Key()), &favorites))
	assert.Len(t, favorites, 2)

	res, err = f.migrator.Run(ctx, anon, account)
	require.NoError(t, err)
	assert.True(t, res.Skipped, "nothing left to move")
	f.remote.AssertExpectations(t)
}

func TestMigrator_ConcurrentRunsMigrateOnce(t *testing.T) {
	f := setupMigrationTest()
	f.seedAnonymous(t, 3)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	f.remote.On("MigrateAnonymousToUser", mock.Anything, "user_42", "sess_1").
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(types.MigrateResponse{MigratedActivities: 3}, nil).Once()

	var wg sync.WaitGroup
	var first error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, first = f.migrator.Run(ctx, anon, account)
	}()

	<-entered
	assert.Equal(t, InProgress, f.migrator.State())
	_, second := f.migrator.Run(ctx, anon, account)
	assert.ErrorIs(t, second, types.ErrMigrationInProgress)

	close(release)
	wg.Wait()
	require.NoError(t, first)
	assert.Equal(t, 3, f.ledgers[account.Key()].Snapshot().TotalSearches)
	assert.Equal(t, Idle, f.migrator.State())
	f.remote.AssertExpectations(t)
}

func TestMigrator_RemoteFailureKeepsAnonymousData(t *testing.T) {
	f := setupMigrationTest()
	f.seedAnonymous(t, 4)
	ctx := context.Background()

	f.remote.On("MigrateAnonymousToUser", mock.Anything, "user_42", "sess_1").
		Return(types.MigrateResponse{}, assert.AnError).Once()

	_, err := f.migrator.Run(ctx, anon, account)
	assert.ErrorIs(t, err, types.ErrNetwork)
	assert.True(t, f.migrator.Pending("sess_1"))
	assert.Equal(t, 4, f.ledgers[anon.Key()].Snapshot().TotalSearches)
	assert.Zero(t, f.ledgers[account.Key()].Snapshot().TotalEvents())
	assert.Equal(t, Idle, f.migrator.State())

	f.remote.On("MigrateAnonymousToUser", mock.Anything, "user_42", "sess_1").
		Return(types.MigrateResponse{MigratedActivities: 4}, nil).Once()
	res, err := f.migrator.Run(ctx, anon, account)
	require.NoError(t, err)
	assert.Equal(t, 4, res.EventsImported)
	assert.False(t, f.migrator.Pending("sess_1"))
}

func TestMigrator_NoDoubleCountWhenAccountAlreadyHasEvents(t *testing.T) {
	f := setupMigrationTest()
	f.seedAnonymous(t, 3)
	ctx := context.Background()

	f.ledgers[account.Key()].Import(ctx, f.ledgers[anon.Key()].Events()[:2])
	f.remote.On("MigrateAnonymousToUser", mock.Anything, "user_42", "sess_1").
		Return(types.MigrateResponse{MigratedActivities: 3}, nil).Once()

	res, err := f.migrator.Run(ctx, anon, account)
	require.NoError(t, err)
	assert.Equal(t, 1, res.EventsImported)
	assert.Equal(t, 3, f.ledgers[account.Key()].Snapshot().TotalSearches)
}

func TestMigrator_RejectsWrongDirection(t *testing.T) {
	f := setupMigrationTest()
	_, err := f.migrator.Run(context.Background(), account, anon)
	assert.ErrorIs(t, err, types.ErrInvariantViolation)
	f.remote.AssertNotCalled(t, "MigrateAnonymousToUser", mock.Anything, mock.Anything, mock.Anything)
}
