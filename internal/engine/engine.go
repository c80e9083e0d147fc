// Package engine wires the activity ledger, insights, search context,
// identity tiers and itinerary reconciliation of one browser tab.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/FACorreiaa/go-citytailor/internal/clock"
	"github.com/FACorreiaa/go-citytailor/internal/engine/identity"
	"github.com/FACorreiaa/go-citytailor/internal/engine/insights"
	"github.com/FACorreiaa/go-citytailor/internal/engine/itinerary"
	"github.com/FACorreiaa/go-citytailor/internal/engine/ledger"
	"github.com/FACorreiaa/go-citytailor/internal/engine/migration"
	"github.com/FACorreiaa/go-citytailor/internal/engine/notify"
	"github.com/FACorreiaa/go-citytailor/internal/engine/recommend"
	"github.com/FACorreiaa/go-citytailor/internal/engine/searchctx"
	"github.com/FACorreiaa/go-citytailor/internal/store"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

type Config struct {
	Ledger           ledger.Config
	SearchContextTTL time.Duration
	AutoSaveDebounce time.Duration
	NetworkTimeout   time.Duration
	Weights          insights.Weights
}

func DefaultConfig() Config {
	return Config{
		Ledger:           ledger.DefaultConfig(),
		SearchContextTTL: types.SearchContextTTL,
		AutoSaveDebounce: 2 * time.Second,
		NetworkTimeout:   10 * time.Second,
		Weights:          insights.DefaultWeights(),
	}
}

// Backend is everything the engine asks of the recommendation backend.
// *client.Client implements it.
type Backend interface {
	ledger.Mirror
	searchctx.RemoteInvalidator
	migration.Remote
	itinerary.RemoteWriter
	recommend.Source
}

type Deps struct {
	// Persistent is shared by every tab of a browser profile.
	Persistent store.Store
	// Ephemeral belongs to this tab.
	Ephemeral store.Store
	Clock     clock.Clock
	// Channel connects sibling tabs. Optional.
	Channel *notify.Channel
	// Backend is optional; without it the engine works offline.
	Backend Backend
	// Injected is a host-provided identity context. Optional.
	Injected func() string
	Logger   *slog.Logger
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	deps   Deps

	notifier   *notify.Notifier
	resolver   *identity.Resolver
	search     *searchctx.Cache
	migrator   *migration.Migrator
	reconciler *itinerary.Reconciler
	favorites  *itinerary.Favorites
	autosave   *itinerary.AutoSaver
	recommend  *recommend.Builder

	mu      sync.Mutex
	ledgers map[string]*ledger.Ledger

	unsubscribe []func()
	closeOnce   sync.Once
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Persistent == nil || deps.Ephemeral == nil {
		return nil, errors.New("engine: persistent and ephemeral stores are required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.NetworkTimeout <= 0 {
		cfg.NetworkTimeout = DefaultConfig().NetworkTimeout
	}
	if cfg.Weights.TimeBonuses == nil && cfg.Weights.Search == 0 {
		cfg.Weights = insights.DefaultWeights()
	}

	notifier, err := notify.New(deps.Channel, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		logger:   deps.Logger.With(slog.String("component", "engine"), slog.String("tab", notifier.TabID())),
		deps:     deps,
		notifier: notifier,
		ledgers:  make(map[string]*ledger.Ledger),
	}

	var remote interface {
		migration.Remote
		recommend.Source
	} = offline{}
	if deps.Backend != nil {
		remote = deps.Backend
	}

	e.migrator = migration.New(deps.Persistent, remote, e.ledgerFor, cfg.NetworkTimeout, deps.Logger)

	resolverOpts := []identity.Option{identity.WithPublisher(notifier), identity.WithMigrator(e.migrator)}
	if deps.Injected != nil {
		resolverOpts = append(resolverOpts, identity.WithInjected(deps.Injected))
	}
	e.resolver = identity.New(deps.Persistent, deps.Ephemeral, deps.Logger, resolverOpts...)

	searchOpts := []searchctx.Option{searchctx.WithPublisher(notifier)}
	if cfg.SearchContextTTL > 0 {
		searchOpts = append(searchOpts, searchctx.WithTTL(cfg.SearchContextTTL))
	}
	reconcilerOpts := []itinerary.Option{itinerary.WithPublisher(notifier)}
	if deps.Backend != nil {
		searchOpts = append(searchOpts, searchctx.WithRemote(deps.Backend, cfg.NetworkTimeout))
		e.autosave = itinerary.NewAutoSaver(deps.Backend, deps.Clock, cfg.AutoSaveDebounce, cfg.NetworkTimeout, deps.Logger)
		reconcilerOpts = append(reconcilerOpts,
			itinerary.WithRemote(deps.Backend, cfg.NetworkTimeout),
			itinerary.WithOnChange(e.autosave.Schedule))
	}
	e.search = searchctx.New(deps.Ephemeral, deps.Clock, e.resolver.Current, deps.Logger, searchOpts...)
	e.reconciler = itinerary.NewReconciler(deps.Persistent, deps.Logger, reconcilerOpts...)
	e.favorites = itinerary.NewFavorites(deps.Persistent, deps.Logger)
	e.recommend = recommend.NewBuilder(remote, e.search, deps.Clock, cfg.NetworkTimeout, deps.Logger)

	e.unsubscribe = append(e.unsubscribe,
		notifier.Subscribe(notify.KindIdentity, e.onIdentity),
		notifier.Subscribe(notify.KindLedger, e.onLedger),
	)
	return e, nil
}

// onIdentity re-resolves when a sibling tab changed the identity.
func (e *Engine) onIdentity(n notify.Notification) {
	if n.Origin == e.notifier.TabID() {
		return
	}
	id := e.resolver.Resync(context.Background())
	e.logger.Debug("Identity re-resolved after sibling change", slog.String("identity", id.Key()))
}

// onLedger drops cached ledger state a sibling tab has rewritten.
func (e *Engine) onLedger(n notify.Notification) {
	if n.Origin == e.notifier.TabID() {
		return
	}
	var changed ledger.LedgerChanged
	if err := n.Decode(&changed); err != nil {
		e.logger.Warn("Ignoring malformed ledger notification", slog.Any("error", err))
		return
	}
	e.mu.Lock()
	l, ok := e.ledgers[changed.IdentityKey]
	e.mu.Unlock()
	if ok {
		l.Reload()
	}
}

func (e *Engine) ledgerFor(id types.Identity) *ledger.Ledger {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.ledgers[id.Key()]; ok {
		return l
	}
	opts := []ledger.Option{ledger.WithPublisher(e.notifier)}
	if e.deps.Backend != nil {
		opts = append(opts, ledger.WithMirror(e.deps.Backend))
	}
	l := ledger.New(e.deps.Persistent, id, e.deps.Clock, e.cfg.Ledger, e.deps.Logger, opts...)
	e.ledgers[id.Key()] = l
	return l
}

// Identity is the acting identity.
func (e *Engine) Identity() types.Identity {
	return e.resolver.Current()
}

// RecordSearch records a submitted search and makes it the live search
// context.
func (e *Engine) RecordSearch(ctx context.Context, city string, activities []string, bucket string) types.SearchContext {
	sc := e.search.Set(ctx, city, activities, bucket)
	e.ledgerFor(e.Identity()).Record(ctx, types.InteractionEvent{
		Type: types.EventSearch,
		City: sc.City,
		Metadata: map[string]string{
			types.MetaActivities: strings.Join(sc.ActivityFilters, ","),
			types.MetaTime:       bucket,
		},
	})
	return sc
}

// RecordInteraction records a view, favorite or itinerary add. Favorites and
// itinerary adds also update the matching collection.
func (e *Engine) RecordInteraction(ctx context.Context, event types.InteractionEvent) {
	id := e.Identity()
	e.ledgerFor(id).Record(ctx, event)

	if event.PlaceName == "" {
		return
	}
	item := types.ItineraryItem{ID: event.PlaceID, Name: event.PlaceName, City: event.City}
	if event.Coordinates != nil {
		item.Lat, item.Lon = event.Coordinates.Lat, event.Coordinates.Lon
	}
	switch event.Type {
	case types.EventFavorite:
		e.favorites.Add(ctx, id, item)
	case types.EventAddToItinerary:
		e.reconciler.Add(ctx, id, item)
	}
}

// Snapshot is the acting identity's aggregate.
func (e *Engine) Snapshot() types.ActivityAggregate {
	return e.ledgerFor(e.Identity()).Snapshot()
}

// Metrics derives the insights of the acting identity.
func (e *Engine) Metrics() types.DerivedMetrics {
	return insights.Derive(e.Snapshot(), e.deps.Clock.Now(), e.cfg.Weights)
}

// Verify checks the acting ledger for drift and repairs it.
func (e *Engine) Verify(ctx context.Context) bool {
	return e.ledgerFor(e.Identity()).Verify(ctx)
}

func (e *Engine) SearchContext(ctx context.Context) *types.SearchContext {
	return e.search.Get(ctx)
}

func (e *Engine) ClearSearchContext(ctx context.Context) {
	e.search.Clear(ctx)
}

// Login makes userID the acting identity. The first login of an anonymous
// session migrates its data in the background; WaitMigrations blocks on it.
func (e *Engine) Login(ctx context.Context, userID string) types.Identity {
	return e.resolver.SetIdentity(ctx, userID)
}

// Logout flushes pending itinerary writes, drops the search context and the
// account's local data, then falls back to the anonymous session.
func (e *Engine) Logout(ctx context.Context) types.Identity {
	id := e.Identity()
	if e.autosave != nil {
		if err := e.autosave.Flush(ctx); err != nil {
			e.logger.WarnContext(ctx, "Pending itinerary lost on logout", slog.Any("error", err))
		}
	}
	e.search.Clear(ctx)
	if id.IsAuthenticated() {
		e.ledgerFor(id).Clear(ctx)
	}
	return e.resolver.SetIdentity(ctx, "")
}

// RetryMigration reruns a migration that previously failed.
func (e *Engine) RetryMigration(ctx context.Context) (types.MigrationResult, error) {
	id := e.Identity()
	if !id.IsAuthenticated() {
		return types.MigrationResult{}, fmt.Errorf("%w: no account to migrate into", types.ErrUnauthenticated)
	}
	return e.migrator.Run(ctx, types.Anonymous(id.SessionID), id)
}

func (e *Engine) MigrationPending() bool {
	return e.migrator.Pending(e.resolver.SessionID())
}

func (e *Engine) WaitMigrations() {
	e.resolver.WaitMigrations()
}

// Recommendations fetches home recommendations, biased by a live search
// context.
func (e *Engine) Recommendations(ctx context.Context, limit int) types.HomeRecommendationsResponse {
	return e.recommend.Fetch(ctx, e.Identity(), limit)
}

// Itinerary reconciles incoming items with the stored itinerary.
func (e *Engine) Itinerary(ctx context.Context, incoming []types.ItineraryItem) []types.ItineraryItem {
	return e.reconciler.Reconcile(ctx, e.Identity(), incoming)
}

func (e *Engine) RemoveFromItinerary(ctx context.Context, name string) []types.ItineraryItem {
	return e.reconciler.Remove(ctx, e.Identity(), name)
}

func (e *Engine) ReorderItinerary(ctx context.Context, from, to int) []types.ItineraryItem {
	return e.reconciler.Reorder(ctx, e.Identity(), from, to)
}

func (e *Engine) Favorites(ctx context.Context) []types.ItineraryItem {
	return e.favorites.List(ctx, e.Identity())
}

// FlushItinerary forces the pending autosave.
func (e *Engine) FlushItinerary(ctx context.Context) error {
	if e.autosave == nil {
		return nil
	}
	return e.autosave.Flush(ctx)
}

// Close flushes pending work and detaches the tab.
func (e *Engine) Close(ctx context.Context) {
	e.closeOnce.Do(func() {
		if e.autosave != nil {
			if err := e.autosave.Flush(ctx); err != nil {
				e.logger.WarnContext(ctx, "Pending itinerary not saved", slog.Any("error", err))
			}
			e.autosave.Stop()
		}
		for _, unsub := range e.unsubscribe {
			unsub()
		}
		e.resolver.WaitMigrations()
		e.search.Wait()
		e.mu.Lock()
		ledgers := make([]*ledger.Ledger, 0, len(e.ledgers))
		for _, l := range e.ledgers {
			ledgers = append(ledgers, l)
		}
		e.mu.Unlock()
		for _, l := range ledgers {
			l.Wait()
		}
		e.notifier.Close()
	})
}

// offline stands in for a missing backend.
type offline struct{}

func (offline) MigrateAnonymousToUser(context.Context, string, string) (types.MigrateResponse, error) {
	return types.MigrateResponse{}, fmt.Errorf("%w: no backend configured", types.ErrNetwork)
}

func (offline) HomeRecommendations(context.Context, types.HomeRecommendationsQuery) (types.HomeRecommendationsResponse, error) {
	return types.HomeRecommendationsResponse{}, fmt.Errorf("%w: no backend configured", types.ErrNetwork)
}
