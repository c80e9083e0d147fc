// Package migration moves an anonymous session's data into the account that
// just logged in.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/FACorreiaa/go-citytailor/app/observability/metrics"
	"github.com/FACorreiaa/go-citytailor/internal/engine/identity"
	"github.com/FACorreiaa/go-citytailor/internal/engine/itinerary"
	"github.com/FACorreiaa/go-citytailor/internal/engine/ledger"
	"github.com/FACorreiaa/go-citytailor/internal/store"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

// State of the migrator.
type State int32

const (
	Idle State = iota
	InProgress
)

func (s State) String() string {
	if s == InProgress {
		return "in_progress"
	}
	return "idle"
}

// Marker values stored at migration.<sessionId>.
const (
	MarkerPending  = "pending"
	MarkerMigrated = "migrated"
)

// Remote confirms the migration on the backend.
type Remote interface {
	MigrateAnonymousToUser(ctx context.Context, userID, sessionID string) (types.MigrateResponse, error)
}

// LedgerOpener returns the live ledger of an identity tier.
type LedgerOpener func(types.Identity) *ledger.Ledger

var _ identity.Migrator = (*Migrator)(nil)

// Migrator runs at most one migration at a time. It never retries on its
// own: a failed run leaves the anonymous data and a pending marker behind.
type Migrator struct {
	logger  *slog.Logger
	store   store.Store
	remote  Remote
	open    LedgerOpener
	timeout time.Duration
	state   atomic.Int32
}

func New(s store.Store, remote Remote, open LedgerOpener, timeout time.Duration, logger *slog.Logger) *Migrator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Migrator{
		logger:  logger.With(slog.String("component", "migration")),
		store:   s,
		remote:  remote,
		open:    open,
		timeout: timeout,
	}
}

func (m *Migrator) State() State {
	return State(m.state.Load())
}

// Pending reports whether a previous attempt for sessionID failed.
func (m *Migrator) Pending(sessionID string) bool {
	v, err := store.GetString(m.store, store.MigrationKey(sessionID))
	return err == nil && v == MarkerPending
}

// Run migrates from's tier into to's tier. A session already marked migrated
// is skipped unless its anonymous tier has gathered data since.
func (m *Migrator) Run(ctx context.Context, from, to types.Identity) (types.MigrationResult, error) {
	if from.IsAuthenticated() || !to.IsAuthenticated() {
		return types.MigrationResult{}, fmt.Errorf("%w: migration needs an anonymous source and an account target", types.ErrInvariantViolation)
	}
	if !m.state.CompareAndSwap(int32(Idle), int32(InProgress)) {
		return types.MigrationResult{}, types.ErrMigrationInProgress
	}
	defer m.state.Store(int32(Idle))

	l := m.logger.With(slog.String("method", "Run"), slog.String("from", from.Key()), slog.String("to", to.Key()))
	markerKey := store.MigrationKey(from.SessionID)

	src := m.open(from)
	exp := src.Export()

	if v, _ := store.GetString(m.store, markerKey); v == MarkerMigrated {
		if !m.hasLeftovers(from, exp) {
			l.DebugContext(ctx, "Session already migrated")
			m.count(ctx, "skipped")
			return types.MigrationResult{Skipped: true}, nil
		}
		l.InfoContext(ctx, "Session migrated before, moving data recorded since")
	}

	rctx, cancel := context.WithTimeout(ctx, m.timeout)
	resp, err := m.remote.MigrateAnonymousToUser(rctx, to.UserID, from.SessionID)
	cancel()
	if err != nil {
		m.markPending(ctx, markerKey)
		m.count(ctx, "failed")
		l.WarnContext(ctx, "Remote migration failed, anonymous data kept", slog.Any("error", err))
		return types.MigrationResult{}, fmt.Errorf("%w: migrate anonymous session: %w", types.ErrNetwork, err)
	}

	res := types.MigrationResult{RemoteMigrated: resp.MigratedActivities}
	res.EventsImported, res.BaselineTransferred = m.open(to).Absorb(ctx, exp)

	if res.FavoritesMerged, err = itinerary.MergeKey(m.store, store.FavoritesKey(from.Key()), store.FavoritesKey(to.Key())); err == nil {
		res.ItineraryMerged, err = itinerary.MergeKey(m.store, store.ItineraryKey(from.Key()), store.ItineraryKey(to.Key()))
	}
	if err != nil {
		m.markPending(ctx, markerKey)
		m.count(ctx, "failed")
		l.ErrorContext(ctx, "Local import failed, anonymous data kept", slog.Any("error", err))
		return res, fmt.Errorf("failed to import anonymous collections: %w", err)
	}

	src.Clear(ctx)
	for _, key := range []string{store.FavoritesKey(from.Key()), store.ItineraryKey(from.Key())} {
		if err := m.store.Delete(key); err != nil {
			l.WarnContext(ctx, "Failed to remove anonymous collection", slog.String("key", key), slog.Any("error", err))
		}
	}
	if err := store.SetString(m.store, markerKey, MarkerMigrated); err != nil {
		l.WarnContext(ctx, "Failed to mark session migrated", slog.Any("error", err))
	}

	m.count(ctx, "migrated")
	l.InfoContext(ctx, "Anonymous session migrated",
		slog.Int("remote_migrated", res.RemoteMigrated),
		slog.Int("events_imported", res.EventsImported),
		slog.Int("favorites_merged", res.FavoritesMerged),
		slog.Int("itinerary_merged", res.ItineraryMerged))
	return res, nil
}

// hasLeftovers reports whether from's tier gathered data after an earlier
// migration, as happens when the account logs out and in again within the
// same session.
func (m *Migrator) hasLeftovers(from types.Identity, exp ledger.Export) bool {
	if len(exp.Events) > 0 || exp.Baseline.EventCount > 0 {
		return true
	}
	for _, key := range []string{store.FavoritesKey(from.Key()), store.ItineraryKey(from.Key())} {
		var items []types.ItineraryItem
		if err := store.GetJSON(m.store, key, &items); err == nil && len(items) > 0 {
			return true
		}
	}
	return false
}

func (m *Migrator) markPending(ctx context.Context, key string) {
	if err := store.SetString(m.store, key, MarkerPending); err != nil {
		m.logger.WarnContext(ctx, "Failed to mark migration pending", slog.Any("error", err))
	}
}

func (m *Migrator) count(ctx context.Context, outcome string) {
	metrics.Get().MigrationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
