// Package itinerary reconciles itinerary lists arriving from navigation, the
// local tier and the account's remote itineraries.
package itinerary

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/go-citytailor/internal/engine/notify"
	"github.com/FACorreiaa/go-citytailor/internal/store"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

// Remote reads an account's itineraries from the backend.
type Remote interface {
	ListItineraries(ctx context.Context, identity string) ([]types.RemoteItinerary, error)
	ItineraryActivities(ctx context.Context, itineraryID string) ([]types.ItineraryItem, error)
}

// ItineraryChanged is published after every local write.
type ItineraryChanged struct {
	IdentityKey string `json:"identity_key"`
	Items       int    `json:"items"`
}

// Reconciler owns the pending itinerary of each identity tier.
type Reconciler struct {
	logger    *slog.Logger
	store     store.Store
	remote    Remote
	timeout   time.Duration
	publisher notify.Publisher
	onChange  func(types.Identity, []types.ItineraryItem)

	mu sync.Mutex
}

type Option func(*Reconciler)

func WithRemote(r Remote, timeout time.Duration) Option {
	return func(rc *Reconciler) {
		rc.remote = r
		if timeout > 0 {
			rc.timeout = timeout
		}
	}
}

func WithPublisher(p notify.Publisher) Option { return func(rc *Reconciler) { rc.publisher = p } }

// WithOnChange registers a hook run after user mutations, typically
// AutoSaver.Schedule.
func WithOnChange(f func(types.Identity, []types.ItineraryItem)) Option {
	return func(rc *Reconciler) { rc.onChange = f }
}

func NewReconciler(s store.Store, logger *slog.Logger, opts ...Option) *Reconciler {
	rc := &Reconciler{
		logger:  logger.With(slog.String("component", "itinerary")),
		store:   s,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Reconcile picks a base list (remote when the account has one, else local),
// appends incoming items with new names and writes the result back locally.
func (rc *Reconciler) Reconcile(ctx context.Context, identity types.Identity, incoming []types.ItineraryItem) []types.ItineraryItem {
	l := rc.logger.With(slog.String("method", "Reconcile"), slog.String("identity", identity.Key()))

	var base []types.ItineraryItem
	if identity.IsAuthenticated() && rc.remote != nil {
		remote, err := rc.fetchRemote(ctx, identity)
		if err != nil {
			l.WarnContext(ctx, "Remote itinerary unavailable, using local", slog.Any("error", err))
		}
		base = remote
	}

	rc.mu.Lock()
	if len(base) == 0 {
		local, err := load(rc.store, store.ItineraryKey(identity.Key()))
		if err != nil {
			rc.mu.Unlock()
			l.WarnContext(ctx, "Failed to read local itinerary, leaving it untouched", slog.Any("error", err))
			return Merge(nil, incoming)
		}
		base = local
	}
	merged := Merge(base, incoming)
	saved := rc.saveLocked(ctx, identity, merged)
	rc.mu.Unlock()

	if saved {
		rc.changed(ctx, identity, merged)
	}

	l.DebugContext(ctx, "Itinerary reconciled", slog.Int("base", len(base)), slog.Int("items", len(merged)))
	return merged
}

// fetchRemote lists the account's itineraries and loads their activities
// concurrently, preserving list order.
func (rc *Reconciler) fetchRemote(ctx context.Context, identity types.Identity) ([]types.ItineraryItem, error) {
	ctx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()

	lists, err := rc.remote.ListItineraries(ctx, identity.WireValue())
	if err != nil {
		return nil, fmt.Errorf("failed to list itineraries: %w", err)
	}
	results := make([][]types.ItineraryItem, len(lists))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, it := range lists {
		g.Go(func() error {
			items, err := rc.remote.ItineraryActivities(gctx, it.ID)
			if err != nil {
				return fmt.Errorf("failed to load itinerary %s: %w", it.ID, err)
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []types.ItineraryItem
	for _, items := range results {
		out = Merge(out, items)
	}
	return out, nil
}

// Items returns the local list of identity.
func (rc *Reconciler) Items(ctx context.Context, identity types.Identity) []types.ItineraryItem {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	items, err := load(rc.store, store.ItineraryKey(identity.Key()))
	if err != nil {
		rc.logger.WarnContext(ctx, "Failed to read local itinerary", slog.Any("error", err))
	}
	return items
}

// Add appends item unless its name is already listed.
func (rc *Reconciler) Add(ctx context.Context, identity types.Identity, item types.ItineraryItem) []types.ItineraryItem {
	return rc.mutate(ctx, identity, func(items []types.ItineraryItem) []types.ItineraryItem {
		return Merge(items, []types.ItineraryItem{item})
	})
}

// Remove drops the item called name.
func (rc *Reconciler) Remove(ctx context.Context, identity types.Identity, name string) []types.ItineraryItem {
	return rc.mutate(ctx, identity, func(items []types.ItineraryItem) []types.ItineraryItem {
		out := items[:0]
		for _, it := range items {
			if it.Name != name {
				out = append(out, it)
			}
		}
		return out
	})
}

// Reorder moves the item at from to position to. Out of range indexes are
// ignored.
//
// Mutations never write over a stored list that cannot be read; they return
// nil instead.
func (rc *Reconciler) Reorder(ctx context.Context, identity types.Identity, from, to int) []types.ItineraryItem {
	return rc.mutate(ctx, identity, func(items []types.ItineraryItem) []types.ItineraryItem {
		if from < 0 || from >= len(items) || to < 0 || to >= len(items) || from == to {
			return items
		}
		item := items[from]
		items = append(items[:from], items[from+1:]...)
		items = append(items[:to], append([]types.ItineraryItem{item}, items[to:]...)...)
		return items
	})
}

func (rc *Reconciler) mutate(ctx context.Context, identity types.Identity, f func([]types.ItineraryItem) []types.ItineraryItem) []types.ItineraryItem {
	rc.mu.Lock()
	items, err := load(rc.store, store.ItineraryKey(identity.Key()))
	if err != nil {
		rc.mu.Unlock()
		rc.logger.WarnContext(ctx, "Failed to read local itinerary, mutation dropped", slog.Any("error", err))
		return nil
	}
	items = f(items)
	saved := rc.saveLocked(ctx, identity, items)
	out := append([]types.ItineraryItem(nil), items...)
	rc.mu.Unlock()

	if saved {
		rc.changed(ctx, identity, out)
	}
	if rc.onChange != nil {
		rc.onChange(identity, out)
	}
	return out
}

func (rc *Reconciler) saveLocked(ctx context.Context, identity types.Identity, items []types.ItineraryItem) bool {
	if err := store.SetJSON(rc.store, store.ItineraryKey(identity.Key()), items); err != nil {
		rc.logger.WarnContext(ctx, "Failed to write local itinerary", slog.Any("error", err))
		return false
	}
	return true
}

func (rc *Reconciler) changed(ctx context.Context, identity types.Identity, items []types.ItineraryItem) {
	if rc.publisher != nil {
		rc.publisher.Publish(ctx, notify.KindItinerary, ItineraryChanged{IdentityKey: identity.Key(), Items: len(items)})
	}
}
