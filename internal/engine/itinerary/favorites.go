package itinerary

import (
	"context"
	"log/slog"
	"sync"

	"github.com/FACorreiaa/go-citytailor/internal/store"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

// Favorites keeps the favourite places of each identity tier, deduplicated
// by name like itineraries.
type Favorites struct {
	logger *slog.Logger
	store  store.Store
	mu     sync.Mutex
}

func NewFavorites(s store.Store, logger *slog.Logger) *Favorites {
	return &Favorites{logger: logger.With(slog.String("component", "favorites")), store: s}
}

func (f *Favorites) List(ctx context.Context, identity types.Identity) []types.ItineraryItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, err := load(f.store, store.FavoritesKey(identity.Key()))
	if err != nil {
		f.logger.WarnContext(ctx, "Failed to read favorites", slog.Any("error", err))
	}
	return items
}

// Add reports whether item was new. An unreadable list is left as is.
func (f *Favorites) Add(ctx context.Context, identity types.Identity, item types.ItineraryItem) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := store.FavoritesKey(identity.Key())
	items, err := load(f.store, key)
	if err != nil {
		f.logger.WarnContext(ctx, "Failed to read favorites", slog.Any("error", err))
		return false
	}
	merged := Merge(items, []types.ItineraryItem{item})
	if len(merged) == len(items) {
		return false
	}
	if err := store.SetJSON(f.store, key, merged); err != nil {
		f.logger.WarnContext(ctx, "Failed to write favorites", slog.Any("error", err))
	}
	return true
}

func (f *Favorites) Remove(ctx context.Context, identity types.Identity, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := store.FavoritesKey(identity.Key())
	items, err := load(f.store, key)
	if err != nil {
		f.logger.WarnContext(ctx, "Failed to read favorites", slog.Any("error", err))
		return
	}
	out := items[:0]
	for _, it := range items {
		if it.Name != name {
			out = append(out, it)
		}
	}
	if err := store.SetJSON(f.store, key, out); err != nil {
		f.logger.WarnContext(ctx, "Failed to write favorites", slog.Any("error", err))
	}
}
