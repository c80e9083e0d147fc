// Package searchctx holds the single-slot, TTL-bound context of a session's
// most recent search.
package searchctx

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/FACorreiaa/go-citytailor/app/observability/metrics"
	"github.com/FACorreiaa/go-citytailor/internal/clock"
	"github.com/FACorreiaa/go-citytailor/internal/engine/notify"
	"github.com/FACorreiaa/go-citytailor/internal/store"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

// RemoteInvalidator drops the backend's copy of a session's search context.
type RemoteInvalidator interface {
	ClearSearchContext(ctx context.Context, identity, sessionID string) error
}

// Cache is safe for concurrent use.
type Cache struct {
	logger    *slog.Logger
	store     store.Store
	clock     clock.Clock
	ttl       time.Duration
	identity  func() types.Identity
	remote    RemoteInvalidator
	publisher notify.Publisher
	timeout   time.Duration

	mu sync.Mutex
	wg sync.WaitGroup
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option { return func(c *Cache) { c.ttl = ttl } }

func WithRemote(r RemoteInvalidator, timeout time.Duration) Option {
	return func(c *Cache) {
		c.remote = r
		c.timeout = timeout
	}
}

func WithPublisher(p notify.Publisher) Option { return func(c *Cache) { c.publisher = p } }

// New returns a cache over the ephemeral store. identity is read on every
// call so the slot follows the current session.
func New(s store.Store, clk clock.Clock, identity func() types.Identity, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		logger:   logger.With(slog.String("component", "searchctx")),
		store:    s,
		clock:    clk,
		ttl:      types.SearchContextTTL,
		identity: identity,
		timeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeFilters trims, deduplicates and sorts activity filters.
func NormalizeFilters(filters []string) []string {
	seen := make(map[string]struct{}, len(filters))
	out := make([]string, 0, len(filters))
	for _, f := range filters {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Set replaces the slot with a fresh context.
func (c *Cache) Set(ctx context.Context, city string, filters []string, bucket string) types.SearchContext {
	sc := types.SearchContext{
		City:            strings.TrimSpace(city),
		ActivityFilters: NormalizeFilters(filters),
		DurationBucket:  bucket,
		CreatedAt:       c.clock.Now(),
	}
	key := store.SearchContextKey(c.identity().SessionID)

	c.mu.Lock()
	err := store.SetJSON(c.store, key, sc)
	c.mu.Unlock()
	if err != nil {
		metrics.Get().PersistenceErrors.Add(ctx, 1)
		c.logger.WarnContext(ctx, "Failed to store search context", slog.Any("error", err))
	}
	if c.publisher != nil {
		c.publisher.Publish(ctx, notify.KindSearchContext, sc)
	}
	return sc
}

// IsValid reports whether a live context exists. An expired one is cleared.
func (c *Cache) IsValid(ctx context.Context) bool {
	return c.Get(ctx) != nil
}

// Get returns the live context, or nil when absent or expired.
func (c *Cache) Get(ctx context.Context) *types.SearchContext {
	key := store.SearchContextKey(c.identity().SessionID)

	c.mu.Lock()
	var sc types.SearchContext
	err := store.GetJSON(c.store, key, &sc)
	c.mu.Unlock()

	switch {
	case errors.Is(err, types.ErrNotFound):
		c.lookup(ctx, "miss")
		return nil
	case err != nil:
		c.logger.WarnContext(ctx, "Failed to read search context", slog.Any("error", err))
		c.lookup(ctx, "error")
		return nil
	case !sc.ValidAt(c.clock.Now(), c.ttl):
		c.lookup(ctx, "expired")
		c.Clear(ctx)
		return nil
	}
	c.lookup(ctx, "hit")
	return &sc
}

func (c *Cache) lookup(ctx context.Context, result string) {
	metrics.Get().SearchContextLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// Clear drops the context locally and asks the backend to do the same.
// Clearing an empty slot is a no-op locally.
func (c *Cache) Clear(ctx context.Context) {
	id := c.identity()
	key := store.SearchContextKey(id.SessionID)

	c.mu.Lock()
	_, getErr := c.store.Get(key)
	existed := getErr == nil
	if err := c.store.Delete(key); err != nil {
		c.logger.WarnContext(ctx, "Failed to clear search context", slog.Any("error", err))
	}
	c.mu.Unlock()

	if existed && c.publisher != nil {
		c.publisher.Publish(ctx, notify.KindSearchContext, nil)
	}
	c.invalidateRemote(ctx, id)
}

func (c *Cache) invalidateRemote(ctx context.Context, id types.Identity) {
	if c.remote == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		if err := c.remote.ClearSearchContext(rctx, id.WireValue(), id.SessionID); err != nil {
			c.logger.WarnContext(rctx, "Failed to invalidate remote search context", slog.Any("error", err))
		}
	}()
}

// Wait blocks until in-flight remote invalidations have finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// TTL is the configured lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }
