package itinerary

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/FACorreiaa/go-citytailor/app/observability/metrics"
	"github.com/FACorreiaa/go-citytailor/internal/clock"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

const defaultItineraryName = "My itinerary"

// RemoteWriter is the backend surface the AutoSaver writes through.
type RemoteWriter interface {
	Remote
	CreateItinerary(ctx context.Context, identity string, req types.CreateItineraryRequest) (types.RemoteItinerary, error)
	AddItineraryActivity(ctx context.Context, itineraryID string, item types.ItineraryItem) error
	DeleteItineraryActivity(ctx context.Context, itineraryID, name string) error
}

type pendingSave struct {
	identity types.Identity
	items    []types.ItineraryItem
}

// AutoSaver coalesces rapid itinerary mutations into one remote write after
// a quiet period. A newer Schedule replaces the pending one; a failed save is
// retried on the next cycle.
type AutoSaver struct {
	logger   *slog.Logger
	remote   RemoteWriter
	clock    clock.Clock
	debounce time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	timer   clock.Timer
	pending *pendingSave
	stopped bool

	saving sync.Mutex
}

func NewAutoSaver(remote RemoteWriter, clk clock.Clock, debounce, timeout time.Duration, logger *slog.Logger) *AutoSaver {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AutoSaver{
		logger:   logger.With(slog.String("component", "autosave")),
		remote:   remote,
		clock:    clk,
		debounce: debounce,
		timeout:  timeout,
	}
}

// Schedule arms the debounce timer for items. Anonymous identities have no
// remote itinerary and are ignored.
func (a *AutoSaver) Schedule(identity types.Identity, items []types.ItineraryItem) {
	if !identity.IsAuthenticated() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.pending = &pendingSave{identity: identity, items: append([]types.ItineraryItem(nil), items...)}
	a.armLocked()
}

func (a *AutoSaver) armLocked() {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = a.clock.AfterFunc(a.debounce, a.fire)
}

func (a *AutoSaver) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	_ = a.Flush(ctx)
}

// Flush saves the pending list now, if any.
func (a *AutoSaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	p := a.pending
	a.pending = nil
	a.mu.Unlock()
	if p == nil {
		return nil
	}

	a.saving.Lock()
	err := a.save(ctx, *p)
	a.saving.Unlock()

	outcome := "ok"
	if err != nil {
		outcome = "error"
		a.logger.WarnContext(ctx, "Itinerary autosave failed, retrying", slog.Any("error", err))
		a.mu.Lock()
		if a.pending == nil && !a.stopped {
			a.pending = p
			a.armLocked()
		}
		a.mu.Unlock()
	}
	metrics.Get().ItineraryAutoSaves.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return err
}

// save makes the account's itineraries agree with the pending list. Names
// that were removed locally are deleted from every remote itinerary, and the
// first itinerary is rewritten from the first position where its order
// differs. An account without itineraries gets one.
func (a *AutoSaver) save(ctx context.Context, p pendingSave) error {
	owner := p.identity.WireValue()
	lists, err := a.remote.ListItineraries(ctx, owner)
	if err != nil {
		return fmt.Errorf("failed to list itineraries: %w", err)
	}

	if len(lists) == 0 {
		city := ""
		if len(p.items) > 0 {
			city = p.items[0].City
		}
		target, err := a.remote.CreateItinerary(ctx, owner, types.CreateItineraryRequest{Name: defaultItineraryName, City: city})
		if err != nil {
			return fmt.Errorf("failed to create itinerary: %w", err)
		}
		if err := a.addAll(ctx, target.ID, p.items); err != nil {
			return err
		}
		a.logger.DebugContext(ctx, "Itinerary created", slog.String("itinerary_id", target.ID), slog.Int("added", len(p.items)))
		return nil
	}

	wanted := make(map[string]struct{}, len(p.items))
	for _, it := range p.items {
		wanted[it.Name] = struct{}{}
	}

	var kept []types.ItineraryItem
	deleted := 0
	for i, list := range lists {
		existing, err := a.remote.ItineraryActivities(ctx, list.ID)
		if err != nil {
			return fmt.Errorf("failed to load itinerary %s: %w", list.ID, err)
		}
		for _, it := range existing {
			if _, ok := wanted[it.Name]; ok {
				if i == 0 {
					kept = append(kept, it)
				}
				continue
			}
			if err := a.remote.DeleteItineraryActivity(ctx, list.ID, it.Name); err != nil {
				return fmt.Errorf("failed to delete %q: %w", it.Name, err)
			}
			deleted++
		}
	}

	target := lists[0]
	prefix := 0
	for prefix < len(kept) && prefix < len(p.items) && kept[prefix].Name == p.items[prefix].Name {
		prefix++
	}
	for _, it := range kept[prefix:] {
		if err := a.remote.DeleteItineraryActivity(ctx, target.ID, it.Name); err != nil {
			return fmt.Errorf("failed to delete %q: %w", it.Name, err)
		}
	}
	if err := a.addAll(ctx, target.ID, p.items[prefix:]); err != nil {
		return err
	}

	a.logger.DebugContext(ctx, "Itinerary saved",
		slog.String("itinerary_id", target.ID),
		slog.Int("deleted", deleted),
		slog.Int("rewritten", len(p.items)-prefix))
	return nil
}

func (a *AutoSaver) addAll(ctx context.Context, itineraryID string, items []types.ItineraryItem) error {
	for _, it := range items {
		if err := a.remote.AddItineraryActivity(ctx, itineraryID, it); err != nil {
			return fmt.Errorf("failed to add %q: %w", it.Name, err)
		}
	}
	return nil
}

// Stop cancels the pending save and ignores later schedules.
func (a *AutoSaver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	a.pending = nil
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
