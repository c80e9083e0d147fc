// Package ledger keeps the append-only interaction log of one identity tier
// together with its incrementally maintained aggregate.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/FACorreiaa/go-citytailor/app/observability/metrics"
	"github.com/FACorreiaa/go-citytailor/internal/clock"
	"github.com/FACorreiaa/go-citytailor/internal/engine/notify"
	"github.com/FACorreiaa/go-citytailor/internal/store"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)


// Config bounds the retained history.
type Config struct {
	// MaxSearchEvents is how many search events are kept verbatim.
	MaxSearchEvents int
	// MaxEvents caps the whole retained log.
	MaxEvents int
	// Strict panics on aggregate drift instead of repairing it. Development only.
	Strict bool
	// MirrorTimeout bounds best-effort remote mirroring of each event.
	MirrorTimeout time.Duration
	// MaxEvictedIDs is how many evicted ids are remembered for duplicate
	// detection. Older ones are summarised by a timestamp horizon.
	MaxEvictedIDs int
}

func DefaultConfig() Config {
	return Config{
		MaxSearchEvents: 50,
		MaxEvents:       200,
		MirrorTimeout:   10 * time.Second,
		MaxEvictedIDs:   1000,
	}
}

// Mirror forwards recorded events to the backend.
type Mirror interface {
	MirrorEvent(ctx context.Context, event types.InteractionEvent) error
}

// LedgerChanged is the notification payload published after each mutation.
type LedgerChanged struct {
	IdentityKey string `json:"identity_key"`
	EventCount  int    `json:"event_count"`
}

// baseline holds what evicted events contributed, so the aggregate stays
// recomputable after the verbatim log has been trimmed. Horizon is the
// newest timestamp among evicted events whose ids were forgotten.
type baseline struct {
	Aggregate  types.ActivityAggregate `json:"aggregate"`
	EvictedIDs []string                `json:"evicted_ids"`
	Horizon    time.Time               `json:"horizon,omitempty"`
}

// Export is a ledger's full content, used to move it to another tier.
type Export struct {
	Identity   types.Identity
	Events     []types.InteractionEvent
	Baseline   types.ActivityAggregate
	EvictedIDs []string
}

// Ledger is safe for concurrent use. Record never fails from the caller's
// point of view: storage errors are logged and the event only lives in memory.
type Ledger struct {
	logger    *slog.Logger
	store     store.Store
	clock     clock.Clock
	identity  types.Identity
	cfg       Config
	publisher notify.Publisher
	mirror    Mirror

	mu        sync.Mutex
	loaded    bool
	aggregate types.ActivityAggregate
	base      baseline
	events    []types.InteractionEvent
	seen      map[string]struct{}
	searches  int
	evictedAt map[string]time.Time

	mirrors sync.WaitGroup
}

type Option func(*Ledger)

func WithPublisher(p notify.Publisher) Option { return func(l *Ledger) { l.publisher = p } }

func WithMirror(m Mirror) Option { return func(l *Ledger) { l.mirror = m } }

// New returns the ledger of identity's tier. Data is loaded lazily.
func New(s store.Store, identity types.Identity, clk clock.Clock, cfg Config, logger *slog.Logger, opts ...Option) *Ledger {
	if cfg.MaxSearchEvents <= 0 {
		cfg.MaxSearchEvents = DefaultConfig().MaxSearchEvents
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultConfig().MaxEvents
	}
	if cfg.MirrorTimeout <= 0 {
		cfg.MirrorTimeout = DefaultConfig().MirrorTimeout
	}
	if cfg.MaxEvictedIDs <= 0 {
		cfg.MaxEvictedIDs = DefaultConfig().MaxEvictedIDs
	}
	l := &Ledger{
		logger:   logger.With(slog.String("component", "ledger"), slog.String("identity", identity.Key())),
		store:    s,
		clock:    clk,
		identity: identity,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Identity() types.Identity { return l.identity }

// Record appends event. Missing id, timestamp, identity and session are
// filled in; an event whose id was already recorded is dropped.
func (l *Ledger) Record(ctx context.Context, event types.InteractionEvent) {
	m := metrics.Get()
	lg := l.logger.With(slog.String("method", "Record"))

	if !event.Type.Valid() {
		lg.WarnContext(ctx, "Dropping event with unknown type", slog.String("type", string(event.Type)))
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.clock.Now()
	}
	if event.DurationSeconds < 0 {
		event.DurationSeconds = 0
	}
	event.Identity = l.identity
	if event.SessionID == "" {
		event.SessionID = l.identity.SessionID
	}

	l.mu.Lock()
	l.syncLocked(ctx)
	if _, dup := l.seen[event.ID]; dup {
		l.mu.Unlock()
		lg.DebugContext(ctx, "Dropping duplicate event", slog.String("event_id", event.ID))
		m.DuplicateEvents.Add(ctx, 1)
		return
	}
	l.appendLocked(event)
	l.persistLocked(ctx)
	count := l.aggregate.EventCount
	l.mu.Unlock()

	m.EventsRecorded.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(event.Type))))
	lg.DebugContext(ctx, "Event recorded", slog.String("event_id", event.ID), slog.String("type", string(event.Type)))

	if l.publisher != nil {
		l.publisher.Publish(ctx, notify.KindLedger, LedgerChanged{IdentityKey: l.identity.Key(), EventCount: count})
	}
	l.mirrorAsync(ctx, event)
}

func (l *Ledger) mirrorAsync(ctx context.Context, event types.InteractionEvent) {
	if l.mirror == nil {
		return
	}
	l.mirrors.Add(1)
	go func() {
		defer l.mirrors.Done()
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.MirrorTimeout)
		defer cancel()
		if err := l.mirror.MirrorEvent(mctx, event); err != nil {
			l.logger.WarnContext(mctx, "Failed to mirror event to backend",
				slog.String("event_id", event.ID), slog.Any("error", err))
		}
	}()
}

// Wait blocks until in-flight mirror calls have finished.
func (l *Ledger) Wait() {
	l.mirrors.Wait()
}

// Snapshot returns a copy of the current aggregate.
func (l *Ledger) Snapshot() types.ActivityAggregate {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLoaded(context.Background())
	return l.aggregate.Clone()
}

// Events returns a copy of the retained log, oldest first.
func (l *Ledger) Events() []types.InteractionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLoaded(context.Background())
	out := make([]types.InteractionEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Recompute rebuilds the aggregate from the baseline and the retained log.
func (l *Ledger) Recompute() types.ActivityAggregate {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLoaded(context.Background())
	return l.recomputeLocked()
}

func (l *Ledger) recomputeLocked() types.ActivityAggregate {
	agg := l.base.Aggregate.Clone()
	for _, e := range l.events {
		apply(&agg, e)
	}
	return agg
}

// Verify checks the incremental aggregate against a recomputation and
// replaces it on drift. It reports whether a repair happened.
func (l *Ledger) Verify(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLoaded(ctx)
	return l.repairLocked(ctx)
}

func (l *Ledger) repairLocked(ctx context.Context) bool {
	recomputed := l.recomputeLocked()
	err := validate(l.aggregate)
	if err == nil && Equal(recomputed, l.aggregate) {
		return false
	}
	if err == nil {
		err = fmt.Errorf("%w: aggregate drifted from event log", types.ErrInvariantViolation)
	}
	if l.cfg.Strict {
		panic(err)
	}
	l.logger.ErrorContext(ctx, "Aggregate re-normalized from event log", slog.Any("error", err))
	metrics.Get().AggregateRepairs.Add(ctx, 1)
	l.aggregate = recomputed
	l.persistLocked(ctx)
	return true
}

// Reload forgets cached state so the next call re-reads the store. Called
// when another tab reports a change.
func (l *Ledger) Reload() {
	l.mu.Lock()
	l.loaded = false
	l.mu.Unlock()
}

// Clear wipes the log, baseline and aggregate.
func (l *Ledger) Clear(ctx context.Context) {
	l.mu.Lock()
	l.reset()
	l.loaded = true
	k := l.identity.Key()
	for _, key := range []string{store.EventLogKey(k), store.AggregateKey(k), store.BaselineKey(k)} {
		if err := l.store.Delete(key); err != nil {
			l.persistFailed(ctx, key, err)
		}
	}
	l.mu.Unlock()

	if l.publisher != nil {
		l.publisher.Publish(ctx, notify.KindLedger, LedgerChanged{IdentityKey: k})
	}
}

// Export returns everything needed to move this ledger to another tier.
func (l *Ledger) Export() Export {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLoaded(context.Background())
	events := make([]types.InteractionEvent, len(l.events))
	copy(events, l.events)
	return Export{
		Identity:   l.identity,
		Events:     events,
		Baseline:   l.base.Aggregate.Clone(),
		EvictedIDs: append([]string(nil), l.base.EvictedIDs...),
	}
}

// Absorb imports another tier's content into this ledger. Events keep their
// ids so anything already present is skipped; the foreign baseline is added
// only when none of its evicted ids is known here.
func (l *Ledger) Absorb(ctx context.Context, exp Export) (imported int, baselineTransferred bool) {
	l.mu.Lock()
	l.syncLocked(ctx)

	if exp.Baseline.EventCount > 0 && !l.anySeenLocked(exp.EvictedIDs) {
		add(&l.base.Aggregate, exp.Baseline)
		add(&l.aggregate, exp.Baseline)
		for _, id := range exp.EvictedIDs {
			l.seen[id] = struct{}{}
			l.rememberEvictedLocked(id, exp.Baseline.LastActivity)
		}
		baselineTransferred = true
	}
	for _, e := range exp.Events {
		if _, dup := l.seen[e.ID]; dup || e.ID == "" {
			continue
		}
		if l.forgottenLocked(e) {
			l.logger.DebugContext(ctx, "Dropping replay older than the evicted horizon", slog.String("event_id", e.ID))
			continue
		}
		e.Identity = l.identity
		l.appendLocked(e)
		imported++
	}
	if imported > 0 || baselineTransferred {
		l.persistLocked(ctx)
	}
	count := l.aggregate.EventCount
	l.mu.Unlock()

	if l.publisher != nil && (imported > 0 || baselineTransferred) {
		l.publisher.Publish(ctx, notify.KindLedger, LedgerChanged{IdentityKey: l.identity.Key(), EventCount: count})
	}
	return imported, baselineTransferred
}

// Import appends foreign events, skipping ids already recorded here. An
// event of this tier at or before the horizon is a replay of a forgotten
// eviction and is skipped too.
func (l *Ledger) Import(ctx context.Context, events []types.InteractionEvent) int {
	imported, _ := l.Absorb(ctx, Export{Events: events})
	return imported
}

func (l *Ledger) anySeenLocked(ids []string) bool {
	for _, id := range ids {
		if _, ok := l.seen[id]; ok {
			return true
		}
	}
	return false
}

func (l *Ledger) forgottenLocked(e types.InteractionEvent) bool {
	if l.base.Horizon.IsZero() || e.Identity.Key() != l.identity.Key() {
		return false
	}
	return !e.Timestamp.After(l.base.Horizon)
}

// appendLocked applies e, appends it and evicts beyond the retention caps.
func (l *Ledger) appendLocked(e types.InteractionEvent) {
	apply(&l.aggregate, e)
	l.events = append(l.events, e)
	l.seen[e.ID] = struct{}{}
	if e.Type == types.EventSearch {
		l.searches++
	}
	l.trimLocked()
}

// trimLocked evicts the oldest searches, then the oldest events, until the
// retention caps hold.
func (l *Ledger) trimLocked() {
	for l.searches > l.cfg.MaxSearchEvents {
		i := l.oldestSearchLocked()
		if i < 0 {
			l.searches = 0
			break
		}
		l.evictLocked(i)
	}
	for len(l.events) > l.cfg.MaxEvents {
		l.evictLocked(0)
	}
}

func (l *Ledger) oldestSearchLocked() int {
	for i, ev := range l.events {
		if ev.Type == types.EventSearch {
			return i
		}
	}
	return -1
}

func (l *Ledger) evictLocked(i int) {
	ev := l.events[i]
	apply(&l.base.Aggregate, ev)
	l.rememberEvictedLocked(ev.ID, ev.Timestamp)
	if ev.Type == types.EventSearch {
		l.searches--
	}
	l.events = append(l.events[:i], l.events[i+1:]...)
}

// rememberEvictedLocked keeps the last MaxEvictedIDs evicted ids. Forgotten
// ids advance the horizon to their eviction timestamp.
func (l *Ledger) rememberEvictedLocked(id string, ts time.Time) {
	l.base.EvictedIDs = append(l.base.EvictedIDs, id)
	l.evictedAt[id] = ts
	over := len(l.base.EvictedIDs) - l.cfg.MaxEvictedIDs
	if over <= 0 {
		return
	}
	for _, old := range l.base.EvictedIDs[:over] {
		if at := l.evictedAt[old]; at.After(l.base.Horizon) {
			l.base.Horizon = at
		}
		delete(l.evictedAt, old)
	}
	l.base.EvictedIDs = append([]string(nil), l.base.EvictedIDs[over:]...)
}

func (l *Ledger) countSearchesLocked() {
	l.searches = 0
	for _, e := range l.events {
		if e.Type == types.EventSearch {
			l.searches++
		}
	}
}

func (l *Ledger) reset() {
	l.aggregate = types.NewActivityAggregate()
	l.base = baseline{Aggregate: types.NewActivityAggregate()}
	l.events = nil
	l.seen = make(map[string]struct{})
	l.searches = 0
	l.evictedAt = make(map[string]time.Time)
}

func (l *Ledger) ensureLoaded(ctx context.Context) {
	if l.loaded {
		return
	}
	l.loaded = true
	l.reset()
	k := l.identity.Key()

	if err := store.GetJSON(l.store, store.EventLogKey(k), &l.events); err != nil && !errors.Is(err, types.ErrNotFound) {
		l.persistFailed(ctx, store.EventLogKey(k), err)
		l.events = nil
	}
	if err := store.GetJSON(l.store, store.BaselineKey(k), &l.base); err != nil && !errors.Is(err, types.ErrNotFound) {
		l.persistFailed(ctx, store.BaselineKey(k), err)
		l.base = baseline{}
	}
	l.base.Aggregate.Normalize()

	hasAggregate := true
	if err := store.GetJSON(l.store, store.AggregateKey(k), &l.aggregate); err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			l.persistFailed(ctx, store.AggregateKey(k), err)
		}
		hasAggregate = false
	}
	l.aggregate.Normalize()

	for _, e := range l.events {
		l.seen[e.ID] = struct{}{}
	}
	for _, id := range l.base.EvictedIDs {
		l.seen[id] = struct{}{}
		l.evictedAt[id] = l.base.Aggregate.LastActivity
	}
	l.countSearchesLocked()

	if !hasAggregate {
		l.aggregate = l.recomputeLocked()
		return
	}
	l.repairLocked(ctx)
}

// syncLocked folds in what other instances sharing the store persisted since
// this one last read it. Logs are united by event id; the baseline that has
// absorbed more evictions wins.
func (l *Ledger) syncLocked(ctx context.Context) {
	if !l.loaded {
		l.ensureLoaded(ctx)
		return
	}
	k := l.identity.Key()
	var stored []types.InteractionEvent
	if err := store.GetJSON(l.store, store.EventLogKey(k), &stored); err != nil && !errors.Is(err, types.ErrNotFound) {
		l.persistFailed(ctx, store.EventLogKey(k), err)
		return
	}
	var base baseline
	if err := store.GetJSON(l.store, store.BaselineKey(k), &base); err != nil && !errors.Is(err, types.ErrNotFound) {
		l.persistFailed(ctx, store.BaselineKey(k), err)
		return
	}

	swapped := false
	if base.Aggregate.EventCount > l.base.Aggregate.EventCount {
		base.Aggregate.Normalize()
		l.base = base
		for _, id := range base.EvictedIDs {
			l.seen[id] = struct{}{}
			if _, ok := l.evictedAt[id]; !ok {
				l.evictedAt[id] = base.Aggregate.LastActivity
			}
		}
		swapped = true
	}
	evicted := make(map[string]struct{}, len(l.base.EvictedIDs))
	for _, id := range l.base.EvictedIDs {
		evicted[id] = struct{}{}
	}

	merged := make([]types.InteractionEvent, 0, len(stored)+len(l.events))
	ids := make(map[string]struct{}, len(stored)+len(l.events))
	for _, e := range append(stored, l.events...) {
		if _, ok := evicted[e.ID]; ok {
			continue
		}
		if _, ok := ids[e.ID]; ok {
			continue
		}
		ids[e.ID] = struct{}{}
		merged = append(merged, e)
	}
	if !swapped && len(merged) == len(l.events) {
		return
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Timestamp.Before(merged[j].Timestamp) })
	l.events = merged
	for id := range ids {
		l.seen[id] = struct{}{}
	}
	l.countSearchesLocked()
	l.trimLocked()
	l.aggregate = l.recomputeLocked()
	l.logger.DebugContext(ctx, "Merged events persisted by another instance", slog.Int("events", len(merged)))
}

func (l *Ledger) persistLocked(ctx context.Context) {
	k := l.identity.Key()
	writes := []struct {
		key   string
		value any
	}{
		{store.EventLogKey(k), l.events},
		{store.BaselineKey(k), l.base},
		{store.AggregateKey(k), l.aggregate},
	}
	for _, w := range writes {
		if err := store.SetJSON(l.store, w.key, w.value); err != nil {
			l.persistFailed(ctx, w.key, err)
		}
	}
}

func (l *Ledger) persistFailed(ctx context.Context, key string, err error) {
	metrics.Get().PersistenceErrors.Add(ctx, 1)
	l.logger.ErrorContext(ctx, "Ledger persistence failed", slog.String("key", key), slog.Any("error", err))
}
