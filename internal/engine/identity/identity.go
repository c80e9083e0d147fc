// Package identity resolves who is acting: an anonymous session or an
// authenticated account.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/FACorreiaa/go-citytailor/internal/engine/notify"
	"github.com/FACorreiaa/go-citytailor/internal/store"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

const sessionPrefix = "sess_"

// Strategy is one named source of an account id. Strategies are probed in
// order and the first one yielding a usable value wins.
type Strategy struct {
	Name    string
	Resolve func() (string, error)
}

// Migrator moves anonymous data into an account after login.
type Migrator interface {
	Run(ctx context.Context, from, to types.Identity) (types.MigrationResult, error)
}

// Resolver is safe for concurrent use.
type Resolver struct {
	logger     *slog.Logger
	persistent store.Store
	ephemeral  store.Store
	publisher  notify.Publisher
	migrator   Migrator
	injected   func() string

	mu         sync.Mutex
	current    types.Identity
	resolved   bool
	sessionID  string
	strategies []Strategy

	migrations sync.WaitGroup
}

type Option func(*Resolver)

// WithInjected registers a host-provided identity context, probed first.
func WithInjected(f func() string) Option { return func(r *Resolver) { r.injected = f } }

func WithPublisher(p notify.Publisher) Option { return func(r *Resolver) { r.publisher = p } }

func WithMigrator(m Migrator) Option { return func(r *Resolver) { r.migrator = m } }

func New(persistent, ephemeral store.Store, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		logger:     logger.With(slog.String("component", "identity")),
		persistent: persistent,
		ephemeral:  ephemeral,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.strategies = r.defaultStrategies()
	return r
}

func (r *Resolver) defaultStrategies() []Strategy {
	var out []Strategy
	if r.injected != nil {
		out = append(out, Strategy{Name: "injected", Resolve: func() (string, error) { return r.injected(), nil }})
	}
	return append(out,
		Strategy{Name: "account-current", Resolve: func() (string, error) {
			return store.GetString(r.persistent, store.KeyAccountCurrent)
		}},
		Strategy{Name: "account-token", Resolve: func() (string, error) {
			token, err := store.GetString(r.persistent, store.KeyAccountToken)
			if err != nil || strings.TrimSpace(token) == "" {
				return "", err
			}
			return store.GetString(r.persistent, store.KeyAccountID)
		}},
		Strategy{Name: "session-account", Resolve: func() (string, error) {
			return store.GetString(r.ephemeral, store.KeySessionAccount)
		}},
	)
}

// Strategies lists the probe order by name.
func (r *Resolver) Strategies() []string {
	names := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		names[i] = s.Name
	}
	return names
}

// IsSentinel reports whether v is a placeholder rather than an account id.
func IsSentinel(v string) bool {
	switch strings.TrimSpace(v) {
	case "", "null", "undefined", types.AnonymousIdentityValue:
		return true
	}
	return false
}

// Current returns the cached identity, resolving it on first use.
func (r *Resolver) Current() types.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.resolved {
		r.current = r.resolveLocked(context.Background())
		r.resolved = true
	}
	return r.current
}

// Refresh re-runs resolution. An authenticated identity is kept when
// resolution falls back to anonymous; only SetIdentity("") or Resync
// downgrade it.
func (r *Resolver) Refresh(ctx context.Context) types.Identity {
	return r.refresh(ctx, false)
}

// Resync is Refresh in reaction to another tab's identity change, which may
// be an explicit logout.
func (r *Resolver) Resync(ctx context.Context) types.Identity {
	return r.refresh(ctx, true)
}

func (r *Resolver) refresh(ctx context.Context, allowDowngrade bool) types.Identity {
	r.mu.Lock()
	old := r.current
	wasResolved := r.resolved
	next := r.resolveLocked(ctx)
	if wasResolved && old.IsAuthenticated() && !next.IsAuthenticated() && !allowDowngrade {
		r.mu.Unlock()
		r.logger.DebugContext(ctx, "Keeping authenticated identity", slog.String("identity", old.Key()))
		return old
	}
	r.current = next
	r.resolved = true
	r.mu.Unlock()

	if wasResolved && old != next {
		r.changed(ctx, old, next)
	}
	return next
}

func (r *Resolver) resolveLocked(ctx context.Context) types.Identity {
	sid := r.sessionIDLocked(ctx)
	for _, s := range r.strategies {
		v, err := s.Resolve()
		if err != nil {
			r.logger.WarnContext(ctx, "Identity strategy failed", slog.String("strategy", s.Name), slog.Any("error", err))
			continue
		}
		if IsSentinel(v) {
			continue
		}
		return types.Authenticated(strings.TrimSpace(v), sid)
	}
	return types.Anonymous(sid)
}

// SessionID returns this session's id, creating it when absent.
func (r *Resolver) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionIDLocked(context.Background())
}

func (r *Resolver) sessionIDLocked(ctx context.Context) string {
	if r.sessionID != "" {
		return r.sessionID
	}
	sid, err := store.GetString(r.ephemeral, store.KeySessionID)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to read session id", slog.Any("error", err))
	}
	if sid == "" {
		sid = sessionPrefix + uuid.NewString()
		if err := store.SetString(r.ephemeral, store.KeySessionID, sid); err != nil {
			r.logger.WarnContext(ctx, "Failed to persist session id", slog.Any("error", err))
		}
	}
	r.sessionID = sid
	return sid
}

// SetIdentity authoritatively sets the account id. An empty id logs out and
// removes every account record. The first anonymous to account transition
// schedules the migrator.
func (r *Resolver) SetIdentity(ctx context.Context, userID string) types.Identity {
	l := r.logger.With(slog.String("method", "SetIdentity"))

	r.mu.Lock()
	if !r.resolved {
		r.current = r.resolveLocked(ctx)
		r.resolved = true
	}
	old := r.current
	sid := r.sessionIDLocked(ctx)

	var next types.Identity
	if IsSentinel(userID) {
		for _, key := range []string{store.KeyAccountCurrent, store.KeyAccountID, store.KeyAccountToken} {
			if err := r.persistent.Delete(key); err != nil {
				l.WarnContext(ctx, "Failed to remove account record", slog.String("key", key), slog.Any("error", err))
			}
		}
		if err := r.ephemeral.Delete(store.KeySessionAccount); err != nil {
			l.WarnContext(ctx, "Failed to remove session account", slog.Any("error", err))
		}
		next = types.Anonymous(sid)
	} else {
		userID = strings.TrimSpace(userID)
		if err := store.SetString(r.persistent, store.KeyAccountCurrent, userID); err != nil {
			l.WarnContext(ctx, "Failed to persist account id", slog.Any("error", err))
		}
		next = types.Authenticated(userID, sid)
	}
	r.current = next
	r.mu.Unlock()

	if old == next {
		return next
	}
	l.InfoContext(ctx, "Identity changed", slog.String("from", old.Key()), slog.String("to", next.Key()))
	r.changed(ctx, old, next)

	if !old.IsAuthenticated() && next.IsAuthenticated() {
		r.scheduleMigration(ctx, old, next)
	}
	return next
}

func (r *Resolver) changed(ctx context.Context, old, next types.Identity) {
	if r.publisher != nil {
		r.publisher.Publish(ctx, notify.KindIdentity, types.IdentityChanged{Old: old, New: next})
	}
}

func (r *Resolver) scheduleMigration(ctx context.Context, from, to types.Identity) {
	if r.migrator == nil {
		return
	}
	r.migrations.Add(1)
	go func() {
		defer r.migrations.Done()
		mctx := context.WithoutCancel(ctx)
		res, err := r.migrator.Run(mctx, from, to)
		switch {
		case errors.Is(err, types.ErrMigrationInProgress):
			r.logger.DebugContext(mctx, "Migration already running")
		case err != nil:
			r.logger.WarnContext(mctx, "Migration left pending", slog.Any("error", err))
		default:
			r.logger.InfoContext(mctx, "Migration finished",
				slog.Bool("skipped", res.Skipped),
				slog.Int("events_imported", res.EventsImported))
		}
	}()
}

// WaitMigrations blocks until scheduled migrations have returned.
func (r *Resolver) WaitMigrations() {
	r.migrations.Wait()
}
