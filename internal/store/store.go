// Package store holds the two key/value tiers the engine persists to: a
// durable per-device store and an ephemeral per-tab store. Every mutation is a
// single-key write; callers must not assume multi-key atomicity.
package store

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/FACorreiaa/go-citytailor/internal/types"
)

// Store is a flat key/value store. Get returns types.ErrNotFound for missing
// keys; every other failure wraps types.ErrPersistence.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)
}

// Well-known keys.
const (
	KeyAccountCurrent = "account.current"
	KeyAccountID      = "account.id"
	KeyAccountToken   = "account.token"
	KeySessionID      = "session.id"
	KeySessionAccount = "session.account"
)

func AggregateKey(identityKey string) string { return "activity.aggregate." + identityKey }
func EventLogKey(identityKey string) string  { return "activity.eventLog." + identityKey }
func BaselineKey(identityKey string) string  { return "activity.baseline." + identityKey }
func SearchContextKey(sessionID string) string {
	return "searchContext." + sessionID
}
func ItineraryKey(identityKey string) string { return "itinerary.pending." + identityKey }
func FavoritesKey(identityKey string) string { return "favorites." + identityKey }
func MigrationKey(sessionID string) string   { return "migration." + sessionID }

// GetJSON decodes the value at key into v.
func GetJSON(s Store, key string, v any) error {
	raw, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: decode %q: %w", types.ErrPersistence, key, err)
	}
	return nil
}

// SetJSON encodes v and writes it at key.
func SetJSON(s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %q: %w", types.ErrPersistence, key, err)
	}
	return s.Set(key, raw)
}

// GetString returns the value at key, or "" when it is absent.
func GetString(s Store, key string) (string, error) {
	raw, err := s.Get(key)
	if errors.Is(err, types.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func SetString(s Store, key, value string) error {
	return s.Set(key, []byte(value))
}
