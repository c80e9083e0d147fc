package store

import (
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/FACorreiaa/go-citytailor/internal/types"
)

var _ Store = (*EphemeralStore)(nil)

// EphemeralStore is the per-tab session store. Its content is dropped by
// Reset, which models the end of a tab session.
type EphemeralStore struct {
	cache *cache.Cache
}

func NewEphemeralStore() *EphemeralStore {
	return &EphemeralStore{cache: cache.New(cache.NoExpiration, 10*time.Minute)}
}

func (s *EphemeralStore) Get(key string) ([]byte, error) {
	v, found := s.cache.Get(key)
	if !found {
		return nil, types.ErrNotFound
	}
	raw := v.([]byte)
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (s *EphemeralStore) Set(key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	s.cache.Set(key, stored, cache.NoExpiration)
	return nil
}

func (s *EphemeralStore) Delete(key string) error {
	s.cache.Delete(key)
	return nil
}

func (s *EphemeralStore) Keys(prefix string) ([]string, error) {
	var keys []string
	for k := range s.cache.Items() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Reset ends the session.
func (s *EphemeralStore) Reset() {
	s.cache.Flush()
}
