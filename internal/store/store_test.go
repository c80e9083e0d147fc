package store

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-citytailor/internal/types"
)

func newTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenInMemory(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testStoreContract(t *testing.T, s Store) {
	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get("nope")
		assert.ErrorIs(t, err, types.ErrNotFound)

		v, err := GetString(s, "nope")
		require.NoError(t, err)
		assert.Empty(t, v)
	})

	t.Run("set get delete", func(t *testing.T) {
		require.NoError(t, SetString(s, KeyAccountCurrent, "user_42"))
		v, err := GetString(s, KeyAccountCurrent)
		require.NoError(t, err)
		assert.Equal(t, "user_42", v)

		require.NoError(t, s.Delete(KeyAccountCurrent))
		require.NoError(t, s.Delete(KeyAccountCurrent), "deleting twice is a no-op")
		_, err = s.Get(KeyAccountCurrent)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("json round trip", func(t *testing.T) {
		in := types.SearchContext{City: "Rome", ActivityFilters: []string{"Cultural"}, DurationBucket: "2-4h"}
		require.NoError(t, SetJSON(s, SearchContextKey("sess_1"), in))

		var out types.SearchContext
		require.NoError(t, GetJSON(s, SearchContextKey("sess_1"), &out))
		assert.Equal(t, in.City, out.City)
		assert.Equal(t, in.ActivityFilters, out.ActivityFilters)
	})

	t.Run("corrupt json", func(t *testing.T) {
		require.NoError(t, s.Set("bad", []byte("{not json")))
		var out types.SearchContext
		err := GetJSON(s, "bad", &out)
		assert.ErrorIs(t, err, types.ErrPersistence)
	})

	t.Run("keys by prefix", func(t *testing.T) {
		require.NoError(t, SetString(s, FavoritesKey("anon:a"), "[]"))
		require.NoError(t, SetString(s, FavoritesKey("user:b"), "[]"))
		require.NoError(t, SetString(s, ItineraryKey("user:b"), "[]"))

		keys, err := s.Keys("favorites.")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"favorites.anon:a", "favorites.user:b"}, keys)
	})

	t.Run("returned bytes are copies", func(t *testing.T) {
		require.NoError(t, s.Set("copy", []byte("abc")))
		v, err := s.Get("copy")
		require.NoError(t, err)
		v[0] = 'z'
		again, err := s.Get("copy")
		require.NoError(t, err)
		assert.Equal(t, "abc", string(again))
	})
}

func TestBadgerStore(t *testing.T) {
	testStoreContract(t, newTestBadger(t))
}

func TestEphemeralStore(t *testing.T) {
	s := NewEphemeralStore()
	testStoreContract(t, s)

	t.Run("reset ends the session", func(t *testing.T) {
		require.NoError(t, SetString(s, KeySessionID, "sess_1"))
		s.Reset()
		_, err := s.Get(KeySessionID)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func TestBadgerStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := OpenBadger(dir, logger)
	require.NoError(t, err)
	require.NoError(t, SetString(s, KeyAccountCurrent, "user_42"))
	require.NoError(t, s.Close())

	s, err = OpenBadger(dir, logger)
	require.NoError(t, err)
	defer s.Close()
	v, err := GetString(s, KeyAccountCurrent)
	require.NoError(t, err)
	assert.Equal(t, "user_42", v)
}
