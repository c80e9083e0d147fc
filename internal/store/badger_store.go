package store

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/FACorreiaa/go-citytailor/internal/types"
)

var _ Store = (*BadgerStore)(nil)

// BadgerStore is the durable per-device store.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenBadger opens (or creates) the store at dir.
func OpenBadger(dir string, logger *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.ERROR)
	return openBadger(opts, logger)
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory(logger *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.ERROR)
	return openBadger(opts, logger)
}

func openBadger(opts badger.Options, logger *slog.Logger) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger: %w", types.ErrPersistence, err)
	}
	logger.Info("Persistent store opened", slog.String("dir", opts.Dir), slog.Bool("in_memory", opts.InMemory))
	return &BadgerStore{db: db, logger: logger}, nil
}

func (s *BadgerStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %q: %w", types.ErrPersistence, key, err)
	}
	return value, nil
}

func (s *BadgerStore) Set(key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("%w: set %q: %w", types.ErrPersistence, key, err)
	}
	return nil
}

// Delete is a no-op for missing keys.
func (s *BadgerStore) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("%w: delete %q: %w", types.ErrPersistence, key, err)
	}
	return nil
}

func (s *BadgerStore) Keys(prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list %q: %w", types.ErrPersistence, prefix, err)
	}
	return keys, nil
}

func (s *BadgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close persistent store", slog.Any("error", err))
		return fmt.Errorf("%w: close badger: %w", types.ErrPersistence, err)
	}
	return nil
}
