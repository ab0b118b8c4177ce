package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	badgerstore "example.com/edgeagent/internal/storage/badger"
)

const (
	storeMarkerPrefix = "cache-store/"
	entryPrefix       = "cache-entry/"
)

// BadgerStore persists cache stores in an embedded BadgerDB. Each store is a
// marker key plus one key per entry under "cache-entry/<name>\x00".
type BadgerStore struct {
	db *badgerstore.DB
}

// NewBadgerStore wraps an open database. Close does not close db; its owner does.
func NewBadgerStore(db *badgerstore.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func markerKey(name string) []byte {
	return []byte(storeMarkerPrefix + name)
}

func entriesPrefix(name string) []byte {
	return []byte(entryPrefix + name + "\x00")
}

func entryKey(name, key string) []byte {
	return append(entriesPrefix(name), key...)
}

// Open implements Store.
func (s *BadgerStore) Open(ctx context.Context, name string) error {
	return s.db.Set(ctx, markerKey(name), []byte{1})
}

// Names implements Store.
func (s *BadgerStore) Names(ctx context.Context) ([]string, error) {
	keys, err := s.db.Keys(ctx, []byte(storeMarkerPrefix))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, strings.TrimPrefix(string(key), storeMarkerPrefix))
	}
	return names, nil
}

// Has implements Store.
func (s *BadgerStore) Has(ctx context.Context, name string) (bool, error) {
	_, err := s.db.Get(ctx, markerKey(name))
	if errors.Is(err, badgerstore.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Drop implements Store.
func (s *BadgerStore) Drop(ctx context.Context, name string) error {
	if err := s.db.DropPrefix(ctx, entriesPrefix(name)); err != nil {
		return err
	}
	return s.db.Update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(markerKey(name))
	})
}

// Put implements Store.
func (s *BadgerStore) Put(ctx context.Context, name, key string, value Response) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	err = s.db.Update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(markerKey(name)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownStore, name)
			}
			return err
		}
		return txn.Set(entryKey(name, key), raw)
	})
	if errors.Is(err, badgerstore.ErrQuotaExceeded) {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, name, key string) (Response, error) {
	raw, err := s.db.Get(ctx, entryKey(name, key))
	if errors.Is(err, badgerstore.ErrKeyNotFound) {
		return Response{}, ErrMiss
	}
	if err != nil {
		return Response{}, err
	}
	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return Response{}, fmt.Errorf("decode cache entry %q: %w", key, err)
	}
	return out, nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(ctx context.Context, name, key string) error {
	return s.db.Update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(entryKey(name, key))
	})
}

// Keys implements Store.
func (s *BadgerStore) Keys(ctx context.Context, name string) ([]string, error) {
	prefix := entriesPrefix(name)
	raw, err := s.db.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(raw))
	for _, key := range raw {
		keys = append(keys, string(key[len(prefix):]))
	}
	return keys, nil
}

// Close implements Store.
func (s *BadgerStore) Close() error { return nil }
