package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"

	badgerstore "example.com/edgeagent/internal/storage/badger"
)

// Store is the persistence port for queued operations. Put inserts or
// replaces the whole operation by id; List returns operations oldest first.
type Store interface {
	Put(ctx context.Context, op Operation) error
	Get(ctx context.Context, id string) (Operation, error)
	List(ctx context.Context) ([]Operation, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemoryStore keeps operations in process memory.
type MemoryStore struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: make(map[string]Operation)}
}

func (m *MemoryStore) Put(_ context.Context, op Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op.ID] = op
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.ops[id]
	if !ok {
		return Operation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return op, nil
}

func (m *MemoryStore) List(context.Context) ([]Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Operation, 0, len(m.ops))
	for _, op := range m.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ops, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

const badgerPrefix = "sync-queue/"

// BadgerStore keeps one JSON document per operation under "sync-queue/<id>".
type BadgerStore struct {
	db *badgerstore.DB
}

// NewBadgerStore wraps an open database. Close leaves db open.
func NewBadgerStore(db *badgerstore.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (s *BadgerStore) Put(ctx context.Context, op Operation) error {
	raw, err := json.Marshal(op)
	if err != nil {
		return err
	}
	return s.db.Set(ctx, []byte(badgerPrefix+op.ID), raw)
}

func (s *BadgerStore) Get(ctx context.Context, id string) (Operation, error) {
	raw, err := s.db.Get(ctx, []byte(badgerPrefix+id))
	if errors.Is(err, badgerstore.ErrKeyNotFound) {
		return Operation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Operation{}, err
	}
	var op Operation
	if err := json.Unmarshal(raw, &op); err != nil {
		return Operation{}, fmt.Errorf("decode operation %s: %w", id, err)
	}
	return op, nil
}

func (s *BadgerStore) List(ctx context.Context) ([]Operation, error) {
	var out []Operation
	err := s.db.Scan(ctx, []byte(badgerPrefix), func(key, value []byte) error {
		var op Operation
		if err := json.Unmarshal(value, &op); err != nil {
			return fmt.Errorf("decode operation %s: %w", key, err)
		}
		out = append(out, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerPrefix + id))
	})
}

func (s *BadgerStore) Close() error { return nil }
