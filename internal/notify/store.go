package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	badgerstore "example.com/edgeagent/internal/storage/badger"
)

// StorageKey is the fixed name the notification list is persisted under.
const StorageKey = "unipass_notifications"

// Store persists the whole notification list as one document.
type Store interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, records []Record) error
	Close() error
}

// MemoryStore keeps the list in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...), nil
}

func (m *MemoryStore) Save(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append([]Record(nil), records...)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// BadgerStore keeps the list as a JSON document in BadgerDB.
type BadgerStore struct {
	db *badgerstore.DB
}

// NewBadgerStore wraps an open database. Close leaves db open.
func NewBadgerStore(db *badgerstore.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Load returns the persisted list, or ErrCorrupt if it cannot be decoded.
func (s *BadgerStore) Load(ctx context.Context) ([]Record, error) {
	raw, err := s.db.Get(ctx, []byte(StorageKey))
	if errors.Is(err, badgerstore.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return records, nil
}

func (s *BadgerStore) Save(ctx context.Context, records []Record) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return s.db.Set(ctx, []byte(StorageKey), raw)
}

func (s *BadgerStore) Close() error { return nil }
