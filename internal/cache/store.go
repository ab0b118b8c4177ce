// Package cache owns the static and dynamic response stores and the
// install/activate transitions that prime and purge them.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrMiss is returned when a lookup finds no stored entry.
	ErrMiss = errors.New("cache miss")
	// ErrQuotaExceeded is returned when a store refuses a write because it is full.
	ErrQuotaExceeded = errors.New("cache quota exceeded")
	// ErrUnknownStore is returned when an entry operation targets a store that was never opened.
	ErrUnknownStore = errors.New("cache store does not exist")
)

// Store is the persistence port behind every named cache store.
// Put is last-write-wins: at most one entry exists per key per store.
type Store interface {
	Open(ctx context.Context, name string) error
	Names(ctx context.Context) ([]string, error)
	Has(ctx context.Context, name string) (bool, error)
	Drop(ctx context.Context, name string) error
	Put(ctx context.Context, name, key string, value Response) error
	Get(ctx context.Context, name, key string) (Response, error)
	Delete(ctx context.Context, name, key string) error
	Keys(ctx context.Context, name string) ([]string, error)
	Close() error
}

// MemoryStore keeps stores in process memory. A non-zero quota bounds the
// total bytes held across all stores.
type MemoryStore struct {
	mu     sync.RWMutex
	stores map[string]map[string]Response
	quota  int
	used   int
}

// NewMemoryStore constructs an empty MemoryStore. quota <= 0 means unbounded.
func NewMemoryStore(quota int) *MemoryStore {
	return &MemoryStore{stores: make(map[string]map[string]Response), quota: quota}
}

// Open implements Store.
func (m *MemoryStore) Open(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stores[name]; !ok {
		m.stores[name] = make(map[string]Response)
	}
	return nil
}

// Names implements Store.
func (m *MemoryStore) Names(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Has implements Store.
func (m *MemoryStore) Has(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.stores[name]
	return ok, nil
}

// Drop implements Store.
func (m *MemoryStore) Drop(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.stores[name] {
		m.used -= entry.Size()
	}
	delete(m.stores, name)
	return nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, name, key string, value Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.stores[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStore, name)
	}
	delta := value.Size()
	if prev, exists := entries[key]; exists {
		delta -= prev.Size()
	}
	if m.quota > 0 && m.used+delta > m.quota {
		return fmt.Errorf("%w: %d bytes requested, %d free", ErrQuotaExceeded, delta, m.quota-m.used)
	}
	entries[key] = value
	m.used += delta
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, name, key string) (Response, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.stores[name][key]
	if !ok {
		return Response{}, ErrMiss
	}
	return entry, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, name, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.stores[name][key]; ok {
		m.used -= entry.Size()
		delete(m.stores[name], key)
	}
	return nil
}

// Keys implements Store.
func (m *MemoryStore) Keys(_ context.Context, name string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.stores[name]))
	for key := range m.stores[name] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
