package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

type itemKey struct {
	service string
	account string
}

// MemoryBackend keeps items in a map. It is used by tests and by the
// "memory" backend option.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[itemKey]Item
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[itemKey]Item)}
}

func (m *MemoryBackend) Insert(_ context.Context, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := itemKey{item.Service, item.Account}
	if _, ok := m.items[k]; ok {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateAccount, item.Service, item.Account)
	}
	m.items[k] = copyItem(item)
	return nil
}

func (m *MemoryBackend) Update(_ context.Context, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := itemKey{item.Service, item.Account}
	if _, ok := m.items[k]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, item.Service, item.Account)
	}
	m.items[k] = copyItem(item)
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, service, account string) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[itemKey{service, account}]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s/%s", ErrNotFound, service, account)
	}
	return copyItem(item), nil
}

func (m *MemoryBackend) Delete(_ context.Context, service, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := itemKey{service, account}
	if _, ok := m.items[k]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, service, account)
	}
	delete(m.items, k)
	return nil
}

// Len returns the number of items under service.
func (m *MemoryBackend) Len(service string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k := range m.items {
		if k.service == service {
			n++
		}
	}
	return n
}

func copyItem(item Item) Item {
	item.Data = slices.Clone(item.Data)
	return item
}
