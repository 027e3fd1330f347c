package cache

import (
	"context"
	"sync"
	"time"
)

// Store is the key-value cache the router consumes. Values are opaque
// encoded bytes; TTL handling is the store's responsibility.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
	Close() error
}

// MemoryStore is a thread-safe in-process store with TTL expiration and a
// background janitor.
type MemoryStore struct {
	mu      sync.RWMutex
	items   map[string]*memoryItem
	janitor *janitor
}

type memoryItem struct {
	value      []byte
	expiration int64
}

type janitor struct {
	interval time.Duration
	stop     chan struct{}
}

// NewMemoryStore creates a memory store that sweeps expired entries every
// cleanupInterval.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		items: make(map[string]*memoryItem),
	}
	s.janitor = &janitor{interval: cleanupInterval, stop: make(chan struct{})}
	go s.janitor.run(s)
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, found := s.items[key]
	if !found {
		return nil, false, nil
	}
	if item.expiration > 0 && time.Now().UnixNano() > item.expiration {
		return nil, false, nil
	}
	return item.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiration int64
	if ttl > 0 {
		expiration = time.Now().Add(ttl).UnixNano()
	}
	s.items[key] = &memoryItem{value: value, expiration: expiration}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *MemoryStore) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

// Flush removes all expired items and returns how many were evicted.
func (s *MemoryStore) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixNano()
	removed := 0
	for key, item := range s.items {
		if item.expiration > 0 && now > item.expiration {
			delete(s.items, key)
			removed++
		}
	}
	return removed
}

// ItemCount returns the number of stored items, expired or not.
func (s *MemoryStore) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Close stops the janitor and drops all items.
func (s *MemoryStore) Close() error {
	close(s.janitor.stop)
	s.mu.Lock()
	s.items = make(map[string]*memoryItem)
	s.mu.Unlock()
	return nil
}

func (j *janitor) run(s *MemoryStore) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush()
		case <-j.stop:
			return
		}
	}
}
