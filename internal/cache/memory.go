package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrNotFound = errors.New("key not found")

const defaultMemoryCacheSize = 10_000

// MemoryProvider is a bounded LRU for single-instance deployments. Entries
// past their deadline read as missing and are evicted lazily.
type MemoryProvider struct {
	mu      sync.Mutex
	entries *lru.Cache[string, entry]
	now     func() time.Time
}

type entry struct {
	value    string
	deadline time.Time
}

func (e entry) live(now time.Time) bool {
	return now.Before(e.deadline)
}

func NewMemoryProvider() (*MemoryProvider, error) {
	entries, err := lru.New[string, entry](defaultMemoryCacheSize)
	if err != nil {
		return nil, err
	}
	return &MemoryProvider{entries: entries, now: time.Now}, nil
}

func (m *MemoryProvider) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cached, ok := m.entries.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	if !cached.live(m.now()) {
		m.entries.Remove(key)
		return "", ErrNotFound
	}
	return cached.value, nil
}

func (m *MemoryProvider) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries.Add(key, entry{value: value, deadline: m.now().Add(ttl)})
	return nil
}

// Claim stores value only when key holds no live entry.
func (m *MemoryProvider) Claim(_ context.Context, key string, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if cached, ok := m.entries.Get(key); ok && cached.live(now) {
		return false, nil
	}
	m.entries.Add(key, entry{value: value, deadline: now.Add(ttl)})
	return true, nil
}

func (m *MemoryProvider) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries.Remove(key)
	return nil
}

func (m *MemoryProvider) Close() error {
	return nil
}
