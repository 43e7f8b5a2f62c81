package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Cache stores JSON encoded values. A miss is (false, nil); errors are only
// reported for backend faults and callers treat them as misses.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

type Noop struct{}

func (Noop) Get(_ context.Context, _ string, _ any) (bool, error) {
	return false, nil
}

func (Noop) Set(_ context.Context, _ string, _ any, _ time.Duration) error {
	return nil
}

func (Noop) DeletePrefix(_ context.Context, _ string) error {
	return nil
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// Memory is an in-process cache used when no Redis address is configured.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if ok && !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(entry.payload, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	entry := memoryEntry{payload: payload}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = entry
	return nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}
