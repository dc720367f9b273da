package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store with TTL semantics, used in tests and for
// local runs without Redis. Expired entries are treated as absent on read
// rather than reaped in the background.
type Memory struct {
	mu     sync.Mutex
	values map[string]memoryEntry
	lists  map[string]*memoryList
	now    func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

type memoryList struct {
	entries   []string
	expiresAt time.Time
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]memoryEntry),
		lists:  make(map[string]*memoryList),
		now:    time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Set writes value under key with the given TTL.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.values[key] = entry
	return nil
}

// Get returns the value for key, or ErrNotFound when absent or expired.
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	if entry.expired(m.now()) {
		delete(m.values, key)
		return "", ErrNotFound
	}
	return entry.value, nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.lists, key)
	return nil
}

// Scan returns all live keys beginning with prefix.
func (m *Memory) Scan(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var keys []string
	for key, entry := range m.values {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if entry.expired(now) {
			delete(m.values, key)
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// PushTrim prepends value to the list at key and bounds it to max entries.
func (m *Memory) PushTrim(_ context.Context, key, value string, max int, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	list, ok := m.lists[key]
	if !ok || (!list.expiresAt.IsZero() && !now.Before(list.expiresAt)) {
		list = &memoryList{}
		m.lists[key] = list
	}

	list.entries = append([]string{value}, list.entries...)
	if max > 0 && len(list.entries) > max {
		list.entries = list.entries[:max]
	}
	if ttl > 0 {
		list.expiresAt = now.Add(ttl)
	}
	return nil
}

// Range returns list entries between start and stop inclusive, newest first,
// with LRANGE index semantics.
func (m *Memory) Range(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list, ok := m.lists[key]
	if !ok {
		return nil, nil
	}
	if !list.expiresAt.IsZero() && !m.now().Before(list.expiresAt) {
		delete(m.lists, key)
		return nil, nil
	}

	length := int64(len(list.entries))
	if stop < 0 {
		stop = length + stop
	}
	if start < 0 {
		start = length + start
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	if start > stop {
		return nil, nil
	}

	out := make([]string, 0, stop-start+1)
	out = append(out, list.entries[start:stop+1]...)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
