package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/dedupmq/pkg/metrics"
)

// Default memory store configuration constants.
const (
	defaultMemoryMaxEntries = 500_000
)

// entry is a single recently seen key in insertion order.
type entry struct {
	key       string
	expiresAt time.Time
	prev      *entry
	next      *entry
}

// reset clears the entry state for reuse
func (e *entry) reset() {
	e.key = ""
	e.expiresAt = time.Time{}
	e.prev = nil
	e.next = nil
}

// Memory is an in-process KV with per-entry expiry.
// For bounded mode (maxEntries > 0): the oldest entry is evicted when full.
// For unbounded mode (maxEntries <= 0): entries leave only when they expire.
// Add is atomic, so a Client over Memory has no check-then-set race.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently added
	tail       *entry // oldest
	maxEntries int
	size       atomic.Int64
	now        func() time.Time
	entryPool  sync.Pool
}

// MemoryOption applies a configuration option to the Memory store.
type MemoryOption func(*Memory)

// WithMaxEntries sets the maximum number of keys kept in memory.
func WithMaxEntries(n int) MemoryOption {
	return func(m *Memory) {
		m.maxEntries = n
	}
}

// WithClock replaces the time source, mainly for expiry tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates an in-process store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		maxEntries: defaultMemoryMaxEntries,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.entries = make(map[string]*entry)
	m.entryPool = sync.Pool{
		New: func() interface{} {
			return &entry{}
		},
	}

	return m
}

// Exists reports whether key is present and unexpired.
func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.liveLocked(key), nil
}

// Set writes key with ttl, replacing any previous expiry.
func (m *Memory) Set(_ context.Context, key string, _ []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok {
		m.unlinkLocked(e)
	}
	m.insertLocked(key, ttl)
	return nil
}

// Add writes key only if it is absent or expired.
func (m *Memory) Add(_ context.Context, key string, _ []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.liveLocked(key) {
		return false, nil
	}
	m.insertLocked(key, ttl)
	return true, nil
}

// Len returns the number of entries held, including expired ones not yet reclaimed.
func (m *Memory) Len() int64 {
	return m.size.Load()
}

// Close drops every entry.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for e := m.head; e != nil; {
		next := e.next
		e.reset()
		m.entryPool.Put(e)
		e = next
	}
	m.entries = make(map[string]*entry)
	m.head, m.tail = nil, nil
	m.size.Store(0)
	metrics.UpdateMemoryStoreEntries(0)
	return nil
}

// liveLocked reports whether key is present and unexpired, reclaiming it if expired.
// Must be called with m.mu held.
func (m *Memory) liveLocked(key string) bool {
	e, ok := m.entries[key]
	if !ok {
		return false
	}
	if !m.now().Before(e.expiresAt) {
		m.unlinkLocked(e)
		return false
	}
	return true
}

// insertLocked adds key at the head, evicting expired entries and then the
// oldest one if the store is full. Must be called with m.mu held.
func (m *Memory) insertLocked(key string, ttl time.Duration) {
	now := m.now()
	if m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		m.reclaimExpiredLocked(now)
		if len(m.entries) >= m.maxEntries && m.tail != nil {
			m.unlinkLocked(m.tail)
		}
	}

	e := m.entryPool.Get().(*entry)
	e.key = key
	e.expiresAt = now.Add(ttl)
	e.next = m.head
	if m.head != nil {
		m.head.prev = e
	}
	m.head = e
	if m.tail == nil {
		m.tail = e
	}
	m.entries[key] = e
	metrics.UpdateMemoryStoreEntries(int(m.size.Add(1)))
}

// reclaimExpiredLocked walks from the oldest entry and removes expired ones.
// Entries share one ttl in practice, so the walk stops at the first live entry.
func (m *Memory) reclaimExpiredLocked(now time.Time) {
	for e := m.tail; e != nil; {
		prev := e.prev
		if now.Before(e.expiresAt) {
			return
		}
		m.unlinkLocked(e)
		e = prev
	}
}

// unlinkLocked removes e from the list and the map and returns it to the pool.
func (m *Memory) unlinkLocked(e *entry) {
	delete(m.entries, e.key)
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		m.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		m.tail = e.prev
	}
	e.reset()
	m.entryPool.Put(e)
	metrics.UpdateMemoryStoreEntries(int(m.size.Add(-1)))
}
