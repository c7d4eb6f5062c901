package store

import (
	"context"
	"sync"
	"time"
)

// DefaultEventRetention is how long an idle event log is kept by the Memory sweep.
const DefaultEventRetention = 24 * time.Hour

type counterEntry struct {
	count      int64
	expiration time.Time
}

type eventEntry struct {
	events []string
	last   time.Time
	count  int64
}

// Memory is an in-memory implementation of Store using maps with mutex protection.
//
// WARNING: state is local to the process. When the application runs as several
// instances, each one enforces its own limits and keeps its own blocklist. Use the
// Redis store for horizontally scaled deployments.
//
// A background goroutine sweeps expired counters and idle event logs every minute.
// Blocked identifiers are never swept; they stay blocked until ClearBlocked or a restart.
type Memory struct {
	mu        sync.Mutex
	counters  map[string]*counterEntry
	events    map[string]*eventEntry
	blocked   map[string]struct{}
	retention time.Duration
	now       func() time.Time
	stopCh    chan struct{}
	closeOnce sync.Once
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithEventRetention sets how long an event log may stay idle before the sweep drops it.
// Default: DefaultEventRetention.
func WithEventRetention(d time.Duration) MemoryOption {
	return func(m *Memory) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithMemoryClock replaces time.Now. Intended for tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates a new in-memory store and starts its cleanup goroutine.
//
// Important: You must call Close() when done to stop the cleanup goroutine.
func NewMemory(opts ...MemoryOption) *Memory {
	m := newMemory(opts...)
	go m.cleanup()
	return m
}

func newMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		counters:  make(map[string]*counterEntry),
		events:    make(map[string]*eventEntry),
		blocked:   make(map[string]struct{}),
		retention: DefaultEventRetention,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Take checks and increments the counter for key under a single lock, so concurrent
// requests can never push the count past limit.
func (m *Memory) Take(_ context.Context, key string, limit int64, window time.Duration) (Counter, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	entry, exists := m.counters[key]

	if !exists || now.After(entry.expiration) {
		entry = &counterEntry{
			count:      1,
			expiration: now.Add(window),
		}
		m.counters[key] = entry
		return Counter{Count: 1, ResetAt: entry.expiration}, true, nil
	}

	if entry.count >= limit {
		return Counter{Count: entry.count, ResetAt: entry.expiration}, false, nil
	}

	entry.count++
	return Counter{Count: entry.count, ResetAt: entry.expiration}, true, nil
}

func (m *Memory) IsBlocked(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.blocked[id]
	return ok, nil
}

func (m *Memory) Block(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocked[id] = struct{}{}
	return nil
}

func (m *Memory) ClearBlocked(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocked = make(map[string]struct{})
	return nil
}

func (m *Memory) RecordEvent(_ context.Context, id, message string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.events[id]
	if !ok {
		entry = &eventEntry{}
		m.events[id] = entry
	}

	entry.events = append(entry.events, message)
	if n := len(entry.events); n > MaxEvents {
		entry.events = append([]string(nil), entry.events[n-MaxEvents:]...)
	}
	entry.last = at
	entry.count++
	return entry.count, nil
}

func (m *Memory) Events(_ context.Context, id string) (EventLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.events[id]
	if !ok {
		return EventLog{}, nil
	}
	return EventLog{
		Events:      append([]string(nil), entry.events...),
		LastEventAt: entry.last,
		Count:       entry.count,
	}, nil
}

// Close stops the background cleanup goroutine. It is safe to call more than once.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopCh)
	})
	return nil
}

// runCleanup executes a single sweep: expired counters and event logs idle for
// longer than the retention period are removed.
func (m *Memory) runCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, entry := range m.counters {
		if now.After(entry.expiration) {
			delete(m.counters, key)
		}
	}
	for id, entry := range m.events {
		if now.Sub(entry.last) > m.retention {
			delete(m.events, id)
		}
	}
}

func (m *Memory) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runCleanup()
		case <-m.stopCh:
			return
		}
	}
}
