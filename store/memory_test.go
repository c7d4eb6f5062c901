package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMemory(t *testing.T, opts ...MemoryOption) (*Memory, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := newMemory(append([]MemoryOption{WithMemoryClock(clock.Now)}, opts...)...)
	t.Cleanup(func() { m.Close() })
	return m, clock
}

func TestMemory_Take(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*Memory, time.Time)
		limit       int64
		wantCount   int64
		wantAllowed bool
	}{
		{
			name:        "first take creates window",
			limit:       5,
			wantCount:   1,
			wantAllowed: true,
		},
		{
			name: "take inside window increments",
			setup: func(m *Memory, now time.Time) {
				m.counters["k"] = &counterEntry{count: 3, expiration: now.Add(time.Minute)}
			},
			limit:       5,
			wantCount:   4,
			wantAllowed: true,
		},
		{
			name: "take at limit is refused without incrementing",
			setup: func(m *Memory, now time.Time) {
				m.counters["k"] = &counterEntry{count: 5, expiration: now.Add(time.Minute)}
			},
			limit:       5,
			wantCount:   5,
			wantAllowed: false,
		},
		{
			name: "expired window resets to one",
			setup: func(m *Memory, now time.Time) {
				m.counters["k"] = &counterEntry{count: 5, expiration: now.Add(-time.Second)}
			},
			limit:       5,
			wantCount:   1,
			wantAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, clock := newTestMemory(t)
			if tt.setup != nil {
				tt.setup(m, clock.Now())
			}

			got, allowed, err := m.Take(context.Background(), "k", tt.limit, time.Minute)
			if err != nil {
				t.Fatalf("Take() error = %v", err)
			}
			if got.Count != tt.wantCount {
				t.Errorf("Take() count = %d, want %d", got.Count, tt.wantCount)
			}
			if allowed != tt.wantAllowed {
				t.Errorf("Take() allowed = %v, want %v", allowed, tt.wantAllowed)
			}
		})
	}
}

func TestMemory_Take_WindowReset(t *testing.T) {
	m, clock := newTestMemory(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if _, allowed, _ := m.Take(ctx, "ip:/api/users", 5, time.Minute); !allowed {
			t.Fatalf("take %d refused", i)
		}
	}
	if _, allowed, _ := m.Take(ctx, "ip:/api/users", 5, time.Minute); allowed {
		t.Fatal("sixth take inside window should be refused")
	}

	clock.Advance(61 * time.Second)

	got, allowed, _ := m.Take(ctx, "ip:/api/users", 5, time.Minute)
	if !allowed {
		t.Fatal("take after window should be allowed")
	}
	if got.Count != 1 {
		t.Errorf("count after reset = %d, want 1", got.Count)
	}
	if want := clock.Now().Add(time.Minute); !got.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", got.ResetAt, want)
	}
}

func TestMemory_Take_Concurrent(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	const (
		goroutines = 20
		perRoutine = 10
		limit      = 50
	)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perRoutine; j++ {
				if _, ok, _ := m.Take(ctx, "shared", limit, time.Minute); ok {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Errorf("allowed = %d, want %d", allowed, limit)
	}
	if got := m.counters["shared"].count; got != limit {
		t.Errorf("stored count = %d, want %d", got, limit)
	}
}

func TestMemory_Blocklist(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	if blocked, _ := m.IsBlocked(ctx, "10.0.0.1"); blocked {
		t.Fatal("fresh store should not block")
	}
	if err := m.Block(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	if blocked, _ := m.IsBlocked(ctx, "10.0.0.1"); !blocked {
		t.Error("expected identifier to be blocked")
	}
	if blocked, _ := m.IsBlocked(ctx, "10.0.0.2"); blocked {
		t.Error("other identifiers should not be blocked")
	}
	if err := m.ClearBlocked(ctx); err != nil {
		t.Fatalf("ClearBlocked() error = %v", err)
	}
	if blocked, _ := m.IsBlocked(ctx, "10.0.0.1"); blocked {
		t.Error("expected blocklist to be cleared")
	}
}

func TestMemory_RecordEvent_TrimsButCounts(t *testing.T) {
	m, clock := newTestMemory(t)
	ctx := context.Background()

	var count int64
	for i := 0; i < 15; i++ {
		var err error
		count, err = m.RecordEvent(ctx, "1.2.3.4", fmt.Sprintf("event %d", i), clock.Now())
		if err != nil {
			t.Fatalf("RecordEvent() error = %v", err)
		}
	}

	if count != 15 {
		t.Errorf("count = %d, want 15", count)
	}

	log, _ := m.Events(ctx, "1.2.3.4")
	if len(log.Events) != MaxEvents {
		t.Fatalf("retained %d events, want %d", len(log.Events), MaxEvents)
	}
	if log.Events[0] != "event 5" || log.Events[MaxEvents-1] != "event 14" {
		t.Errorf("unexpected retained window: first=%q last=%q", log.Events[0], log.Events[MaxEvents-1])
	}
	if log.Count != 15 {
		t.Errorf("log count = %d, want 15", log.Count)
	}
	if !log.LastEventAt.Equal(clock.Now()) {
		t.Errorf("LastEventAt = %v, want %v", log.LastEventAt, clock.Now())
	}
}

func TestMemory_Events_Unknown(t *testing.T) {
	m, _ := newTestMemory(t)

	log, err := m.Events(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if log.Count != 0 || len(log.Events) != 0 {
		t.Errorf("expected empty log, got %+v", log)
	}
}

func TestMemory_RunCleanup(t *testing.T) {
	m, clock := newTestMemory(t, WithEventRetention(time.Hour))
	ctx := context.Background()

	m.Take(ctx, "expired", 5, time.Second)
	m.Take(ctx, "live", 5, 2*time.Hour)
	m.RecordEvent(ctx, "old", "probe", clock.Now())
	m.Block(ctx, "old")

	clock.Advance(30 * time.Minute)
	m.RecordEvent(ctx, "recent", "probe", clock.Now())

	clock.Advance(31 * time.Minute)
	m.runCleanup()

	if _, ok := m.counters["expired"]; ok {
		t.Error("expired counter should be swept")
	}
	if _, ok := m.counters["live"]; !ok {
		t.Error("live counter should be kept")
	}
	if _, ok := m.events["old"]; ok {
		t.Error("idle event log should be swept")
	}
	if _, ok := m.events["recent"]; !ok {
		t.Error("recent event log should be kept")
	}
	if blocked, _ := m.IsBlocked(ctx, "old"); !blocked {
		t.Error("blocked identifiers must survive the sweep")
	}
}

func TestMemory_Close_Idempotent(t *testing.T) {
	m := NewMemory()
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
