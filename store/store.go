// Package store provides the per-client state backends used by the request gate.
//
// A Store holds three independent structures, all keyed by client identifier:
//   - rate limit counters (fixed windows, keyed by identifier and route prefix)
//   - the blocked identifier set
//   - the security event log
//
// Use Memory for single-instance deployments and Redis when several instances must
// enforce the same limits and blocklist.
package store

import (
	"context"
	"time"
)

// MaxEvents is the number of event messages retained per client.
const MaxEvents = 10

// Counter is the state of a rate limit window after a Take call.
type Counter struct {
	Count   int64
	ResetAt time.Time
}

// EventLog is the security event history of a single client.
// Count is monotonic and is never trimmed, even though Events is.
type EventLog struct {
	Events      []string
	LastEventAt time.Time
	Count       int64
}

// Store defines the interface for gate state backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// Take consumes one request from the window identified by key.
	// A missing or expired window is recreated with a count of 1.
	// When the count has already reached limit the request is refused and the
	// counter is left untouched; otherwise the counter is incremented.
	Take(ctx context.Context, key string, limit int64, window time.Duration) (Counter, bool, error)

	// IsBlocked reports whether the identifier is in the blocked set.
	IsBlocked(ctx context.Context, id string) (bool, error)

	// Block adds the identifier to the blocked set.
	Block(ctx context.Context, id string) error

	// ClearBlocked empties the blocked set.
	ClearBlocked(ctx context.Context) error

	// RecordEvent appends a message to the identifier's event log, keeps the
	// most recent MaxEvents messages, and returns the total event count.
	RecordEvent(ctx context.Context, id, message string, at time.Time) (int64, error)

	// Events returns the identifier's event log. A zero EventLog is returned
	// when nothing was recorded.
	Events(ctx context.Context, id string) (EventLog, error)

	// Close releases any resources held by the store.
	Close() error
}
