package chigate

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nhalm/canonlog"
)

// deny rejects the request with apiErr and records a security event for clientID.
// Honeypot hits block the client immediately; other phases block once the
// client's event count reaches the threshold.
func (g *Gate) deny(w http.ResponseWriter, r *http.Request, clientID string, phase Phase, reason string, apiErr *APIError) {
	ctx := r.Context()
	annotate(ctx, phase, reason)
	g.metrics.rejected(phase)

	now := g.now()
	count, err := g.store.RecordEvent(ctx, clientID, now.UTC().Format(time.RFC3339)+" "+reason, now)
	if err != nil {
		logError(ctx, fmt.Errorf("record security event: %w", err))
	} else {
		g.metrics.event()
	}

	switch {
	case phase == PhaseHoneypot:
		g.block(ctx, clientID, reason)
	case phase == PhaseBlocklist:
	case err == nil && g.rules.BlockThreshold > 0 && count >= g.rules.BlockThreshold:
		g.block(ctx, clientID, fmt.Sprintf("%d security events", count))
	}

	reject(w, r, apiErr)
}

// fail answers 500 when the store cannot be consulted.
func (g *Gate) fail(w http.ResponseWriter, r *http.Request, phase Phase, err error) {
	ctx := r.Context()
	annotate(ctx, phase, "store unavailable")
	logError(ctx, fmt.Errorf("gate %s: %w", phase, err))
	g.metrics.rejected(phase)
	reject(w, r, ErrInternal)
}

func (g *Gate) block(ctx context.Context, clientID, reason string) {
	if err := g.store.Block(ctx, clientID); err != nil {
		logError(ctx, fmt.Errorf("block client: %w", err))
		return
	}
	g.metrics.blocked()
	if g.onBlock != nil {
		g.onBlock(clientID, reason)
	}
}

func annotate(ctx context.Context, phase Phase, reason string) {
	if _, ok := canonlog.TryGetLogger(ctx); !ok {
		return
	}
	canonlog.InfoAddMany(ctx, map[string]any{
		"gate_phase":  string(phase),
		"gate_reason": reason,
	})
}

func logError(ctx context.Context, err error) {
	if _, ok := canonlog.TryGetLogger(ctx); !ok {
		return
	}
	canonlog.ErrorAdd(ctx, err)
}
