package chigate

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nhalm/chigate/store"
)

// Phase names a stage of the gate pipeline.
type Phase string

const (
	PhaseBlocklist  Phase = "blocklist"
	PhaseHoneypot   Phase = "honeypot"
	PhaseValidation Phase = "validation"
	PhaseRateLimit  Phase = "rate_limit"
	PhaseCSRF       Phase = "csrf"
)

// Gate screens every request before it reaches the application.
//
// Phases run in order and the first failure answers the request:
//   - blocklist: blocked clients get 403
//   - honeypot: decoy paths get 404 and the client is blocked at once
//   - validation: malformed or suspicious requests get 400
//   - rate limit: API paths over their route budget get 429 (production only)
//   - CSRF: state-changing API requests without a matching token get 403 (production only)
//
// Every rejection is recorded as a security event against the client. A client
// that accumulates Rules.BlockThreshold events is blocked for as long as the
// store keeps its blocklist.
type Gate struct {
	store      store.Store
	rules      Rules
	production func() bool
	metrics    *Metrics
	onBlock    func(clientID, reason string)
	onError    func(error)
	now        func() time.Time
	csrfCookie string
	csrfHeader string
}

// Option configures a Gate.
type Option func(*Gate)

// WithRules replaces the bundled tables.
func WithRules(rules Rules) Option {
	return func(g *Gate) {
		g.rules = rules
	}
}

// WithEnvironment sets the production toggle. It is called once per request.
// Defaults to IsProduction.
func WithEnvironment(production func() bool) Option {
	return func(g *Gate) {
		g.production = production
	}
}

// WithMetrics records gate outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// WithBlockHook registers fn to be called whenever a client is blocked.
func WithBlockHook(fn func(clientID, reason string)) Option {
	return func(g *Gate) {
		g.onBlock = fn
	}
}

// WithErrorHook registers fn to receive errors that happen outside a request,
// such as a failed blocklist reset in New.
func WithErrorHook(fn func(error)) Option {
	return func(g *Gate) {
		g.onError = fn
	}
}

// WithClock sets the time source used for event timestamps and rate limit headers.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// WithCSRFCookie sets the CSRF cookie name (default: "csrf-token").
func WithCSRFCookie(name string) Option {
	return func(g *Gate) {
		g.csrfCookie = name
	}
}

// WithCSRFHeader sets the CSRF request header name (default: "X-CSRF-Token").
func WithCSRFHeader(name string) Option {
	return func(g *Gate) {
		g.csrfHeader = name
	}
}

// New creates a gate backed by st.
// Outside production the blocklist is cleared once so local testing starts clean.
// A failed reset is passed to the error hook and the gate starts with the
// blocklist it has.
func New(st store.Store, opts ...Option) *Gate {
	g := &Gate{
		store:      st,
		rules:      DefaultRules(),
		production: IsProduction,
		now:        time.Now,
		csrfCookie: DefaultCSRFCookie,
		csrfHeader: DefaultCSRFHeader,
	}
	for _, opt := range opts {
		opt(g)
	}

	if !g.production() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.store.ClearBlocked(ctx); err != nil && g.onError != nil {
			g.onError(fmt.Errorf("clear blocklist: %w", err))
		}
	}

	return g
}

// MatchRouteLimit returns the rate limit the gate applies to path.
func (g *Gate) MatchRouteLimit(path string) RouteLimit {
	return g.rules.MatchRouteLimit(path)
}

// Handler returns the gate middleware.
// Install Handler (the response wrapper) outside it to get JSON error bodies.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		production := g.production()
		clientID := ClientIdentifier(r)

		blocked, err := g.store.IsBlocked(ctx, clientID)
		if err != nil {
			g.fail(w, r, PhaseBlocklist, err)
			return
		}
		if blocked {
			g.deny(w, r, clientID, PhaseBlocklist, "access attempt from blocked IP", ErrClientBlocked)
			return
		}

		if hp, ok := g.rules.honeypot(r.URL.Path); ok {
			g.deny(w, r, clientID, PhaseHoneypot, "honeypot access: "+hp, ErrNotFound)
			return
		}

		if reason := g.inspect(r, production); reason != "" {
			g.deny(w, r, clientID, PhaseValidation, reason, ErrSuspiciousRequest)
			return
		}
		if reason := g.checkOrigin(r, production); reason != "" {
			g.deny(w, r, clientID, PhaseValidation, reason, ErrSuspiciousRequest)
			return
		}

		if !g.rules.isAPI(r.URL.Path) {
			w.Header().Set("X-Frame-Options", "SAMEORIGIN")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			g.metrics.forwarded()
			next.ServeHTTP(w, r)
			return
		}

		limit := g.rules.MatchRouteLimit(r.URL.Path)
		counter := store.Counter{ResetAt: g.now().Add(limit.Window)}
		if production {
			var allowed bool
			counter, allowed, err = g.store.Take(ctx, clientID+":"+limit.Prefix, limit.Requests, limit.Window)
			if err != nil {
				g.fail(w, r, PhaseRateLimit, err)
				return
			}
			if !allowed {
				g.setRateLimitHeaders(w, limit, counter)
				w.Header().Set("Retry-After", strconv.FormatInt(g.retryAfter(counter.ResetAt), 10))
				g.deny(w, r, clientID, PhaseRateLimit, "rate limit exceeded for "+limit.Prefix, ErrRateLimited)
				return
			}
		}

		if production && !g.validCSRF(r) {
			g.deny(w, r, clientID, PhaseCSRF, "CSRF token mismatch", ErrCSRFInvalid)
			return
		}

		g.setRateLimitHeaders(w, limit, counter)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		g.ensureCSRFCookie(w, r, production)

		g.metrics.forwarded()
		next.ServeHTTP(w, r)
	})
}

func (g *Gate) setRateLimitHeaders(w http.ResponseWriter, limit RouteLimit, counter store.Counter) {
	remaining := max(0, limit.Requests-counter.Count)
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit.Requests, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(counter.ResetAt.Unix(), 10))
}

// retryAfter returns whole seconds until resetAt, at least 1.
func (g *Gate) retryAfter(resetAt time.Time) int64 {
	d := resetAt.Sub(g.now())
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return max(1, secs)
}
