package chigate

import (
	"strings"
	"time"
)

// RouteLimit is a fixed-window budget for every path that starts with Prefix.
type RouteLimit struct {
	Prefix   string        `yaml:"prefix" validate:"required"`
	Requests int64         `yaml:"requests" validate:"gt=0"`
	Window   time.Duration `yaml:"window" validate:"gt=0"`
}

// Rules holds the static tables the gate checks requests against.
type Rules struct {
	// Honeypots are decoy paths. A request whose path contains any of them
	// is answered with 404 and the client is blocked.
	Honeypots []string

	// RouteLimits are matched by longest prefix. DefaultLimit applies to API
	// paths that match none of them.
	RouteLimits  []RouteLimit
	DefaultLimit RouteLimit

	// AllowedOrigins are full origins (scheme://host[:port]) accepted on
	// state-changing requests in addition to the request's own origin.
	AllowedOrigins []string

	// SuspiciousAgents are lower-case user agent substrings rejected in production.
	SuspiciousAgents []string

	// ClientAgents are lower-case user agent substrings that identify a
	// programmatic HTTP client.
	ClientAgents []string

	APIPrefix string
	LoginPath string

	// MaxURLLength bounds the absolute URL, scheme and host included.
	MaxURLLength int

	BlockThreshold int64
}

// DefaultRules returns the bundled tables.
func DefaultRules() Rules {
	return Rules{
		Honeypots: []string{
			"/admin",
			"/administrator",
			"/wp-admin",
			"/wp-login.php",
			"/.env",
			"/.git",
			"/phpmyadmin",
			"/config.php",
			"/phpinfo.php",
			"/xmlrpc.php",
		},
		RouteLimits: []RouteLimit{
			{Prefix: "/api/auth/login", Requests: 5, Window: 15 * time.Minute},
			{Prefix: "/api/users", Requests: 30, Window: time.Minute},
			{Prefix: "/api/diagnostics", Requests: 100, Window: time.Minute},
			{Prefix: "/api/directory", Requests: 100, Window: time.Minute},
			{Prefix: "/api/entities", Requests: 100, Window: time.Minute},
		},
		DefaultLimit: RouteLimit{Prefix: "/api", Requests: 100, Window: time.Minute},
		SuspiciousAgents: []string{
			"curl",
			"wget",
			"python-requests",
			"bot",
			"crawler",
			"spider",
		},
		ClientAgents: []string{
			"curl",
			"wget",
			"python",
			"axios",
			"node-fetch",
			"go-http-client",
			"okhttp",
			"postman",
			"httpie",
			"java",
		},
		APIPrefix:      "/api",
		LoginPath:      "/api/auth/login",
		MaxURLLength:   2048,
		BlockThreshold: 5,
	}
}

// MatchRouteLimit returns the limit with the longest prefix matching path,
// or DefaultLimit when none match.
func (r Rules) MatchRouteLimit(path string) RouteLimit {
	best := r.DefaultLimit
	found := false
	for _, rl := range r.RouteLimits {
		if !strings.HasPrefix(path, rl.Prefix) {
			continue
		}
		if !found || len(rl.Prefix) > len(best.Prefix) {
			best = rl
			found = true
		}
	}
	return best
}

// isAPI reports whether path is served by the API.
func (r Rules) isAPI(path string) bool {
	return r.APIPrefix != "" && strings.HasPrefix(path, r.APIPrefix)
}

// honeypot returns the decoy path contained in path, if any.
func (r Rules) honeypot(path string) (string, bool) {
	for _, hp := range r.Honeypots {
		if strings.Contains(path, hp) {
			return hp, true
		}
	}
	return "", false
}
