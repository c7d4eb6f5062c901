package chigate

import (
	"net/http"
	"os"
	"strings"
)

// LoopbackClient is the identifier used when no proxy header names the client.
const LoopbackClient = "127.0.0.1"

// ClientIdentifier derives the client key from proxy headers, in order:
// the first X-Forwarded-For entry, X-Real-IP, X-Client-IP.
// Falls back to LoopbackClient when none are present.
//
// SECURITY: Only trust these headers behind a reverse proxy that overwrites them.
// Without a proxy, clients can spoof X-Forwarded-For to evade limits and bans.
func ClientIdentifier(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			xff = xff[:idx]
		}
		if ip := strings.TrimSpace(xff); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if clientIP := strings.TrimSpace(r.Header.Get("X-Client-IP")); clientIP != "" {
		return clientIP
	}
	return LoopbackClient
}

// EnvironmentVar names the variable IsProduction reads.
const EnvironmentVar = "APP_ENV"

// IsProduction reports whether APP_ENV is "production".
// The variable is read on every call so the toggle can change without a restart.
func IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(EnvironmentVar)), "production")
}
