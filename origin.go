package chigate

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// checkOrigin validates the Origin header of POST, PUT, and DELETE requests.
// Returns the rejection reason, or "" when the origin is acceptable or absent.
func (g *Gate) checkOrigin(r *http.Request, production bool) string {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return ""
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return ""
	}

	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "unparsable origin " + origin
	}

	if strings.EqualFold(u.Scheme+"://"+u.Host, requestOrigin(r)) {
		return ""
	}
	for _, allowed := range g.rules.AllowedOrigins {
		if strings.EqualFold(strings.TrimSuffix(allowed, "/"), u.Scheme+"://"+u.Host) {
			return ""
		}
	}
	if !production && isLocalHost(u.Hostname()) {
		return ""
	}
	return "origin " + origin + " not allowed"
}

// requestOrigin reconstructs the origin the request was addressed to.
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + host
}

// isLocalHost reports whether host is loopback or in a private network range.
// 172.* is accepted as a whole, wider than the 172.16.0.0/12 private block.
func isLocalHost(host string) bool {
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, prefix := range []string{"192.168.", "10.", "172."} {
		if strings.HasPrefix(ip.String(), prefix) {
			return true
		}
	}
	return false
}
