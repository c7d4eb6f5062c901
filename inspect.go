package chigate

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

var allowedMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodDelete:  {},
	http.MethodPatch:   {},
	http.MethodOptions: {},
}

var allowedBodyTypes = []string{
	"application/json",
	"application/x-www-form-urlencoded",
	"multipart/form-data",
}

// dangerousPatterns match injection, XSS, and traversal signatures in a decoded URL.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)vbscript\s*:`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	regexp.MustCompile(`\.\./\.\./`),
	regexp.MustCompile(`(?i)%00|\x00`),
	regexp.MustCompile(`(?i)\beval\s*\(`),
	regexp.MustCompile(`(?i)\bexpression\s*\(`),
	regexp.MustCompile(`(?i)\bon(load|error|click|focus|blur|submit|change|input|key[a-z]+|mouse[a-z]+)\s*=`),
	regexp.MustCompile(`(?i)\b(alert|confirm|prompt)\s*\(`),
}

// inspect runs the structural checks and returns the reason for the first
// failure, or "" when the request is well formed. Origin is checked separately.
func (g *Gate) inspect(r *http.Request, production bool) string {
	ua := r.Header.Get("User-Agent")
	lowerUA := strings.ToLower(ua)

	if production {
		for _, s := range g.rules.SuspiciousAgents {
			if strings.Contains(lowerUA, s) {
				return fmt.Sprintf("suspicious user agent %q", ua)
			}
		}
	}

	if _, ok := allowedMethods[r.Method]; !ok {
		return fmt.Sprintf("method %s not allowed", r.Method)
	}

	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		if ct := r.Header.Get("Content-Type"); ct != "" && !allowedContentType(ct) {
			return fmt.Sprintf("content type %q not allowed", ct)
		}
	}

	if g.rules.isAPI(r.URL.Path) && r.Method != http.MethodOptions && g.programmaticClient(r, lowerUA) {
		if !strings.Contains(strings.ToLower(r.Header.Get("Accept")), "json") {
			return "programmatic client without JSON accept header"
		}
	}

	raw := requestURI(r)
	if n := len(requestOrigin(r)) + len(raw); g.rules.MaxURLLength > 0 && n > g.rules.MaxURLLength {
		return fmt.Sprintf("URL length %d exceeds %d", n, g.rules.MaxURLLength)
	}

	if r.URL.RawQuery != "" || r.URL.Fragment != "" || strings.ContainsAny(raw, "?#") {
		decoded, err := url.QueryUnescape(raw)
		if err != nil {
			return "malformed URL encoding"
		}
		for _, p := range dangerousPatterns {
			if p.MatchString(decoded) {
				return "dangerous pattern in URL"
			}
		}
	}

	return ""
}

func (g *Gate) programmaticClient(r *http.Request, lowerUA string) bool {
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return true
	}
	for _, s := range g.rules.ClientAgents {
		if strings.Contains(lowerUA, s) {
			return true
		}
	}
	return false
}

func allowedContentType(ct string) bool {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	}
	for _, allowed := range allowedBodyTypes {
		if mediaType == allowed {
			return true
		}
	}
	return false
}

// requestURI returns the URL as the client sent it.
func requestURI(r *http.Request) string {
	if r.RequestURI != "" {
		return r.RequestURI
	}
	return r.URL.RequestURI()
}
