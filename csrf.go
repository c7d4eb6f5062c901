package chigate

import (
	"crypto/subtle"
	"net/http"

	"github.com/google/uuid"
)

const (
	DefaultCSRFCookie = "csrf-token"
	DefaultCSRFHeader = "X-CSRF-Token"
)

// validCSRF reports whether a state-changing API request carries a header
// token equal to its CSRF cookie. Safe methods and the login endpoint pass.
func (g *Gate) validCSRF(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	if g.rules.LoginPath != "" && r.URL.Path == g.rules.LoginPath {
		return true
	}

	header := r.Header.Get(g.csrfHeader)
	cookie, err := r.Cookie(g.csrfCookie)
	if err != nil || header == "" || cookie.Value == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(header), []byte(cookie.Value)) == 1
}

// ensureCSRFCookie mints a token when the request carries no CSRF cookie.
// The token is also echoed in the CSRF header of the response because the
// cookie is not readable from scripts.
func (g *Gate) ensureCSRFCookie(w http.ResponseWriter, r *http.Request, production bool) {
	if c, err := r.Cookie(g.csrfCookie); err == nil && c.Value != "" {
		return
	}

	token := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     g.csrfCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   production,
		SameSite: http.SameSiteStrictMode,
	})
	w.Header().Set(g.csrfHeader, token)
}
