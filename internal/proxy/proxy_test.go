package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nhalm/chigate"
)

func TestNew_InvalidUpstream(t *testing.T) {
	for _, raw := range []string{"", "app:3000/path", "://bad"} {
		t.Run(raw, func(t *testing.T) {
			if _, err := New(raw); err == nil {
				t.Errorf("expected error for %q", raw)
			}
		})
	}
}

func TestProxy_Forwards(t *testing.T) {
	var gotPath, gotXFF, gotHost string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		gotXFF = r.Header.Get("X-Forwarded-For")
		gotHost = r.Host
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"1"}`))
	}))
	defer upstream.Close()

	h, err := New(upstream.URL)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	handler := chigate.Handler()(h)

	req := httptest.NewRequest(http.MethodPost, "http://gate.example.com/api/entities?x=1", http.NoBody)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rec.Code)
	}
	if rec.Body.String() != `{"id":"1"}` {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if gotPath != "/api/entities?x=1" {
		t.Errorf("unexpected upstream path %q", gotPath)
	}
	if gotHost != "gate.example.com" {
		t.Errorf("expected original host, got %q", gotHost)
	}
	if gotXFF != "203.0.113.9, 192.0.2.1" {
		t.Errorf("unexpected X-Forwarded-For %q", gotXFF)
	}
}

func TestProxy_UpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	h, err := New(url)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	t.Run("with handler", func(t *testing.T) {
		rec := httptest.NewRecorder()
		chigate.Handler()(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/entities", http.NoBody))

		if rec.Code != http.StatusBadGateway {
			t.Fatalf("expected status %d, got %d", http.StatusBadGateway, rec.Code)
		}
		var body map[string]*chigate.APIError
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if body["error"].Code != "bad_gateway" {
			t.Errorf("expected bad_gateway, got %s", body["error"].Code)
		}
	})

	t.Run("without handler", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected status %d, got %d", http.StatusBadGateway, rec.Code)
		}
	})
}
