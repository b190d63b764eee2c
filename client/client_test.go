package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// newTestServer creates a test server that routes to the given handler map.
// Keys are "METHOD /path", values are handler funcs. Method-aware dispatch is
// done by hand because net/http only understands "METHOD /path" patterns from
// Go 1.22 onward.
func newTestServer(t *testing.T, routes map[string]http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	mux := http.NewServeMux()
	byPath := make(map[string]map[string]http.HandlerFunc)
	for pattern, handler := range routes {
		method, path, ok := strings.Cut(pattern, " ")
		if !ok {
			t.Fatalf("route %q is not of the form \"METHOD /path\"", pattern)
		}
		if byPath[path] == nil {
			byPath[path] = make(map[string]http.HandlerFunc)
			handlers := byPath[path]
			mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
				if h, ok := handlers[r.Method]; ok {
					h(w, r)
					return
				}
				http.NotFound(w, r)
			})
		}
		byPath[path][method] = handler
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := New(srv.URL, WithToken("test-token"))
	return srv, c
}

func jsonResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func TestHealth(t *testing.T) {
	_, c := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/health": func(w http.ResponseWriter, _ *http.Request) {
			jsonResponse(w, 200, HealthResponse{Status: "ok", Version: "1.4.0"})
		},
	})
	resp, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("got status %q, want ok", resp.Status)
	}
}

func TestLoginInstallsToken(t *testing.T) {
	_, c := newTestServer(t, map[string]http.HandlerFunc{
		"POST /api/v1/auth/login": func(w http.ResponseWriter, r *http.Request) {
			var req LoginRequest
			json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
			if req.Email != "dana@acme.test" {
				jsonResponse(w, 401, map[string]string{"code": "invalid_credentials", "message": "bad login"})
				return
			}
			jsonResponse(w, 200, Session{
				Token:     "session-tok",
				UserID:    "u-1",
				ExpiresAt: time.Now().Add(time.Hour),
			})
		},
		"GET /api/v1/realtime/stats": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer session-tok" {
				jsonResponse(w, 401, map[string]string{"code": "unauthorized", "message": "bad token"})
				return
			}
			jsonResponse(w, 200, RealtimeStats{ActiveConnections: 12})
		},
	})

	ctx := context.Background()

	sess, err := c.Auth.Login(ctx, "dana@acme.test", "hunter2")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if sess.UserID != "u-1" {
		t.Errorf("got user %q, want u-1", sess.UserID)
	}

	// The login token is used for subsequent requests.
	stats, err := c.Realtime.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.ActiveConnections != 12 {
		t.Errorf("got %d active connections, want 12", stats.ActiveConnections)
	}
}

func TestLoginRejected(t *testing.T) {
	_, c := newTestServer(t, map[string]http.HandlerFunc{
		"POST /api/v1/auth/login": func(w http.ResponseWriter, _ *http.Request) {
			jsonResponse(w, 401, map[string]string{"code": "invalid_credentials", "message": "bad login"})
		},
	})

	_, err := c.Auth.Login(context.Background(), "dana@acme.test", "wrong")
	if err == nil {
		t.Fatal("Login() succeeded with bad credentials")
	}
	if !IsUnauthorized(err) {
		t.Errorf("IsUnauthorized(%v) = false", err)
	}
}

func TestRealtimeStats(t *testing.T) {
	_, c := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/realtime/stats": func(w http.ResponseWriter, _ *http.Request) {
			jsonResponse(w, 200, RealtimeStats{
				ActiveConnections: 3,
				UptimeSeconds:     7200,
				EventsSent:        1500,
				ErrorCount:        2,
			})
		},
	})

	stats, err := c.Realtime.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.UptimeSeconds != 7200 || stats.EventsSent != 1500 {
		t.Errorf("stats mismatch: %+v", stats)
	}
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv, _ := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/health": func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				jsonResponse(w, 503, map[string]string{"code": "unavailable", "message": "restarting"})
				return
			}
			jsonResponse(w, 200, HealthResponse{Status: "ok"})
		},
	})

	c := New(srv.URL, WithRetries(5))
	resp, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error after retries: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("got status %q, want ok", resp.Status)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server called %d times, want 3", got)
	}
}

func TestRetriesSkipPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	srv, _ := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/health": func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			jsonResponse(w, 401, map[string]string{"code": "unauthorized", "message": "no"})
		},
	})

	c := New(srv.URL, WithRetries(5))
	if _, err := c.Health(context.Background()); err == nil {
		t.Fatal("Health() succeeded, want 401")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times for a permanent error, want 1", got)
	}
}
