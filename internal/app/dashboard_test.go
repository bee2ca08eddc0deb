package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"truckdash/internal/config"
	"truckdash/internal/notify"
	"truckdash/internal/session"
	truckdashsdk "truckdash/sdk/go"
)

const testToken = "tok-admin"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newBackend(t *testing.T, frames chan []byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	authed := func(r *http.Request) bool { return r.Header.Get("Authorization") == "Bearer "+testToken }
	r := chi.NewRouter()
	r.Post("/api/auth/login", func(w http.ResponseWriter, req *http.Request) {
		_ = req.ParseForm()
		if req.PostForm.Get("password") != "admin123" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect username or password"})
			return
		}
		writeJSON(w, http.StatusOK, truckdashsdk.Token{AccessToken: testToken, TokenType: "bearer", Role: "admin"})
	})
	r.Get("/api/auth/me", func(w http.ResponseWriter, req *http.Request) {
		if !authed(req) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
			return
		}
		writeJSON(w, http.StatusOK, truckdashsdk.User{ID: "1", Username: "admin", Role: "admin"})
	})
	r.Get("/api/trucks", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("date_from") != "2024-01-01" {
			t.Errorf("date filter missing from query: %s", req.URL.RawQuery)
		}
		writeJSON(w, http.StatusOK, []truckdashsdk.Truck{{ID: "a", Terminal: "T1", CreatedAt: "2024-01-05T08:00:00Z"}})
	})
	r.Get("/api/stats", func(w http.ResponseWriter, _ *http.Request) {
		st := truckdashsdk.ZeroStats()
		st.TotalTrucks = 1
		writeJSON(w, http.StatusOK, st)
	})
	r.Delete("/api/trucks/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Truck not found"})
	})
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		if !authed(req) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, url string) *config.Config {
	t.Helper()
	cfg, err := config.FromYAML([]byte("server:\n  url: " + url + "\nfilter:\n  from: 2024-01-01\n  to: 2024-01-31\n  timezone: UTC\n"))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func TestDashboardLifecycle(t *testing.T) {
	frames := make(chan []byte, 4)
	srv := newBackend(t, frames)
	defer close(frames)
	workspace := t.TempDir()
	ctx := context.Background()

	d, err := New(ctx, testConfig(t, srv.URL), workspace, nil, Options{})
	if err != nil {
		t.Fatalf("new dashboard: %v", err)
	}
	if err := d.Start(ctx, nil); !errors.Is(err, session.ErrUnauthenticated) {
		t.Fatalf("start before login: %v", err)
	}
	if d.Session.Login(ctx, "admin", "wrong") {
		t.Fatalf("bad password accepted")
	}
	if !d.Session.Login(ctx, "admin", "admin123") {
		t.Fatalf("login failed")
	}
	if err := d.Start(ctx, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := d.Trucks.Trucks(); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("initial trucks %+v", got)
	}
	if d.Trucks.Stats().TotalTrucks != 1 {
		t.Fatalf("initial stats %+v", d.Trucks.Stats())
	}
	if !d.Trucks.Connected() {
		t.Fatalf("push channel not connected")
	}

	frames <- []byte(`{"type":"truck_deleted","data":{"id":"a"}}`)
	deadline := time.After(5 * time.Second)
	for len(d.Trucks.Trucks()) != 0 {
		select {
		case <-d.Trucks.Changes():
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatalf("delete event not applied")
		}
	}

	err = d.Report(d.Trucks.DeleteTruck(ctx, "zzz"), "Truck deleted")
	var apiErr *truckdashsdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
	if n := d.Notify.Current(); !n.Visible || n.Severity != notify.Error || n.Message != "Truck not found" || n.Timeout != notify.ErrorTimeout {
		t.Fatalf("unexpected notification %+v", n)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if d.Trucks.Connected() {
		t.Fatalf("push channel survived close")
	}

	restored, err := New(ctx, testConfig(t, srv.URL), workspace, nil, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer restored.Close()
	if !restored.Session.IsAuthenticated() || restored.Client.BearerToken() != testToken {
		t.Fatalf("session not restored")
	}
	if err := restored.Session.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(&truckdashsdk.APIError{StatusCode: 403, Body: `{"detail":"Not enough permissions"}`}); got != "Not enough permissions" {
		t.Fatalf("describe api error: %q", got)
	}
	if got := Describe(&truckdashsdk.APIError{StatusCode: 502}); got != "Bad Gateway" {
		t.Fatalf("describe empty body: %q", got)
	}
	if got := Describe(session.ErrUnauthenticated); !strings.Contains(got, "log in") {
		t.Fatalf("describe unauthenticated: %q", got)
	}
}
