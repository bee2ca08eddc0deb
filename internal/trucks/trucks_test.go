package trucks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"truckdash/internal/datefilter"
	"truckdash/internal/push"
	truckdashsdk "truckdash/sdk/go"
)

type fakeBackend struct {
	mu         sync.Mutex
	trucks     []truckdashsdk.Truck
	stats      truckdashsdk.Stats
	listErr    error
	statsErr   error
	statsCalls int
	lastQuery  url.Values
	statsGate  func(call int)
}

func (f *fakeBackend) ListTrucks(_ context.Context, q url.Values) ([]truckdashsdk.Truck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]truckdashsdk.Truck, len(f.trucks))
	copy(out, f.trucks)
	return out, nil
}

func (f *fakeBackend) Stats(_ context.Context, q url.Values) (truckdashsdk.Stats, error) {
	f.mu.Lock()
	f.statsCalls++
	call := f.statsCalls
	gate := f.statsGate
	st, err := f.stats.Clone(), f.statsErr
	f.lastQuery = q
	f.mu.Unlock()
	if gate != nil {
		gate(call)
	}
	if err != nil {
		return truckdashsdk.Stats{}, err
	}
	return st, nil
}

func (f *fakeBackend) CreateTruck(context.Context, truckdashsdk.TruckInput) (truckdashsdk.Truck, error) {
	return truckdashsdk.Truck{}, errors.New("not used")
}

func (f *fakeBackend) UpdateTruck(context.Context, string, truckdashsdk.TruckUpdate) (truckdashsdk.Truck, error) {
	return truckdashsdk.Truck{}, errors.New("not used")
}

func (f *fakeBackend) DeleteTruck(context.Context, string) error { return errors.New("not used") }

func (f *fakeBackend) UpdateStatus(context.Context, string, string, string) (truckdashsdk.Truck, error) {
	return truckdashsdk.Truck{}, errors.New("not used")
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statsCalls
}

func truck(id, createdAt string) truckdashsdk.Truck {
	return truckdashsdk.Truck{
		ID: id, Terminal: "T1", TruckNo: "B " + id, DockCode: "D1", TruckRoute: "R1",
		StatusPreparation: "On Process", StatusLoading: "On Process", CreatedAt: createdAt,
	}
}

func event(t *testing.T, typ push.EventType, data any) push.Event {
	t.Helper()
	b, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	return push.Event{Type: typ, Data: b}
}

func januaryFilter(t *testing.T) *datefilter.Filter {
	t.Helper()
	from, err := datefilter.Parse("2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	to, err := datefilter.Parse("2024-01-31")
	if err != nil {
		t.Fatal(err)
	}
	f := datefilter.New(time.UTC)
	f.Set(&from, &to)
	return f
}

func TestFetchTrucksFailureEmptiesAndReleasesLoading(t *testing.T) {
	be := &fakeBackend{trucks: []truckdashsdk.Truck{truck("1", "2024-01-02T00:00:00Z")}}
	s := New(Options{Backend: be})
	s.FetchTrucks(context.Background(), nil)
	if len(s.Trucks()) != 1 || s.Err() != nil {
		t.Fatalf("initial fetch: %v %v", s.Trucks(), s.Err())
	}

	be.listErr = errors.New("boom")
	s.FetchTrucks(context.Background(), nil)
	if got := s.Trucks(); got == nil || len(got) != 0 {
		t.Fatalf("expected empty sequence, got %v", got)
	}
	if s.Loading() {
		t.Fatalf("loading must be released after failure")
	}
	if s.Err() == nil {
		t.Fatalf("failure not recorded")
	}

	be.listErr = nil
	s.FetchTrucks(context.Background(), nil)
	if s.Err() != nil {
		t.Fatalf("error not cleared by successful fetch")
	}
}

func TestFetchMergesDateFilter(t *testing.T) {
	be := &fakeBackend{}
	s := New(Options{Backend: be, Filter: januaryFilter(t)})
	s.FetchTrucks(context.Background(), map[string]string{"terminal": "T2", "status_loading": ""})
	q := be.lastQuery
	if q.Get("terminal") != "T2" || q.Get("date_from") != "2024-01-01" || q.Get("date_to") != "2024-01-31" {
		t.Fatalf("unexpected query %v", q)
	}
	if _, ok := q["status_loading"]; ok {
		t.Fatalf("empty filter sent: %v", q)
	}

	s.SetDateFilter(nil, nil)
	s.FetchStats(context.Background(), nil)
	if _, ok := be.lastQuery["date_from"]; ok {
		t.Fatalf("absent bound sent: %v", be.lastQuery)
	}
}

func TestFetchStatsFailureFallsBackToZero(t *testing.T) {
	be := &fakeBackend{stats: truckdashsdk.Stats{
		TotalTrucks:      4,
		PreparationStats: map[string]int{"On Process": 4},
		LoadingStats:     map[string]int{"Finished": 4},
		TerminalStats:    map[string]int{"T1": 4},
	}}
	s := New(Options{Backend: be})
	if got := s.FetchStats(context.Background(), nil); got.TotalTrucks != 4 {
		t.Fatalf("stats %+v", got)
	}
	be.statsErr = errors.New("down")
	got := s.FetchStats(context.Background(), nil)
	if got.TotalTrucks != 0 || got.PreparationStats["Delay"] != 0 || len(got.PreparationStats) != 3 || len(got.TerminalStats) != 0 {
		t.Fatalf("returned snapshot not zero-shaped: %+v", got)
	}
	if stored := s.Stats(); stored.TotalTrucks != 0 || stored.LoadingStats == nil {
		t.Fatalf("stored snapshot not zero-shaped: %+v", stored)
	}
	if s.Err() != nil {
		t.Fatalf("stats failure must not set the list error")
	}
}

func TestStaleStatsResponseIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	be := &fakeBackend{stats: truckdashsdk.ZeroStats()}
	be.statsGate = func(call int) {
		if call == 1 {
			close(started)
			<-release
		}
	}
	s := New(Options{Backend: be})

	done := make(chan truckdashsdk.Stats)
	go func() { done <- s.FetchStats(context.Background(), nil) }()
	<-started

	be.mu.Lock()
	be.stats.TotalTrucks = 9
	be.mu.Unlock()
	if got := s.FetchStats(context.Background(), nil); got.TotalTrucks != 9 {
		t.Fatalf("newer fetch %+v", got)
	}

	be.mu.Lock()
	be.stats.TotalTrucks = 1
	be.mu.Unlock()
	close(release)
	if old := <-done; old.TotalTrucks != 0 {
		t.Fatalf("older fetch should return its own response, got %+v", old)
	}
	if s.Stats().TotalTrucks != 9 {
		t.Fatalf("stale response overwrote newer stats: %+v", s.Stats())
	}
}

func TestApplyCreatedOutsideWindowIsDropped(t *testing.T) {
	be := &fakeBackend{}
	s := New(Options{Backend: be, Filter: januaryFilter(t)})
	if err := s.Apply(context.Background(), event(t, push.TruckCreated, truck("x", "2024-02-01T00:00:00Z"))); err != nil {
		t.Fatal(err)
	}
	if len(s.Trucks()) != 0 {
		t.Fatalf("out-of-window truck admitted")
	}
	if be.calls() != 0 {
		t.Fatalf("dropped event triggered %d stats refreshes", be.calls())
	}

	if err := s.Apply(context.Background(), event(t, push.TruckCreated, truck("y", "2024-01-31T23:59:00Z"))); err != nil {
		t.Fatal(err)
	}
	got := s.Trucks()
	if len(got) != 1 || got[0].ID != "y" {
		t.Fatalf("edge-of-window truck misclassified: %v", got)
	}
	if be.calls() != 1 {
		t.Fatalf("expected exactly one stats refresh, got %d", be.calls())
	}
}

func TestApplyUpdateReplacesInPlaceOrIgnores(t *testing.T) {
	be := &fakeBackend{trucks: []truckdashsdk.Truck{truck("1", "2024-01-02T00:00:00Z"), truck("2", "2024-01-03T00:00:00Z")}}
	s := New(Options{Backend: be})
	s.FetchTrucks(context.Background(), nil)

	updated := truck("1", "2024-01-02T00:00:00Z")
	updated.StatusLoading = "Finished"
	if err := s.Apply(context.Background(), event(t, push.StatusUpdated, updated)); err != nil {
		t.Fatal(err)
	}
	got := s.Trucks()
	if got[0].ID != "1" || got[0].StatusLoading != "Finished" || got[1].ID != "2" {
		t.Fatalf("update not applied in place: %+v", got)
	}
	if be.calls() != 1 {
		t.Fatalf("expected one stats refresh, got %d", be.calls())
	}

	if err := s.Apply(context.Background(), event(t, push.TruckUpdated, truck("99", "2024-01-04T00:00:00Z"))); err != nil {
		t.Fatal(err)
	}
	if len(s.Trucks()) != 2 {
		t.Fatalf("update for absent truck inserted it")
	}
	if be.calls() != 1 {
		t.Fatalf("ignored update refreshed stats")
	}
}

func TestApplyDeleteAlwaysRefreshesStats(t *testing.T) {
	be := &fakeBackend{trucks: []truckdashsdk.Truck{truck("1", ""), truck("2", ""), truck("1", "")}}
	s := New(Options{Backend: be})
	s.FetchTrucks(context.Background(), nil)

	if err := s.Apply(context.Background(), event(t, push.TruckDeleted, map[string]string{"id": "404"})); err != nil {
		t.Fatal(err)
	}
	if len(s.Trucks()) != 3 {
		t.Fatalf("delete of absent id changed the sequence")
	}
	if be.calls() != 1 {
		t.Fatalf("delete of absent id must still refresh stats, got %d", be.calls())
	}

	if err := s.Apply(context.Background(), event(t, push.TruckDeleted, map[string]string{"id": "1"})); err != nil {
		t.Fatal(err)
	}
	got := s.Trucks()
	if len(got) != 1 || got[0].ID != "2" {
		t.Fatalf("all matching entries should be removed: %+v", got)
	}
}

func TestApplyUnknownAndMalformed(t *testing.T) {
	be := &fakeBackend{}
	s := New(Options{Backend: be})
	if err := s.Apply(context.Background(), push.Event{Type: "truck_teleported", Data: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("unknown type should be ignored: %v", err)
	}
	if err := s.Apply(context.Background(), push.Event{Type: push.TruckCreated, Data: json.RawMessage(`[1,2]`)}); err == nil {
		t.Fatalf("expected decode error")
	}
	if len(s.Trucks()) != 0 || be.calls() != 0 {
		t.Fatalf("state touched by ignored events")
	}
}

func TestUpdateStatusNotFoundLeavesTrucks(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/trucks", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]truckdashsdk.Truck{truck("1", "2024-01-02T00:00:00Z")})
	})
	r.Patch("/api/trucks/{id}/status", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Truck not found"}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	s := New(Options{Backend: truckdashsdk.New(srv.URL)})
	s.FetchTrucks(context.Background(), nil)
	before := s.Trucks()

	_, err := s.UpdateStatus(context.Background(), "5", "loading", "Finished")
	var apiErr *truckdashsdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
	after := s.Trucks()
	if len(after) != len(before) || after[0] != before[0] {
		t.Fatalf("trucks modified by failed status update")
	}
}

func TestWebsocketLifecycle(t *testing.T) {
	var mu sync.Mutex
	conns := 0
	upgrader := websocket.Upgrader{}
	r := chi.NewRouter()
	r.Get("/api/stats", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(truckdashsdk.Stats{TotalTrucks: 1})
	})
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		mu.Lock()
		conns++
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		b, _ := json.Marshal(map[string]any{"type": "truck_created", "data": truck("n", "2024-01-10T00:00:00Z")})
		_ = conn.WriteMessage(websocket.TextMessage, b)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	pushURL, err := push.ChannelURL(srv.URL, "/ws")
	if err != nil {
		t.Fatal(err)
	}
	s := New(Options{
		Backend: truckdashsdk.New(srv.URL),
		Dialer:  push.WebsocketDialer{},
		PushURL: pushURL,
		Header: func() http.Header {
			h := http.Header{}
			h.Set("Authorization", "Bearer tok")
			return h
		},
	})
	s.DisconnectWebSocket()
	if s.Connected() {
		t.Fatalf("connected before connect")
	}
	ctx := context.Background()
	if err := s.ConnectWebSocket(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.ConnectWebSocket(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !s.Connected() {
		t.Fatalf("not connected")
	}

	deadline := time.After(5 * time.Second)
	for len(s.Trucks()) == 0 || s.Stats().TotalTrucks != 1 {
		select {
		case <-s.Changes():
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatalf("push event not applied: %v %+v", s.Trucks(), s.Stats())
		}
	}

	s.DisconnectWebSocket()
	s.DisconnectWebSocket()
	if s.Connected() {
		t.Fatalf("still connected after disconnect")
	}
	mu.Lock()
	defer mu.Unlock()
	if conns != 2 {
		t.Fatalf("expected 2 connections, got %d", conns)
	}
}

func TestConnectWithoutChannel(t *testing.T) {
	s := New(Options{Backend: &fakeBackend{}})
	if err := s.ConnectWebSocket(context.Background()); !errors.Is(err, ErrNoPushChannel) {
		t.Fatalf("expected ErrNoPushChannel, got %v", err)
	}
}
