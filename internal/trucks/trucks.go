// Package trucks keeps the dashboard's truck list and stats snapshot and
// reconciles them with push events.
package trucks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"

	"truckdash/internal/datefilter"
	"truckdash/internal/log"
	"truckdash/internal/metrics"
	"truckdash/internal/push"
	truckdashsdk "truckdash/sdk/go"
)

// Backend is the slice of the API client the store talks to.
type Backend interface {
	ListTrucks(ctx context.Context, query url.Values) ([]truckdashsdk.Truck, error)
	Stats(ctx context.Context, query url.Values) (truckdashsdk.Stats, error)
	CreateTruck(ctx context.Context, in truckdashsdk.TruckInput) (truckdashsdk.Truck, error)
	UpdateTruck(ctx context.Context, id string, in truckdashsdk.TruckUpdate) (truckdashsdk.Truck, error)
	DeleteTruck(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id, statusType, status string) (truckdashsdk.Truck, error)
}

var ErrNoPushChannel = errors.New("push channel not configured")

// Options configures a Store. Backend is required; a nil Filter means no bounds.
type Options struct {
	Backend Backend
	Filter  *datefilter.Filter
	Dialer  push.Dialer
	PushURL string
	// Header supplies handshake headers (the bearer credential) for each connect.
	Header  func() http.Header
	Logger  log.Logger
	Metrics *metrics.Metrics
}

// Store is the truck collection state.
type Store struct {
	backend Backend
	filter  *datefilter.Filter
	dialer  push.Dialer
	pushURL string
	header  func() http.Header
	log     log.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	trucks   []truckdashsdk.Truck
	stats    truckdashsdk.Stats
	inflight int
	lastErr  error
	listSeq  uint64
	statsSeq uint64

	connMu   sync.Mutex
	listener *push.Listener

	changes chan struct{}
}

func New(opts Options) *Store {
	filter := opts.Filter
	if filter == nil {
		filter = datefilter.New(nil)
	}
	return &Store{
		backend: opts.Backend,
		filter:  filter,
		dialer:  opts.Dialer,
		pushURL: opts.PushURL,
		header:  opts.Header,
		log:     log.OrNop(opts.Logger).WithName("trucks"),
		metrics: opts.Metrics,
		stats:   truckdashsdk.ZeroStats(),
		changes: make(chan struct{}, 1),
	}
}

// FetchTrucks replaces the truck sequence with the backend's view for the
// merged query. On failure the error is recorded and the sequence emptied.
// A response that is no longer the latest issued request is discarded.
func (s *Store) FetchTrucks(ctx context.Context, filters map[string]string) {
	query := s.filter.Merge(filters)

	s.mu.Lock()
	s.listSeq++
	seq := s.listSeq
	s.inflight++
	s.mu.Unlock()
	s.notify()

	list, err := s.backend.ListTrucks(ctx, query)

	s.mu.Lock()
	s.inflight--
	stale := seq != s.listSeq
	switch {
	case stale:
	case err != nil:
		s.lastErr = err
		s.trucks = []truckdashsdk.Truck{}
	default:
		s.lastErr = nil
		if list == nil {
			list = []truckdashsdk.Truck{}
		}
		s.trucks = list
	}
	n := len(s.trucks)
	s.mu.Unlock()
	s.notify()

	switch {
	case stale:
		s.metrics.TruckFetch("stale")
		s.log.Debug("discarding stale truck list", "seq", seq)
	case err != nil:
		s.metrics.TruckFetch("failed")
		s.metrics.SetTrucksShown(0)
		s.log.Error(err, "fetch trucks failed")
	default:
		s.metrics.TruckFetch("ok")
		s.metrics.SetTrucksShown(n)
	}
}

// FetchStats replaces the stats snapshot. On failure the zero snapshot is
// stored. The fetched (or fallback) snapshot is always returned, but only the
// latest issued request writes it into the store.
func (s *Store) FetchStats(ctx context.Context, filters map[string]string) truckdashsdk.Stats {
	query := s.filter.Merge(filters)

	s.mu.Lock()
	s.statsSeq++
	seq := s.statsSeq
	s.mu.Unlock()

	st, err := s.backend.Stats(ctx, query)
	if err != nil {
		s.log.Error(err, "fetch stats failed")
		st = truckdashsdk.ZeroStats()
	} else {
		st = normalizeStats(st)
	}

	s.mu.Lock()
	stale := seq != s.statsSeq
	if !stale {
		s.stats = st.Clone()
	}
	s.mu.Unlock()

	switch {
	case stale:
		s.metrics.StatsRefresh("stale")
		s.log.Debug("discarding stale stats", "seq", seq)
	case err != nil:
		s.metrics.StatsRefresh("failed")
	default:
		s.metrics.StatsRefresh("ok")
	}
	if !stale {
		s.notify()
	}
	return st
}

// Refresh loads trucks and stats for the same filters in parallel.
func (s *Store) Refresh(ctx context.Context, filters map[string]string) {
	var g errgroup.Group
	g.Go(func() error {
		s.FetchTrucks(ctx, filters)
		return nil
	})
	g.Go(func() error {
		s.FetchStats(ctx, filters)
		return nil
	})
	_ = g.Wait()
}

func (s *Store) CreateTruck(ctx context.Context, in truckdashsdk.TruckInput) (truckdashsdk.Truck, error) {
	t, err := s.backend.CreateTruck(ctx, in)
	if err != nil {
		return truckdashsdk.Truck{}, fmt.Errorf("create truck: %w", err)
	}
	return t, nil
}

func (s *Store) UpdateTruck(ctx context.Context, id string, in truckdashsdk.TruckUpdate) (truckdashsdk.Truck, error) {
	t, err := s.backend.UpdateTruck(ctx, id, in)
	if err != nil {
		return truckdashsdk.Truck{}, fmt.Errorf("update truck %s: %w", id, err)
	}
	return t, nil
}

func (s *Store) DeleteTruck(ctx context.Context, id string) error {
	if err := s.backend.DeleteTruck(ctx, id); err != nil {
		return fmt.Errorf("delete truck %s: %w", id, err)
	}
	return nil
}

// UpdateStatus sets one status dimension. The local sequence is left to the
// push channel.
func (s *Store) UpdateStatus(ctx context.Context, id, statusType, status string) (truckdashsdk.Truck, error) {
	t, err := s.backend.UpdateStatus(ctx, id, statusType, status)
	if err != nil {
		return truckdashsdk.Truck{}, fmt.Errorf("update %s status of truck %s: %w", statusType, id, err)
	}
	return t, nil
}

// ConnectWebSocket opens the push channel, closing any open one first.
func (s *Store) ConnectWebSocket(ctx context.Context) error {
	if s.dialer == nil || s.pushURL == "" {
		return ErrNoPushChannel
	}
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.closeListenerLocked()

	var header http.Header
	if s.header != nil {
		header = s.header()
	}
	conn, err := s.dialer.Dial(ctx, s.pushURL, header)
	if err != nil {
		return fmt.Errorf("connect push channel: %w", err)
	}
	l := push.Listen(context.WithoutCancel(ctx), conn, s.Apply, s.log)
	s.listener = l
	s.metrics.SetConnected(true)
	s.log.Info("push channel connected", "url", s.pushURL)
	go func() {
		<-l.Done()
		s.connMu.Lock()
		replaced := s.listener != nil && s.listener != l
		s.connMu.Unlock()
		if !replaced {
			s.metrics.SetConnected(false)
		}
		s.notify()
	}()
	s.notify()
	return nil
}

// DisconnectWebSocket closes the push channel if open.
func (s *Store) DisconnectWebSocket() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.closeListenerLocked()
}

func (s *Store) closeListenerLocked() {
	if s.listener == nil {
		return
	}
	if err := s.listener.Close(); err != nil {
		s.log.Debug("close push channel", "error", err.Error())
	}
	s.listener = nil
	s.log.Info("push channel disconnected")
}

// Connected reports whether a push connection is open.
func (s *Store) Connected() bool {
	s.connMu.Lock()
	l := s.listener
	s.connMu.Unlock()
	if l == nil {
		return false
	}
	select {
	case <-l.Done():
		return false
	default:
		return true
	}
}

type deletedRef struct {
	ID string `json:"id"`
}

// Apply reconciles one push event with the local state. Stats are never
// derived locally; every accepted change refetches them.
func (s *Store) Apply(ctx context.Context, ev push.Event) error {
	kind := string(ev.Type)
	switch ev.Type {
	case push.TruckCreated:
		var t truckdashsdk.Truck
		if err := json.Unmarshal(ev.Data, &t); err != nil {
			s.metrics.PushEvent(kind, metrics.OutcomeInvalid)
			return fmt.Errorf("decode %s: %w", kind, err)
		}
		if !s.filter.Admit(t.CreatedAt) {
			s.metrics.PushEvent(kind, metrics.OutcomeDropped)
			s.log.Debug("created truck outside date filter", "id", t.ID, "created_at", t.CreatedAt)
			return nil
		}
		s.mu.Lock()
		s.trucks = append(s.trucks, t)
		n := len(s.trucks)
		s.mu.Unlock()
		s.metrics.SetTrucksShown(n)
		s.metrics.PushEvent(kind, metrics.OutcomeApplied)
		s.notify()
		s.FetchStats(ctx, nil)

	case push.TruckUpdated, push.StatusUpdated:
		var t truckdashsdk.Truck
		if err := json.Unmarshal(ev.Data, &t); err != nil {
			s.metrics.PushEvent(kind, metrics.OutcomeInvalid)
			return fmt.Errorf("decode %s: %w", kind, err)
		}
		s.mu.Lock()
		idx := indexOf(s.trucks, t.ID)
		if idx >= 0 {
			s.trucks[idx] = t
		}
		s.mu.Unlock()
		if idx < 0 {
			s.metrics.PushEvent(kind, metrics.OutcomeDropped)
			return nil
		}
		s.metrics.PushEvent(kind, metrics.OutcomeApplied)
		s.notify()
		s.FetchStats(ctx, nil)

	case push.TruckDeleted:
		var ref deletedRef
		if err := json.Unmarshal(ev.Data, &ref); err != nil {
			s.metrics.PushEvent(kind, metrics.OutcomeInvalid)
			return fmt.Errorf("decode %s: %w", kind, err)
		}
		s.mu.Lock()
		kept := s.trucks[:0:0]
		for _, t := range s.trucks {
			if t.ID != ref.ID {
				kept = append(kept, t)
			}
		}
		s.trucks = kept
		n := len(kept)
		s.mu.Unlock()
		s.metrics.SetTrucksShown(n)
		s.metrics.PushEvent(kind, metrics.OutcomeApplied)
		s.notify()
		s.FetchStats(ctx, nil)

	default:
		s.metrics.PushEvent(kind, metrics.OutcomeIgnored)
		s.log.Info("ignoring unknown push event", "type", kind)
	}
	return nil
}

// SetDateFilter replaces the bounds. Callers refetch afterwards.
func (s *Store) SetDateFilter(from, to *datefilter.Date) {
	s.filter.Set(from, to)
	s.notify()
}

func (s *Store) DateFilter() (from, to *datefilter.Date) {
	return s.filter.Bounds()
}

// Trucks returns a copy of the current sequence.
func (s *Store) Trucks() []truckdashsdk.Truck {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]truckdashsdk.Truck, len(s.trucks))
	copy(out, s.trucks)
	return out
}

// Stats returns a copy of the current snapshot.
func (s *Store) Stats() truckdashsdk.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats.Clone()
}

func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inflight > 0
}

// Err returns the last truck list failure, cleared by the next successful fetch.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Changes signals state changes. Signals coalesce; readers re-read state.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

func (s *Store) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func indexOf(list []truckdashsdk.Truck, id string) int {
	for i, t := range list {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// normalizeStats fills absent maps so the snapshot always has the zero shape.
func normalizeStats(st truckdashsdk.Stats) truckdashsdk.Stats {
	zero := truckdashsdk.ZeroStats()
	if st.PreparationStats == nil {
		st.PreparationStats = zero.PreparationStats
	}
	if st.LoadingStats == nil {
		st.LoadingStats = zero.LoadingStats
	}
	if st.TerminalStats == nil {
		st.TerminalStats = zero.TerminalStats
	}
	return st
}
