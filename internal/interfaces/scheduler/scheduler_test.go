package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"finsync/internal/domain/openfinance"
)

type MockLister struct {
	ListActiveIDsFunc func(ctx context.Context) ([]string, error)
}

func (m *MockLister) ListActiveIDs(ctx context.Context) ([]string, error) {
	return m.ListActiveIDsFunc(ctx)
}

func staticLister(ids ...string) *MockLister {
	return &MockLister{ListActiveIDsFunc: func(context.Context) ([]string, error) {
		return append([]string(nil), ids...), nil
	}}
}

// recordingSyncer records every connection it was asked to sync.
type recordingSyncer struct {
	mu    sync.Mutex
	calls []string
	err   map[string]error
	seen  chan string
}

func newRecordingSyncer() *recordingSyncer {
	return &recordingSyncer{err: map[string]error{}, seen: make(chan string, 100)}
}

func (s *recordingSyncer) Sync(_ context.Context, id string) (*openfinance.SyncResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, id)
	err := s.err[id]
	s.mu.Unlock()
	select {
	case s.seen <- id:
	default:
	}
	if err != nil {
		return nil, err
	}
	return &openfinance.SyncResult{ConnectionID: id}, nil
}

func (s *recordingSyncer) sortedCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.calls...)
	sort.Strings(out)
	return out
}

func waitForSyncs(t *testing.T, s *recordingSyncer, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("waited for %d syncs, got %d", n, i)
		}
	}
}

func newTestScheduler(t *testing.T, cfg Config, lister ConnectionLister, syncer Syncer) *Scheduler {
	t.Helper()
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = 2
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 10
	}
	s, err := NewScheduler(cfg, lister, syncer)
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}
	return s
}

func TestNewScheduler_Validation(t *testing.T) {
	if _, err := NewScheduler(Config{Interval: 0}, staticLister(), newRecordingSyncer()); err == nil {
		t.Error("NewScheduler() expected error for zero interval")
	}
	if _, err := NewScheduler(Config{Interval: time.Minute}, nil, newRecordingSyncer()); err == nil {
		t.Error("NewScheduler() expected error for nil lister")
	}
}

func TestScheduler_RoundSyncsEveryActiveConnection(t *testing.T) {
	syncer := newRecordingSyncer()
	syncer.err["c2"] = &openfinance.SyncError{ConnectionID: "c2", Phase: openfinance.PhaseFetchingDeltaPage, Kind: openfinance.ErrProviderUnavailable, Err: errors.New("503")}
	s := newTestScheduler(t, Config{}, staticLister("c1", "c2", "c3"), syncer)
	s.Start()
	defer s.Shutdown(time.Second)

	if got := s.runRound(); got != 3 {
		t.Fatalf("runRound() queued %d jobs, want 3", got)
	}
	waitForSyncs(t, syncer, 3)

	got := syncer.sortedCalls()
	want := []string{"c1", "c2", "c3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("synced %v, want %v", got, want)
		}
	}
	if s.LastRun().IsZero() {
		t.Error("LastRun() should be set after a round")
	}
}

func TestScheduler_RoundLargerThanQueue(t *testing.T) {
	ids := []string{"c0", "c1", "c2", "c3", "c4", "c5"}
	syncer := newRecordingSyncer()
	s := newTestScheduler(t, Config{WorkerCount: 1, QueueSize: 2}, staticLister(ids...), syncer)
	s.Start()
	defer s.Shutdown(time.Second)

	const rounds = 3
	for i := 0; i < rounds; i++ {
		if got := s.runRound(); got != len(ids) {
			t.Fatalf("round %d queued %d jobs, want %d", i, got, len(ids))
		}
	}
	waitForSyncs(t, syncer, rounds*len(ids))

	counts := map[string]int{}
	for _, id := range syncer.sortedCalls() {
		counts[id]++
	}
	for _, id := range ids {
		if counts[id] != rounds {
			t.Errorf("%s synced %d times, want %d", id, counts[id], rounds)
		}
	}
}

func TestScheduler_ShutdownUnblocksRound(t *testing.T) {
	// Not started: nothing drains the queue, so the round waits for space.
	s := newTestScheduler(t, Config{WorkerCount: 1, QueueSize: 1}, staticLister("c1", "c2", "c3"), newRecordingSyncer())

	queued := make(chan int, 1)
	go func() { queued <- s.runRound() }()

	time.Sleep(20 * time.Millisecond)
	s.Shutdown(100 * time.Millisecond)

	select {
	case got := <-queued:
		if got > 1 {
			t.Errorf("runRound() queued %d jobs, want at most the one slot", got)
		}
	case <-time.After(time.Second):
		t.Fatal("runRound() still blocked after Shutdown")
	}
}

func TestScheduler_NoActiveConnections(t *testing.T) {
	syncer := newRecordingSyncer()
	s := newTestScheduler(t, Config{}, staticLister(), syncer)

	if got := s.runRound(); got != 0 {
		t.Errorf("runRound() = %d, want 0", got)
	}
}

func TestScheduler_ListFailureSkipsRound(t *testing.T) {
	lister := &MockLister{ListActiveIDsFunc: func(context.Context) ([]string, error) {
		return nil, errors.New("db down")
	}}
	s := newTestScheduler(t, Config{}, lister, newRecordingSyncer())

	if got := s.runRound(); got != 0 {
		t.Errorf("runRound() = %d, want 0", got)
	}
	if !s.LastRun().IsZero() {
		t.Error("LastRun() should stay zero when listing fails")
	}
}

func TestScheduler_TriggerConnection(t *testing.T) {
	syncer := newRecordingSyncer()
	s := newTestScheduler(t, Config{}, staticLister(), syncer)
	s.Start()
	defer s.Shutdown(time.Second)

	if !s.TriggerConnection("manual-1") {
		t.Fatal("TriggerConnection() = false, want true")
	}
	waitForSyncs(t, syncer, 1)

	if calls := syncer.sortedCalls(); len(calls) != 1 || calls[0] != "manual-1" {
		t.Errorf("synced %v, want [manual-1]", calls)
	}
}

func TestScheduler_TriggerConnectionQueueFull(t *testing.T) {
	// Not started: the single queue slot fills and the next trigger is dropped.
	s := newTestScheduler(t, Config{QueueSize: 1}, staticLister(), newRecordingSyncer())

	if !s.TriggerConnection("a") {
		t.Fatal("first TriggerConnection() = false, want true")
	}
	if s.TriggerConnection("b") {
		t.Error("second TriggerConnection() = true, want false on a full queue")
	}
}

func TestScheduler_RunOnStartup(t *testing.T) {
	syncer := newRecordingSyncer()
	s := newTestScheduler(t, Config{RunOnStartup: true}, staticLister("c1"), syncer)
	s.Start()
	defer s.Shutdown(time.Second)

	waitForSyncs(t, syncer, 1)
}

func TestScheduler_TriggerNow(t *testing.T) {
	syncer := newRecordingSyncer()
	s := newTestScheduler(t, Config{}, staticLister("c1", "c2"), syncer)
	s.Start()
	defer s.Shutdown(time.Second)

	s.TriggerNow()
	waitForSyncs(t, syncer, 2)
}

func TestScheduler_IntervalFires(t *testing.T) {
	syncer := newRecordingSyncer()
	s := newTestScheduler(t, Config{Interval: 10 * time.Millisecond}, staticLister("c1"), syncer)
	s.Start()
	defer s.Shutdown(time.Second)

	waitForSyncs(t, syncer, 2)

	if next := s.NextRun(); !next.After(time.Now().Add(-10 * time.Millisecond)) {
		t.Errorf("NextRun() = %s, expected a time around now", next)
	}
}

func TestScheduler_NextRunBeforeStart(t *testing.T) {
	s := newTestScheduler(t, Config{}, staticLister(), newRecordingSyncer())
	if !s.NextRun().IsZero() {
		t.Error("NextRun() before Start should be zero")
	}
}

func TestScheduler_ManualOnly(t *testing.T) {
	syncer := newRecordingSyncer()
	s := newTestScheduler(t, Config{Interval: 5 * time.Millisecond, RunOnStartup: true, ManualOnly: true}, staticLister("c1"), syncer)
	s.Start()
	defer s.Shutdown(time.Second)

	if !s.TriggerConnection("manual") {
		t.Fatal("TriggerConnection() = false, want true")
	}
	waitForSyncs(t, syncer, 1)

	time.Sleep(30 * time.Millisecond)
	if calls := syncer.sortedCalls(); len(calls) != 1 || calls[0] != "manual" {
		t.Errorf("synced %v, want only [manual]", calls)
	}
	if !s.NextRun().IsZero() {
		t.Error("NextRun() should be zero in manual-only mode")
	}
}
