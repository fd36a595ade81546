package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const listTimeout = time.Minute

// ConnectionLister enumerates the connections eligible for a scheduled round.
type ConnectionLister interface {
	ListActiveIDs(ctx context.Context) ([]string, error)
}

// Config holds configuration for the scheduler.
type Config struct {
	Interval     time.Duration
	WorkerCount  int
	QueueSize    int
	JobTimeout   time.Duration
	RunOnStartup bool
	// ManualOnly runs the worker pool for triggers without the interval loop.
	ManualOnly bool
}

// Scheduler fires a sync round on a fixed interval and accepts manual
// triggers. Every round lists active connections and queues one job each.
type Scheduler struct {
	workerPool   *WorkerPool
	interval     time.Duration
	runOnStartup bool
	manualOnly   bool
	connections  ConnectionLister
	syncer       Syncer

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	startedAt time.Time
	lastRun   time.Time
}

// NewScheduler creates a scheduler. Call Start to begin firing.
func NewScheduler(cfg Config, connections ConnectionLister, syncer Syncer) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be positive, got %s", cfg.Interval)
	}
	if connections == nil || syncer == nil {
		return nil, errors.New("scheduler requires a connection lister and a syncer")
	}

	ctx, cancel := context.WithCancel(context.Background())

	log.Printf("Scheduler initialized: every %s, %d workers, queue %d, job timeout %s",
		cfg.Interval, cfg.WorkerCount, cfg.QueueSize, cfg.JobTimeout)

	return &Scheduler{
		workerPool:   NewWorkerPool(cfg.WorkerCount, cfg.JobTimeout, cfg.QueueSize),
		interval:     cfg.Interval,
		runOnStartup: cfg.RunOnStartup,
		manualOnly:   cfg.ManualOnly,
		connections:  connections,
		syncer:       syncer,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start launches the worker pool and the interval loop.
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	s.workerPool.Start()

	if s.manualOnly {
		log.Println("Scheduler started in manual-only mode")
		return
	}

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	if s.runOnStartup {
		log.Println("Scheduler: Running initial round on startup")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runRound()
		}()
	}

	s.wg.Add(1)
	go s.scheduleLoop()

	log.Println("Scheduler started")
}

func (s *Scheduler) scheduleLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Println("Scheduler loop: Context cancelled, shutting down")
			return

		case now := <-ticker.C:
			log.Printf("Scheduler: Triggered at %s", now.Format(time.RFC3339))
			s.runRound()
		}
	}
}

// runRound lists active connections and queues a job for each, waiting for
// queue space as workers free it. It returns how many jobs were accepted.
func (s *Scheduler) runRound() int {
	ctx, cancel := context.WithTimeout(s.ctx, listTimeout)
	defer cancel()

	ids, err := s.connections.ListActiveIDs(ctx)
	if err != nil {
		log.Errorf("Scheduler: Failed to list active connections: %v", err)
		return 0
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()

	if len(ids) == 0 {
		log.Println("Scheduler: No active connections")
		return 0
	}

	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, NewConnectionSyncJob(id, s.syncer))
	}

	log.Printf("Scheduler: Submitting %d sync jobs", len(jobs))
	return s.workerPool.SubmitBatch(s.ctx, jobs)
}

// TriggerNow starts a full round immediately without waiting for the ticker.
func (s *Scheduler) TriggerNow() {
	if s.ctx.Err() != nil {
		return
	}
	log.Println("Scheduler: Manual trigger")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runRound()
	}()
}

// TriggerConnection queues a sync for one connection through the same pool
// as scheduled rounds. It reports false when the job could not be queued.
func (s *Scheduler) TriggerConnection(connectionID string) bool {
	if err := s.workerPool.Submit(NewConnectionSyncJob(connectionID, s.syncer)); err != nil {
		log.WithField("connection_id", connectionID).Warnf("Scheduler: Could not queue sync: %v", err)
		return false
	}
	return true
}

// LastRun returns when the last round listed connections, or the zero time.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// NextRun returns the next ticker firing, or the zero time before Start.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	started := s.startedAt
	s.mu.Unlock()

	if started.IsZero() {
		return time.Time{}
	}
	elapsed := time.Since(started)
	ticks := elapsed/s.interval + 1
	return started.Add(ticks * s.interval)
}

// Shutdown stops the ticker, then drains the worker pool.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	log.Println("Scheduler: Initiating graceful shutdown...")

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Scheduler: Scheduler loop stopped gracefully")
	case <-time.After(timeout):
		log.Println("Scheduler: Timeout waiting for scheduler loop to stop")
	}

	s.workerPool.Shutdown(timeout)

	log.Println("Scheduler: Shutdown complete")
}
