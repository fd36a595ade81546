package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const defaultJobTimeout = 10 * time.Minute

var (
	jobTracer          = otel.Tracer("finsync/scheduler")
	jobMeter           = otel.Meter("finsync/scheduler")
	jobDuration, _     = jobMeter.Float64Histogram("scheduler.job.duration", metric.WithDescription("Job execution duration in seconds"), metric.WithUnit("s"))
	jobTotal, _        = jobMeter.Int64Counter("scheduler.job.total", metric.WithDescription("Total jobs executed by status"))
	jobQueueDropped, _ = jobMeter.Int64Counter("scheduler.job.queue_dropped", metric.WithDescription("Jobs dropped due to full queue"))
)

// ErrQueueFull is returned by Submit when the job queue has no free slot.
var ErrQueueFull = errors.New("job queue full")

// ErrPoolClosed is returned by Submit after shutdown has started.
var ErrPoolClosed = errors.New("worker pool is shut down")

// WorkerPool runs jobs on a fixed number of goroutines fed by a bounded queue.
type WorkerPool struct {
	workerCount int
	jobTimeout  time.Duration
	jobs        chan Job
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc

	// mu guards closed so Submit never sends on a closed channel.
	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool creates a pool with workerCount workers and a queue holding
// queueSize pending jobs. Each job runs under a jobTimeout deadline.
func NewWorkerPool(workerCount int, jobTimeout time.Duration, queueSize int) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	if queueSize < 0 {
		queueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workerCount: workerCount,
		jobTimeout:  jobTimeout,
		jobs:        make(chan Job, queueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	log.Printf("Starting worker pool with %d workers", wp.workerCount)

	for i := 1; i <= wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	log.Debugf("Worker %d started", id)

	for {
		select {
		case <-wp.ctx.Done():
			log.Debugf("Worker %d shutting down", id)
			return

		case job, ok := <-wp.jobs:
			if !ok {
				log.Debugf("Worker %d: job channel closed", id)
				return
			}
			wp.processJob(id, job)
		}
	}
}

// processJob executes a single job. A failing or panicking job never takes
// the worker down with it.
func (wp *WorkerPool) processJob(workerID int, job Job) {
	logger := log.WithFields(log.Fields{"worker_id": workerID, "connection_id": job.ConnectionID()})
	logger.Debugf("Processing %s", job.Description())

	ctx, cancel := context.WithTimeout(wp.ctx, wp.jobTimeout)
	defer cancel()

	ctx, span := jobTracer.Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("job.description", job.Description()),
			attribute.String("job.connection_id", job.ConnectionID()),
		),
	)
	defer span.End()

	start := time.Now()
	err := runJob(ctx, job)
	jobDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		logger.Errorf("Error processing %s: %v", job.Description(), err)
		return
	}

	jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	logger.Debugf("Completed %s", job.Description())
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Execute(ctx)
}

// Submit queues a job without blocking. It returns ErrQueueFull when the
// queue is full (the job is dropped) and ErrPoolClosed after shutdown.
func (wp *WorkerPool) Submit(job Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		return ErrPoolClosed
	}

	select {
	case wp.jobs <- job:
		return nil
	default:
		jobQueueDropped.Add(context.Background(), 1)
		log.WithField("connection_id", job.ConnectionID()).Warn("Job queue full, dropping job")
		return fmt.Errorf("%w: dropping job for connection %s", ErrQueueFull, job.ConnectionID())
	}
}

// SubmitWait queues a job, waiting for a free slot until ctx is done or the
// pool shuts down.
func (wp *WorkerPool) SubmitWait(ctx context.Context, job Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		return ErrPoolClosed
	}

	select {
	case wp.jobs <- job:
		return nil
	case <-wp.ctx.Done():
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitBatch queues every job, waiting for queue space as workers free it.
// It stops early when ctx is done and returns how many were accepted.
func (wp *WorkerPool) SubmitBatch(ctx context.Context, jobs []Job) int {
	submitted := 0
	for _, job := range jobs {
		if err := wp.SubmitWait(ctx, job); err != nil {
			log.Warnf("Stopped submitting jobs after %d/%d: %v", submitted, len(jobs), err)
			break
		}
		submitted++
	}
	log.Printf("Submitted %d/%d jobs to worker pool", submitted, len(jobs))
	return submitted
}

// Shutdown stops accepting jobs and waits for queued and running jobs. If they
// do not finish within timeout, running jobs are cancelled through their
// context.
func (wp *WorkerPool) Shutdown(timeout time.Duration) {
	log.Printf("Worker pool: Initiating graceful shutdown with %v timeout", timeout)

	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.jobs)
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Worker pool: All workers finished gracefully")
	case <-time.After(timeout):
		log.Println("Worker pool: Timeout reached, cancelling running jobs")
		wp.cancel()
		<-done
	}

	wp.cancel()
	log.Println("Worker pool: Shutdown complete")
}
