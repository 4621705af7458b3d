// Package queue persists completed inventory passes in the background.
//
// The queue decouples ingestion from storage latency:
//  1. The synchronization loop enqueues sealed passes (Jobs)
//  2. A single worker persists them strictly in FIFO order
//  3. A failed job is not retried; the worker exits and the next Enqueue
//     starts a fresh one
//
// In sync mode Enqueue persists inline and no worker runs.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Job is one unit of persistence work.
type Job interface {
	ID() string
	Persist(ctx context.Context) error
}

// Mode selects how Enqueue runs jobs.
type Mode string

const (
	ModeAsync Mode = "async"
	ModeSync  Mode = "sync"
)

// ErrStopped is returned by Enqueue after Stop.
var ErrStopped = errors.New("queue is stopped")

// Config holds configuration for the queue.
type Config struct {
	// Mode is async (background worker) or sync (inline)
	Mode Mode

	// IdleInterval is how long the worker sleeps on an empty queue before
	// re-checking the stop flag
	IdleInterval time.Duration

	// JoinTimeout bounds how long Stop(true) waits for the queue to drain
	JoinTimeout time.Duration

	// MaxPending bounds the number of queued jobs. Enqueue blocks while the
	// queue is full. 0 means unbounded.
	MaxPending int

	// Logger for queue activity
	Logger *log.Logger

	// OnPersisted is called after a job persists successfully
	OnPersisted func(job Job, took time.Duration)

	// OnFailed is called after a job fails; the job is not retried
	OnFailed func(job Job, err error)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Mode:         ModeAsync,
		IdleInterval: 100 * time.Millisecond,
		JoinTimeout:  10 * time.Second,
		Logger:       log.New(os.Stderr, "[queue] ", log.LstdFlags),
	}
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Pending   int  `json:"pending"`
	Processed int  `json:"processed"`
	Failed    int  `json:"failed"`
	Dropped   int  `json:"dropped"`
	Restarts  int  `json:"restarts"`
	Running   bool `json:"running"`
}

// Queue is a FIFO of persistence jobs served by at most one worker.
// It is safe for concurrent use.
type Queue struct {
	config *Config

	mu      sync.Mutex
	jobs    []Job
	space   chan struct{} // closed and replaced whenever a job is dequeued
	wake    chan struct{}
	stopped bool
	stats   Stats

	// current worker
	alive   bool
	spawned int
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a queue. A nil config uses DefaultConfig.
func New(config *Config) *Queue {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.Mode == "" {
		cfg.Mode = ModeAsync
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = 100 * time.Millisecond
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		config: &cfg,
		space:  make(chan struct{}),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Mode returns the queue's mode.
func (q *Queue) Mode() Mode {
	return q.config.Mode
}

// Start starts the worker. It also reopens a stopped queue.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		q.stopped = false
		q.ctx, q.cancel = context.WithCancel(context.Background())
	}
	if q.config.Mode == ModeAsync {
		q.ensureWorkerLocked()
	}
}

// Enqueue hands job to the queue.
//
// In sync mode the job is persisted before Enqueue returns and its error is
// returned. In async mode Enqueue makes sure a worker is alive, waits for
// room if the queue is bounded, and appends the job.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	if q.config.Mode == ModeSync {
		q.mu.Lock()
		stopped := q.stopped
		q.mu.Unlock()
		if stopped {
			return ErrStopped
		}
		return q.run(ctx, job)
	}

	q.mu.Lock()
	for {
		if q.stopped {
			q.mu.Unlock()
			return ErrStopped
		}
		q.ensureWorkerLocked()
		if q.config.MaxPending <= 0 || len(q.jobs) < q.config.MaxPending {
			break
		}
		space := q.space
		q.mu.Unlock()

		select {
		case <-space:
		case <-ctx.Done():
			return fmt.Errorf("enqueue %s: %w", job.ID(), ctx.Err())
		}
		q.mu.Lock()
	}
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Stop stops the worker.
//
// With wait, queued jobs are drained for up to JoinTimeout; after that the
// in-flight job is cancelled. Without wait, cancellation is immediate. Jobs
// still queued are dropped.
func (q *Queue) Stop(wait bool) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	if wait && len(q.jobs) > 0 && q.config.Mode == ModeAsync {
		q.ensureWorkerLocked()
	}
	done, alive := q.done, q.alive
	q.mu.Unlock()

	q.signal()

	if wait && alive {
		select {
		case <-done:
		case <-time.After(q.config.JoinTimeout):
			q.config.Logger.Printf("Warning: worker did not drain within %v, cancelling", q.config.JoinTimeout)
		}
	}
	q.cancel()

	q.mu.Lock()
	dropped := len(q.jobs)
	for _, job := range q.jobs {
		q.config.Logger.Printf("Dropping unpersisted pass %s", job.ID())
	}
	q.jobs = nil
	q.stats.Dropped += dropped
	q.notifySpaceLocked()
	q.mu.Unlock()

	if dropped > 0 {
		q.config.Logger.Printf("Stopped with %d pass(es) dropped", dropped)
	} else {
		q.config.Logger.Println("Stopped")
	}
}

// Stats returns a snapshot of the counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.jobs)
	s.Running = q.alive
	return s
}

// Running reports whether a worker is alive.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.alive
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) notifySpaceLocked() {
	close(q.space)
	q.space = make(chan struct{})
}

// ensureWorkerLocked spawns a worker unless one is alive.
func (q *Queue) ensureWorkerLocked() {
	if q.alive {
		return
	}
	if q.spawned > 0 {
		q.stats.Restarts++
		q.config.Logger.Println("Restarting worker")
	}
	q.spawned++
	q.alive = true
	q.done = make(chan struct{})
	go q.work(q.ctx, q.done)
}
