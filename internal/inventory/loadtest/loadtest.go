// Package loadtest drives a synthetic inventory through the full
// synchronization pipeline and measures pass and query latency.
//
// A run enumerates a generated baseline, applies a stream of modify batches
// as targeted passes and, at the same time, runs concurrent readers against
// the store. The resulting latency statistics show how persistence and
// queries hold up under write load.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/invsync/internal/inventory/cache"
	"github.com/steveyegge/invsync/internal/inventory/daemon"
	"github.com/steveyegge/invsync/internal/inventory/db"
	"github.com/steveyegge/invsync/internal/inventory/graph"
	"github.com/steveyegge/invsync/internal/inventory/queue"
	"github.com/steveyegge/invsync/internal/inventory/source"
	"github.com/steveyegge/invsync/internal/inventory/vsphere"
)

// SourceName is the source name runs record their passes under.
const SourceName = "loadtest"

// Config holds configuration for a load test run.
type Config struct {
	VMs             int
	Hosts           int
	Datastores      int
	Batches         int
	ChangesPerBatch int
	// Readers is the number of concurrent query goroutines
	Readers int
	// Seed makes the workload reproducible
	Seed int64
	// Timeout bounds the whole run
	Timeout time.Duration
	Logger  *log.Logger
}

// DefaultConfig returns a medium-sized workload.
func DefaultConfig() *Config {
	return &Config{
		VMs:             1000,
		Hosts:           20,
		Datastores:      10,
		Batches:         50,
		ChangesPerBatch: 25,
		Readers:         4,
		Seed:            42,
		Timeout:         5 * time.Minute,
		Logger:          log.New(io.Discard, "", 0),
	}
}

// Validate checks the workload sizes.
func (c *Config) Validate() error {
	switch {
	case c.VMs <= 0:
		return fmt.Errorf("vms must be positive")
	case c.Hosts <= 0:
		return fmt.Errorf("hosts must be positive")
	case c.Datastores <= 0:
		return fmt.Errorf("datastores must be positive")
	case c.Batches < 0:
		return fmt.Errorf("batches cannot be negative")
	case c.ChangesPerBatch <= 0:
		return fmt.Errorf("changes per batch must be positive")
	case c.Readers < 0:
		return fmt.Errorf("readers cannot be negative")
	}
	return nil
}

// LatencyStats captures a latency distribution.
type LatencyStats struct {
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Count int           `json:"count"`
}

// Result is the outcome of one run.
type Result struct {
	Passes   int                       `json:"passes"`
	Failed   int                       `json:"failed"`
	Passing  *LatencyStats             `json:"pass_latency"`
	Queries  *LatencyStats             `json:"query_latency"`
	Duration time.Duration             `json:"duration"`
	Records  map[string]db.RecordCount `json:"records"`
	// Expected live counts derived from the workload
	ExpectedVMs   int `json:"expected_vms"`
	ExpectedDisks int `json:"expected_disks"`
}

// Consistent reports whether the store ended with the workload's live counts.
func (r *Result) Consistent() bool {
	return r.Records[vsphere.RecordVM].Live == r.ExpectedVMs &&
		r.Records[vsphere.RecordVMDisk].Live == r.ExpectedDisks
}

// recorder collects pass outcomes from the queue hooks and keeps the
// source status current.
type recorder struct {
	store  *db.DB
	mu     sync.Mutex
	took   []time.Duration
	failed int
	want   int
	done   chan struct{}
	once   sync.Once
}

func (r *recorder) persisted(job queue.Job, took time.Duration) {
	r.status(job, nil)
	r.mu.Lock()
	r.took = append(r.took, took)
	r.mu.Unlock()
	r.check()
}

func (r *recorder) fail(job queue.Job, err error) {
	r.status(job, err)
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()
	r.check()
}

func (r *recorder) status(job queue.Job, err error) {
	version := ""
	if gj, ok := job.(*graph.Job); ok {
		version = gj.Graph().Version
	}
	_ = r.store.RecordStatus(context.Background(), SourceName, version, err)
}

func (r *recorder) check() {
	r.mu.Lock()
	n := len(r.took) + r.failed
	r.mu.Unlock()
	if n >= r.want {
		r.once.Do(func() { close(r.done) })
	}
}

// Run applies a generated workload to store and measures it.
// The store must have its schema initialized.
func Run(ctx context.Context, store *db.DB, cfg *Config) (*Result, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid load test config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	w := Generate(cfg)
	sub := source.NewMemory("lt-0", w.Baseline)
	sub.WaitTimeout = 5 * time.Millisecond
	for _, b := range w.Batches {
		sub.Push(b)
	}

	rec := &recorder{store: store, want: len(w.Batches) + 1, done: make(chan struct{})}
	q := queue.New(&queue.Config{
		Mode:        queue.ModeSync,
		Logger:      logger,
		OnPersisted: rec.persisted,
		OnFailed:    rec.fail,
	})
	defer q.Stop(false)

	d, err := daemon.New(sub, source.Credentials{}, cache.New(),
		graph.NewBuilder(vsphere.NewRegistry(), SourceName, logger), store, q, store,
		&daemon.Config{Source: SourceName, ReconnectDelay: 10 * time.Millisecond, Logger: logger})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	readersDone := make(chan struct{})

	g.Go(func() error {
		return d.Run(gctx)
	})
	g.Go(func() error {
		defer close(readersDone)
		defer d.Stop()
		select {
		case <-rec.done:
			return nil
		case <-gctx.Done():
			return fmt.Errorf("load test did not finish: %w", gctx.Err())
		}
	})

	var qmu sync.Mutex
	var queries []time.Duration
	for i := 0; i < cfg.Readers; i++ {
		reader := i
		g.Go(func() error {
			var local []time.Duration
			defer func() {
				qmu.Lock()
				queries = append(queries, local...)
				qmu.Unlock()
			}()
			for {
				select {
				case <-readersDone:
					return nil
				default:
				}
				t0 := time.Now()
				var qerr error
				if reader%2 == 0 {
					_, qerr = store.ListRecords(gctx, db.ListRecordsFilter{Type: vsphere.RecordVM, Limit: 50})
				} else {
					_, qerr = store.CountRecords(gctx)
				}
				if qerr != nil {
					if gctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("reader %d query failed: %w", reader, qerr)
				}
				local = append(local, time.Since(t0))
				time.Sleep(time.Millisecond)
			}
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	elapsed := time.Since(start)

	counts, err := store.CountRecords(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return &Result{
		Passes:        len(rec.took),
		Failed:        rec.failed,
		Passing:       computeLatencyStats(rec.took),
		Queries:       computeLatencyStats(queries),
		Duration:      elapsed,
		Records:       counts,
		ExpectedVMs:   w.LiveVMs,
		ExpectedDisks: w.LiveDisks,
	}, nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Count: len(sorted),
	}
}

// Print writes the statistics under a heading.
func (s *LatencyStats) Print(w io.Writer, heading string) {
	fmt.Fprintf(w, "%s:\n", heading)
	fmt.Fprintf(w, "  Count:         %d\n", s.Count)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
