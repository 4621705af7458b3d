package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/steveyegge/invsync/internal/inventory/cache"
	"github.com/steveyegge/invsync/internal/inventory/graph"
	"github.com/steveyegge/invsync/internal/inventory/queue"
	"github.com/steveyegge/invsync/internal/inventory/schema"
	"github.com/steveyegge/invsync/internal/inventory/source"
)

// Config holds configuration for the daemon.
type Config struct {
	// Source names the remote source in status records and logs
	Source string

	// ReconnectDelay is how long to wait before reconnecting after a fault
	ReconnectDelay time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Source:         "default",
		ReconnectDelay: 5 * time.Second,
		Logger:         log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// StatusRecorder stores the user-visible outcome of source activity.
// A nil err records a success at version.
type StatusRecorder interface {
	RecordStatus(ctx context.Context, source, version string, err error) error
}

// Enqueuer accepts sealed passes.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// Stats counts loop activity.
type Stats struct {
	Connected  bool   `json:"connected"`
	Version    string `json:"version"`
	Batches    int    `json:"batches"`
	Passes     int    `json:"passes"`
	Discarded  int    `json:"discarded"`
	Reconnects int    `json:"reconnects"`
	Faults     int    `json:"faults"`
}

// Daemon drives one remote source into the store.
type Daemon struct {
	sub     source.Subscription
	creds   source.Credentials
	cache   *cache.Cache
	builder *graph.Builder
	store   graph.Store
	queue   Enqueuer
	status  StatusRecorder
	config  *Config

	session  source.Session
	connects int
	poisoned bool // the pass in progress was discarded

	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}

	statsMu sync.Mutex
	stats   Stats
}

// New creates a daemon. status may be nil. A nil config uses DefaultConfig.
func New(sub source.Subscription, creds source.Credentials, c *cache.Cache, builder *graph.Builder,
	store graph.Store, q Enqueuer, status StatusRecorder, config *Config) (*Daemon, error) {
	if sub == nil {
		return nil, fmt.Errorf("subscription cannot be nil")
	}
	if c == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if builder == nil {
		return nil, fmt.Errorf("builder cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if q == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	return &Daemon{
		sub:     sub,
		creds:   creds,
		cache:   c,
		builder: builder,
		store:   store,
		queue:   q,
		status:  status,
		config:  config,
		stopCh:  make(chan struct{}),
	}, nil
}

// Run loops until Stop is called or ctx ends. It returns an error only
// when the queue has been stopped.
func (d *Daemon) Run(ctx context.Context) error {
	d.config.Logger.Printf("Starting synchronization loop for %s", d.config.Source)
	defer d.disconnect()

	for !d.stopped.Load() && ctx.Err() == nil {
		if d.session == nil {
			baseline, err := d.connect(ctx)
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				d.fault(ctx, "connect", err)
				d.sleep(ctx, d.config.ReconnectDelay)
				continue
			}
			if err := d.apply(ctx, baseline); err != nil {
				if ctx.Err() != nil {
					break
				}
				return err
			}
			continue
		}

		batch, err := d.session.WaitForUpdates(ctx)
		if errors.Is(err, source.ErrNoUpdates) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			d.fault(ctx, "wait", err)
			d.disconnect()
			d.sleep(ctx, d.config.ReconnectDelay)
			continue
		}

		if err := d.apply(ctx, batch); err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
	}

	d.config.Logger.Println("Synchronization loop stopped")
	return nil
}

// RunOnce connects, hands one full pass to the queue and disconnects.
func (d *Daemon) RunOnce(ctx context.Context) error {
	defer d.disconnect()
	baseline, err := d.connect(ctx)
	if err != nil {
		d.fault(ctx, "connect", err)
		return err
	}
	return d.apply(ctx, baseline)
}

// Stop asks the loop to exit after the wait in progress.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stop requested")
		d.stopped.Store(true)
		close(d.stopCh)
	})
}

// Stats returns a snapshot of the loop counters.
func (d *Daemon) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

func (d *Daemon) updateStats(fn func(s *Stats)) {
	d.statsMu.Lock()
	fn(&d.stats)
	d.statsMu.Unlock()
}

// connect opens a session, resets the cache and begins a full pass. The
// returned baseline has not been applied yet.
func (d *Daemon) connect(ctx context.Context) (*schema.UpdateBatch, error) {
	d.config.Logger.Printf("Connecting to %s", d.config.Source)
	sess, err := d.sub.Connect(ctx, d.creds)
	if err != nil {
		return nil, err
	}

	baseline, err := sess.Enumerate(ctx)
	if err != nil {
		_ = sess.Disconnect(ctx)
		return nil, fmt.Errorf("failed to enumerate: %w", err)
	}

	d.session = sess
	d.cache.Reset()
	d.builder.Begin(graph.ModeFull)
	d.poisoned = false

	d.updateStats(func(s *Stats) {
		if d.connects > 0 {
			s.Reconnects++
		}
		s.Connected = true
	})
	d.connects++
	d.config.Logger.Printf("Connected, baseline has %d objects (version %s)", len(baseline.Entries), baseline.Version)

	// The baseline is one complete batch regardless of how it was delivered.
	baseline.Truncated = false
	return baseline, nil
}

func (d *Daemon) disconnect() {
	if d.session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.session.Disconnect(ctx); err != nil {
		d.config.Logger.Printf("Error disconnecting: %v", err)
	}
	d.session = nil
	d.builder.Discard()
	d.updateStats(func(s *Stats) { s.Connected = false })
}

// apply feeds one batch through the cache into the pass in progress, and
// hands the pass off at a batch boundary.
func (d *Daemon) apply(ctx context.Context, batch *schema.UpdateBatch) error {
	if d.builder.Current() == nil && !d.poisoned {
		d.builder.Begin(graph.ModeTargeted)
	}

	for i := range batch.Entries {
		d.applyEntry(ctx, &batch.Entries[i])
	}
	d.updateStats(func(s *Stats) {
		s.Batches++
		if batch.Version != "" {
			s.Version = batch.Version
		}
	})

	if batch.Truncated {
		return nil
	}
	return d.handOff(ctx, batch.Version)
}

func (d *Daemon) applyEntry(ctx context.Context, u *schema.ObjectUpdate) {
	var tree map[string]any
	var err error

	switch u.Kind {
	case schema.KindEnter:
		tree, err = d.cache.Insert(u.Object, u.Changes)
	case schema.KindModify:
		tree, err = d.cache.Update(u.Object, u.Changes)
		if tree == nil && err == nil {
			d.config.Logger.Printf("Warning: modify for uncached %s, skipping", u.Object)
			return
		}
	case schema.KindLeave:
		d.cache.Delete(u.Object)
	default:
		d.config.Logger.Printf("Warning: unknown kind %q for %s, skipping", u.Kind, u.Object)
		return
	}
	if err != nil {
		d.config.Logger.Printf("Warning: %s %s: %v", u.Kind, u.Object, err)
	}

	if d.poisoned {
		return
	}

	err = d.builder.Add(u.Object, u.Kind, tree)
	var unknown *graph.UnknownObjectTypeError
	switch {
	case err == nil:
	case errors.As(err, &unknown):
		d.config.Logger.Printf("Error: %v, discarding pass", err)
		d.builder.Discard()
		d.poisoned = true
		d.updateStats(func(s *Stats) { s.Discarded++ })
		d.record(ctx, fmt.Errorf("pass discarded: %w", err))
	default:
		d.config.Logger.Printf("Warning: %v", err)
	}
}

// handOff seals the pass in progress, enqueues it, and begins the next one.
func (d *Daemon) handOff(ctx context.Context, version string) error {
	defer d.builder.Begin(graph.ModeTargeted)

	if d.poisoned {
		d.poisoned = false
		return nil
	}

	g := d.builder.Finish(version)
	if g == nil || (g.Mode == graph.ModeTargeted && g.Len() == 0 && len(g.ObjectTypes()) == 0) {
		return nil
	}

	job := graph.NewJob(g, d.store, d.config.Logger)
	d.updateStats(func(s *Stats) { s.Passes++ })
	if err := d.queue.Enqueue(ctx, job); err != nil {
		// A sync queue reports persistence failures here; those end only the pass.
		if errors.Is(err, queue.ErrStopped) || ctx.Err() != nil {
			return fmt.Errorf("failed to enqueue pass %s: %w", g.ID, err)
		}
		d.config.Logger.Printf("Error persisting pass %s: %v", g.ID, err)
	}
	return nil
}

func (d *Daemon) fault(ctx context.Context, op string, err error) {
	d.config.Logger.Printf("Session fault during %s: %v", op, err)
	d.updateStats(func(s *Stats) { s.Faults++ })
	d.record(ctx, err)
}

func (d *Daemon) record(ctx context.Context, err error) {
	if d.status == nil {
		return
	}
	if rerr := d.status.RecordStatus(context.WithoutCancel(ctx), d.config.Source, d.Stats().Version, err); rerr != nil {
		d.config.Logger.Printf("Error recording status: %v", rerr)
	}
}

// sleep waits for delay unless the daemon stops or ctx ends first.
func (d *Daemon) sleep(ctx context.Context, delay time.Duration) {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-d.stopCh:
	case <-ctx.Done():
	}
}
