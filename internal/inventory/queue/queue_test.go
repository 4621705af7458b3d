package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// fakeJob runs fn when persisted.
type fakeJob struct {
	id string
	fn func(ctx context.Context) error
}

func (j *fakeJob) ID() string { return j.id }

func (j *fakeJob) Persist(ctx context.Context) error {
	if j.fn == nil {
		return nil
	}
	return j.fn(ctx)
}

// recorder collects persisted job ids in order.
type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) job(id string) *fakeJob {
	return &fakeJob{id: id, fn: func(context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.ids = append(r.ids, id)
		return nil
	}}
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func testConfig() *Config {
	return &Config{
		Mode:         ModeAsync,
		IdleInterval: 5 * time.Millisecond,
		JoinTimeout:  2 * time.Second,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestQueue_FIFO(t *testing.T) {
	q := New(testConfig())
	q.Start()

	rec := &recorder{}
	var want []string
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("pass-%02d", i)
		want = append(want, id)
		if err := q.Enqueue(context.Background(), rec.job(id)); err != nil {
			t.Fatalf("Enqueue(%s) failed: %v", id, err)
		}
	}
	q.Stop(true)

	if diff := cmp.Diff(want, rec.got()); diff != "" {
		t.Errorf("persist order mismatch (-want +got):\n%s", diff)
	}
	if s := q.Stats(); s.Processed != 20 || s.Dropped != 0 || s.Pending != 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestQueue_SyncModeRunsInline(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeSync
	q := New(cfg)

	ran := false
	if err := q.Enqueue(context.Background(), &fakeJob{id: "a", fn: func(context.Context) error {
		ran = true
		return nil
	}}); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Error("sync Enqueue returned before the job ran")
	}

	boom := errors.New("disk full")
	if err := q.Enqueue(context.Background(), &fakeJob{id: "b", fn: func(context.Context) error { return boom }}); !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
	if q.Running() {
		t.Error("sync mode should not run a worker")
	}
	if s := q.Stats(); s.Processed != 1 || s.Failed != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestQueue_WorkerSelfHeals(t *testing.T) {
	q := New(testConfig())
	q.Start()

	if err := q.Enqueue(context.Background(), &fakeJob{id: "bad", fn: func(context.Context) error {
		return errors.New("constraint violation")
	}}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "worker to exit", func() bool { return !q.Running() && q.Stats().Failed == 1 })

	rec := &recorder{}
	if err := q.Enqueue(context.Background(), rec.job("good")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "good pass", func() bool { return len(rec.got()) == 1 })
	q.Stop(true)

	s := q.Stats()
	if s.Restarts != 1 || s.Failed != 1 || s.Processed != 1 {
		t.Errorf("Stats() = %+v, want 1 restart, 1 failed, 1 processed", s)
	}
}

func TestQueue_EnqueueFromOnFailedRuns(t *testing.T) {
	rec := &recorder{}
	errs := make(chan error, 1)
	cfg := testConfig()

	var q *Queue
	cfg.OnFailed = func(job Job, err error) {
		if job.ID() == "bad" {
			errs <- q.Enqueue(context.Background(), rec.job("next"))
		}
	}
	q = New(cfg)
	q.Start()

	if err := q.Enqueue(context.Background(), &fakeJob{id: "bad", fn: func(context.Context) error {
		return errors.New("disk full")
	}}); err != nil {
		t.Fatal(err)
	}
	if err := <-errs; err != nil {
		t.Fatalf("Enqueue from OnFailed: %v", err)
	}
	waitFor(t, "next pass", func() bool { return len(rec.got()) == 1 })
	q.Stop(true)

	s := q.Stats()
	if s.Pending != 0 || s.Processed != 1 || s.Failed != 1 || s.Restarts != 1 {
		t.Errorf("Stats() = %+v, want nothing pending, 1 processed, 1 failed, 1 restart", s)
	}
}

func TestQueue_PanicEndsWorker(t *testing.T) {
	var failed []string
	var mu sync.Mutex
	cfg := testConfig()
	cfg.OnFailed = func(job Job, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, job.ID())
	}
	q := New(cfg)
	q.Start()

	if err := q.Enqueue(context.Background(), &fakeJob{id: "panics", fn: func(context.Context) error {
		panic("nil map")
	}}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "worker to exit", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return !q.Running() && len(failed) == 1
	})
	q.Stop(false)

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"panics"}, failed); diff != "" {
		t.Errorf("OnFailed calls mismatch (-want +got):\n%s", diff)
	}
}

func TestQueue_OnPersisted(t *testing.T) {
	var mu sync.Mutex
	var persisted []string
	cfg := testConfig()
	cfg.OnPersisted = func(job Job, took time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		persisted = append(persisted, job.ID())
	}
	q := New(cfg)
	q.Start()
	for _, id := range []string{"a", "b"} {
		if err := q.Enqueue(context.Background(), &fakeJob{id: id}); err != nil {
			t.Fatal(err)
		}
	}
	q.Stop(true)

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"a", "b"}, persisted); diff != "" {
		t.Errorf("OnPersisted calls mismatch (-want +got):\n%s", diff)
	}
}

// blockingJob signals when it starts and returns when ctx ends or release closes.
func blockingJob(id string, started chan<- struct{}, release <-chan struct{}) *fakeJob {
	return &fakeJob{id: id, fn: func(ctx context.Context) error {
		close(started)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
			return nil
		}
	}}
}

func TestQueue_StopWithoutWaitDropsQueued(t *testing.T) {
	q := New(testConfig())
	q.Start()

	started := make(chan struct{})
	if err := q.Enqueue(context.Background(), blockingJob("slow", started, nil)); err != nil {
		t.Fatal(err)
	}
	<-started
	for _, id := range []string{"x", "y"} {
		if err := q.Enqueue(context.Background(), &fakeJob{id: id}); err != nil {
			t.Fatal(err)
		}
	}

	q.Stop(false)
	if s := q.Stats(); s.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", s.Dropped)
	}
	waitFor(t, "in-flight pass to be cancelled", func() bool { return q.Stats().Failed == 1 })
}

func TestQueue_StopJoinTimeoutCancels(t *testing.T) {
	cfg := testConfig()
	cfg.JoinTimeout = 50 * time.Millisecond
	q := New(cfg)
	q.Start()

	started := make(chan struct{})
	if err := q.Enqueue(context.Background(), blockingJob("stuck", started, nil)); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := q.Enqueue(context.Background(), &fakeJob{id: "behind"}); err != nil {
		t.Fatal(err)
	}

	begin := time.Now()
	q.Stop(true)
	if took := time.Since(begin); took < cfg.JoinTimeout {
		t.Errorf("Stop(true) returned after %v, before the join timeout", took)
	}
	if s := q.Stats(); s.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", s.Dropped)
	}
}

func TestQueue_MaxPendingBlocks(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPending = 1
	q := New(cfg)
	q.Start()

	started := make(chan struct{})
	release := make(chan struct{})
	if err := q.Enqueue(context.Background(), blockingJob("head", started, release)); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := q.Enqueue(context.Background(), &fakeJob{id: "fills"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, &fakeJob{id: "over"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Enqueue on full queue error = %v, want deadline exceeded", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- q.Enqueue(context.Background(), &fakeJob{id: "waits"}) }()
	close(release)
	if err := <-errc; err != nil {
		t.Fatalf("blocked Enqueue failed: %v", err)
	}
	q.Stop(true)

	if s := q.Stats(); s.Processed != 3 {
		t.Errorf("Processed = %d, want 3", s.Processed)
	}
}

func TestQueue_EnqueueAfterStop(t *testing.T) {
	q := New(testConfig())
	q.Start()
	q.Stop(true)

	if err := q.Enqueue(context.Background(), &fakeJob{id: "late"}); !errors.Is(err, ErrStopped) {
		t.Errorf("error = %v, want ErrStopped", err)
	}

	q.Start()
	rec := &recorder{}
	if err := q.Enqueue(context.Background(), rec.job("again")); err != nil {
		t.Fatalf("Enqueue after restart failed: %v", err)
	}
	q.Stop(true)
	if len(rec.got()) != 1 {
		t.Error("job enqueued after Start was not persisted")
	}
}
