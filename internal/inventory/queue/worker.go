package queue

import (
	"context"
	"fmt"
	"time"
)

// work is the worker loop. It exits when the queue is stopped and empty,
// when ctx is cancelled, or after the first failed job.
func (q *Queue) work(ctx context.Context, done chan struct{}) {
	defer close(done)

	idle := time.NewTimer(q.config.IdleInterval)
	defer idle.Stop()

	for {
		job, stop := q.next()
		if stop || ctx.Err() != nil {
			q.exit()
			return
		}

		if job == nil {
			idle.Reset(q.config.IdleInterval)
			select {
			case <-q.wake:
			case <-idle.C:
			case <-ctx.Done():
			}
			continue
		}

		if err := q.run(ctx, job); err != nil {
			// run already marked the worker dead.
			q.config.Logger.Printf("Worker exiting after failed pass %s", job.ID())
			return
		}
	}
}

// next pops the head of the queue. stop is true once the queue is stopped
// and nothing is left to drain.
func (q *Queue) next() (job Job, stop bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil, q.stopped
	}
	job = q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	q.notifySpaceLocked()
	return job, false
}

func (q *Queue) exit() {
	q.mu.Lock()
	q.alive = false
	q.mu.Unlock()
}

// run persists one job and fires the hooks.
//
// A failure clears alive before the hooks run, so an Enqueue made while the
// failed worker is still on its way out spawns a replacement.
func (q *Queue) run(ctx context.Context, job Job) error {
	start := time.Now()
	err := persist(ctx, job)
	took := time.Since(start)

	q.mu.Lock()
	if err != nil {
		q.stats.Failed++
		q.alive = false
	} else {
		q.stats.Processed++
	}
	q.mu.Unlock()

	if err != nil {
		q.config.Logger.Printf("Error persisting pass %s: %v", job.ID(), err)
		if q.config.OnFailed != nil {
			q.config.OnFailed(job, err)
		}
		return err
	}
	if q.config.OnPersisted != nil {
		q.config.OnPersisted(job, took)
	}
	return nil
}

// persist runs job.Persist, turning a panic into an error.
func persist(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while persisting pass %s: %v", job.ID(), r)
		}
	}()
	return job.Persist(ctx)
}
