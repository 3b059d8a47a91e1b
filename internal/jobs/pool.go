// Package jobs provides the bounded worker pool that executes document
// jobs. Durability comes from the store, not the queue: any accepted job's
// document is already persisted in queued state, so a crash loses only the
// in-flight scheduling, and recovery resubmits from the store on startup.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrQueueFull is returned when the submission queue is at capacity.
	ErrQueueFull = errors.New("job queue full")
	// ErrDuplicate is returned when a job for the same key is already
	// queued or running.
	ErrDuplicate = errors.New("job already queued for this key")
	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("job pool stopped")
)

// Job is a unit of document work.
type Job interface {
	// Key dedupes submissions; one job per key at a time.
	Key() string
	Execute(ctx context.Context) error
}

// Pool runs jobs on a fixed set of workers with per-key dedup.
type Pool struct {
	queue   chan Job
	workers int
	logger  *slog.Logger

	mu      sync.Mutex
	active  map[string]struct{}
	stopped bool

	wg sync.WaitGroup
}

func NewPool(queueSize, workers int, logger *slog.Logger) *Pool {
	if queueSize <= 0 {
		queueSize = 32
	}
	if workers <= 0 {
		workers = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:   make(chan Job, queueSize),
		workers: workers,
		active:  make(map[string]struct{}),
		logger:  logger,
	}
}

// Start launches the workers. They run until ctx is cancelled or Stop is
// called.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Submit enqueues a job. It never blocks; a full queue or duplicate key is
// an error the caller reports upstream.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	if _, busy := p.active[job.Key()]; busy {
		p.mu.Unlock()
		return ErrDuplicate
	}
	p.active[job.Key()] = struct{}{}
	p.mu.Unlock()

	select {
	case p.queue <- job:
		return nil
	default:
		p.release(job.Key())
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.queue)
	p.wg.Wait()
}

// ActiveCount returns how many keys are queued or running.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(ctx, id, job)
		}
	}
}

func (p *Pool) run(ctx context.Context, workerID int, job Job) {
	defer p.release(job.Key())
	p.logger.Info("job started", "worker", workerID, "key", job.Key())
	if err := job.Execute(ctx); err != nil {
		p.logger.Error("job failed", "worker", workerID, "key", job.Key(), "error", err)
		return
	}
	p.logger.Info("job finished", "worker", workerID, "key", job.Key())
}

func (p *Pool) release(key string) {
	p.mu.Lock()
	delete(p.active, key)
	p.mu.Unlock()
}
