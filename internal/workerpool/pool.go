// Package workerpool runs outbox replays on a fixed number of goroutines.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is one replay attempt. Key identifies it in logs.
type Job struct {
	Key string
	Run func(context.Context) error
}

type queued struct {
	ctx  context.Context
	job  Job
	done func(error)
}

// Pool executes jobs with bounded parallelism.
type Pool struct {
	name      string
	workers   int
	queue     chan queued
	logger    *zap.Logger
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closeOnce sync.Once
	closed    chan struct{}

	running   int32
	submitted uint64
	succeeded uint64
	failed    uint64
	rejected  uint64
}

// Config holds pool configuration
type Config struct {
	Name      string
	Workers   int
	QueueSize int
	Logger    *zap.Logger
}

// New starts a pool. Zero values fall back to 4 workers and a queue of 64.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	p := &Pool{
		name:    cfg.Name,
		workers: cfg.Workers,
		queue:   make(chan queued, cfg.QueueSize),
		logger:  cfg.Logger,
		closed:  make(chan struct{}),
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.loop(i)
	}

	p.logger.Info("Worker pool started",
		zap.String("name", p.name),
		zap.Int("workers", p.workers),
		zap.Int("queue_size", cfg.QueueSize))

	return p
}

func (p *Pool) loop(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.closed:
			return
		case q := <-p.queue:
			err := p.execute(q)
			if err != nil {
				atomic.AddUint64(&p.failed, 1)
				p.logger.Debug("Job failed",
					zap.String("pool", p.name),
					zap.Int("worker_id", id),
					zap.String("job", q.job.Key),
					zap.Error(err))
			} else {
				atomic.AddUint64(&p.succeeded, 1)
			}
			if q.done != nil {
				q.done(err)
			}
		}
	}
}

func (p *Pool) execute(q queued) (err error) {
	atomic.AddInt32(&p.running, 1)
	defer atomic.AddInt32(&p.running, -1)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			p.logger.Error("Job panic recovered",
				zap.String("pool", p.name),
				zap.String("job", q.job.Key),
				zap.Any("panic", r))
		}
	}()

	if err := q.ctx.Err(); err != nil {
		return err
	}
	return q.job.Run(q.ctx)
}

// Submit enqueues a job, blocking until there is room, the context is
// canceled or the pool is stopped. done, if non-nil, receives the job result.
func (p *Pool) Submit(ctx context.Context, job Job, done func(error)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	select {
	case <-p.closed:
		atomic.AddUint64(&p.rejected, 1)
		return p.stoppedError()
	default:
	}

	select {
	case <-ctx.Done():
		atomic.AddUint64(&p.rejected, 1)
		return ctx.Err()
	case p.queue <- queued{ctx: ctx, job: job, done: done}:
		atomic.AddUint64(&p.submitted, 1)
		return nil
	}
}

// RunAll submits every job and waits for all accepted jobs to finish.
// The returned slice is index-aligned with jobs.
func (p *Pool) RunAll(ctx context.Context, jobs []Job) []error {
	results := make([]error, len(jobs))
	var wg sync.WaitGroup

	for i, job := range jobs {
		i := i
		wg.Add(1)
		err := p.Submit(ctx, job, func(err error) {
			results[i] = err
			wg.Done()
		})
		if err != nil {
			results[i] = err
			wg.Done()
		}
	}

	wg.Wait()
	return results
}

func (p *Pool) stoppedError() error {
	return fmt.Errorf("worker pool '%s' is stopped", p.name)
}

// Stop stops the workers and waits up to timeout for in-flight jobs.
// Jobs still queued are not executed; their done callbacks receive an error.
func (p *Pool) Stop(timeout time.Duration) error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		close(p.closed)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("Worker pool stopped", zap.String("name", p.name))
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool '%s' stop timeout after %v", p.name, timeout)
		}
		p.drain()
	})
	return err
}

func (p *Pool) drain() {
	for {
		select {
		case q := <-p.queue:
			atomic.AddUint64(&p.rejected, 1)
			if q.done != nil {
				q.done(p.stoppedError())
			}
		default:
			return
		}
	}
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Name      string
	Workers   int
	Running   int
	Queued    int
	Submitted uint64
	Succeeded uint64
	Failed    uint64
	Rejected  uint64
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Workers:   p.workers,
		Running:   int(atomic.LoadInt32(&p.running)),
		Queued:    len(p.queue),
		Submitted: atomic.LoadUint64(&p.submitted),
		Succeeded: atomic.LoadUint64(&p.succeeded),
		Failed:    atomic.LoadUint64(&p.failed),
		Rejected:  atomic.LoadUint64(&p.rejected),
	}
}
