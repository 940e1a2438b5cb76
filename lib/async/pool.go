// Package async provides bounded worker pool utilities.
package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/quayside/bitmexgw/errs"
	"github.com/quayside/bitmexgw/internal/observability"
)

// Task is a unit of work executed by a pool worker. Tasks own their error
// handling; the pool only guarantees execution and panic containment.
type Task func(context.Context)

// Pool runs tasks on a fixed set of workers with a bounded queue. Submit
// blocks while the queue is full, so callers inherit backpressure instead of
// silently growing memory.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc

	jobs     chan job
	closed   atomic.Bool
	inflight sync.WaitGroup
	once     sync.Once
}

type job struct {
	ctx context.Context
	fn  Task
}

// NewPool creates a worker pool with the given concurrency and queue depth.
func NewPool(workers, queue int) (*Pool, error) {
	if workers <= 0 {
		return nil, errs.New("async", errs.CodeInvalid, errs.WithMessage("workers must be >0"))
	}
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := new(Pool)
	p.ctx = ctx
	p.cancel = cancel
	p.jobs = make(chan job, queue)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit queues the task, blocking while the queue is full. It fails once the
// pool is shut down or when ctx ends first.
func (p *Pool) Submit(ctx context.Context, fn Task) error {
	if fn == nil {
		return errs.New("async", errs.CodeInvalid, errs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if p.closed.Load() {
		return errs.New("async", errs.CodeUnavailable, errs.WithMessage("pool closed"))
	}
	p.inflight.Add(1)
	select {
	case <-p.ctx.Done():
		p.inflight.Done()
		return errs.New("async", errs.CodeUnavailable, errs.WithMessage("pool closed"))
	case <-ctx.Done():
		p.inflight.Done()
		return fmt.Errorf("submit context: %w", ctx.Err())
	case p.jobs <- job{ctx: ctx, fn: fn}:
		return nil
	}
}

// TrySubmit queues the task without blocking; a full queue is an error.
func (p *Pool) TrySubmit(ctx context.Context, fn Task) error {
	if fn == nil {
		return errs.New("async", errs.CodeInvalid, errs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if p.closed.Load() {
		return errs.New("async", errs.CodeUnavailable, errs.WithMessage("pool closed"))
	}
	p.inflight.Add(1)
	select {
	case p.jobs <- job{ctx: ctx, fn: fn}:
		return nil
	default:
		p.inflight.Done()
		return errs.New("async", errs.CodeUnavailable, errs.WithMessage("pool at capacity"))
	}
}

// Shutdown stops accepting tasks, lets the queued ones drain, then releases
// the workers. The context bounds the drain.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.closed.Store(true)
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		p.stop()
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-done:
		p.stop()
		return nil
	}
}

// Close abandons the queue and releases workers immediately.
func (p *Pool) Close() {
	p.closed.Store(true)
	p.stop()
}

func (p *Pool) stop() {
	p.once.Do(p.cancel)
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.jobs:
			p.run(j)
			p.inflight.Done()
		}
	}
}

func (p *Pool) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			observability.Log().Error("async task panic",
				observability.Field{Key: "panic", Value: fmt.Sprint(r)},
				observability.String("stack", string(debug.Stack())))
		}
	}()
	ctx := j.ctx
	if ctx == nil {
		ctx = p.ctx
	}
	j.fn(ctx)
}
