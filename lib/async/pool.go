// Package async provides bounded worker pool utilities.
package async

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/panics"

	"github.com/coachpo/secsearch/errs"
)

// Task represents a unit of work executed by the pool.
type Task func(context.Context) error

// Pool bounds the number of concurrently running tasks. Submit blocks while
// the pool is saturated, which lets producers apply backpressure upstream.
type Pool struct {
	slots    chan struct{}
	done     chan struct{}
	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	inflight atomic.Int64
	onError  func(error)
}

// Option customises a Pool.
type Option func(*Pool)

// WithErrorHandler receives task errors and recovered panics.
func WithErrorHandler(fn func(error)) Option {
	return func(p *Pool) {
		if fn != nil {
			p.onError = fn
		}
	}
}

// NewPool creates a pool running at most workers tasks at once.
func NewPool(workers int, opts ...Option) (*Pool, error) {
	if workers <= 0 {
		return nil, errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("workers must be >0"))
	}
	p := &Pool{
		slots:   make(chan struct{}, workers),
		done:    make(chan struct{}),
		onError: func(error) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Submit waits for a free slot and runs fn on its own goroutine.
func (p *Pool) Submit(ctx context.Context, fn Task) error {
	if fn == nil {
		return errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-p.done:
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool closed"))
	case <-ctx.Done():
		return fmt.Errorf("submit context: %w", ctx.Err())
	case p.slots <- struct{}{}:
	}
	return p.start(ctx, fn)
}

func (p *Pool) start(ctx context.Context, fn Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool closed"))
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.inflight.Add(1)
	go func() {
		defer func() {
			p.inflight.Add(-1)
			<-p.slots
			p.wg.Done()
		}()
		var catcher panics.Catcher
		var taskErr error
		catcher.Try(func() { taskErr = fn(ctx) })
		if recovered := catcher.Recovered(); recovered != nil {
			p.onError(recovered.AsError())
			return
		}
		if taskErr != nil {
			p.onError(taskErr)
		}
	}()
	return nil
}

// InFlight reports the number of running tasks.
func (p *Pool) InFlight() int {
	return int(p.inflight.Load())
}

// Close stops accepting new tasks. Running tasks are not interrupted.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.done)
}

// Shutdown closes the pool and waits for running tasks or until ctx expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-done:
		return nil
	}
}
