// Package workpool bounds how many storage operations run at once. Callers
// that stop waiting do not stop the operation: once started, a job always
// runs to completion so a transfer is never abandoned halfway.
package workpool

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"
)

// Pool runs jobs on at most size goroutines.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// New creates a pool. A size below 1 is treated as 1.
func New(size int) *Pool {
	size = max(size, 1)
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

func (p *Pool) Size() int { return p.size }

// Submit queues fn and returns a channel that receives its result. The job
// waits for a free slot without a deadline.
func (p *Pool) Submit(fn func() error) <-chan error {
	done := make(chan error, 1)
	go func() {
		_ = p.sem.Acquire(context.Background(), 1)
		done <- p.run(fn)
	}()
	return done
}

// Do runs fn on the pool and waits for its result. If ctx ends while fn is
// still waiting for a slot, fn never runs. If ctx ends after fn has started,
// Do returns ctx.Err() and fn keeps running in the background.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- p.run(fn)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) run(fn func() error) (err error) {
	defer p.sem.Release(1)
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Pool job panicked", "panic", rec)
			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()
	return fn()
}
