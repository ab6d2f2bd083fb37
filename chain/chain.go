// Package chain serializes asynchronous steps behind a single tail.
//
// Every Schedule call reads the current tail and replaces it with the new
// step under one lock, so steps run in call order no matter how long each
// takes. A step starts only after the previous one settled, whether it
// returned a value, an error or panicked. Errors never stop later steps.
package chain

import (
	"context"
	"sync"

	"github.com/wippyai/wasm-harness/errors"
)

// Chain is a FIFO of asynchronous steps.
type Chain struct {
	ctx  context.Context
	tail <-chan struct{}
	n    int
	mu   sync.Mutex
}

// New creates an empty chain. Steps receive ctx.
func New(ctx context.Context) *Chain {
	done := make(chan struct{})
	close(done)
	return &Chain{ctx: ctx, tail: done}
}

// Context returns the context passed to steps.
func (c *Chain) Context() context.Context {
	return c.ctx
}

// Schedule appends work to c and returns its future. work runs on its own
// goroutine once every earlier step has settled.
func Schedule[T any](c *Chain, work func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()

	c.mu.Lock()
	prev := c.tail
	c.tail = f.done
	c.n++
	c.mu.Unlock()

	go func() {
		<-prev
		v, err := run(c.ctx, work)
		f.settle(v, err)
	}()
	return f
}

func run[T any](ctx context.Context, work func(ctx context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v = zero
			err = errors.New(errors.PhaseAssert, errors.KindUnexpectedError).
				Value(r).
				Detail("step panicked: %v", r).
				Build()
		}
	}()
	return work(ctx)
}

// Drain blocks until every step scheduled so far has settled.
func (c *Chain) Drain(ctx context.Context) error {
	c.mu.Lock()
	tail := c.tail
	c.mu.Unlock()

	select {
	case <-tail:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns how many steps have been scheduled.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
