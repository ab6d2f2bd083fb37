package chain

import "context"

// Future is a write-once result.
type Future[T any] struct {
	val  T
	err  error
	done chan struct{}
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future that is already settled.
func Resolved[T any](v T, err error) *Future[T] {
	f := newFuture[T]()
	f.settle(v, err)
	return f
}

func (f *Future[T]) settle(v T, err error) {
	f.val, f.err = v, err
	close(f.done)
}

// Done is closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has settled.
func (f *Future[T]) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Await blocks until the future settles or ctx ends.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	if f.Settled() {
		return f.val, f.err
	}
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then returns a future settled with fn's result once f settles. fn runs on
// its own goroutine and is not part of any chain. A panic in fn settles the
// returned future with an error, the same way a panicking step does.
func Then[T, U any](f *Future[T], fn func(T, error) (U, error)) *Future[U] {
	out := newFuture[U]()
	go func() {
		<-f.done
		out.settle(run(context.Background(), func(context.Context) (U, error) {
			return fn(f.val, f.err)
		}))
	}()
	return out
}
