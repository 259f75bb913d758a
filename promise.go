package greendonut

import (
	"context"
	"errors"

	"go.uber.org/atomic"
)

// ErrSettled is returned by Promise.Set when the promise already holds a
// result.
var ErrSettled = errors.New("promise already settled")

// Promise is the write side of a one-shot completion cell. It is settled at
// most once; every Future obtained from it observes the same result.
type Promise[V any] struct {
	settled atomic.Bool
	result  Result[V]
	done    chan struct{}
}

func NewPromise[V any]() *Promise[V] {
	return &Promise[V]{
		done: make(chan struct{}),
	}
}

// Set settles the promise, failing with ErrSettled on a second call.
func (p *Promise[V]) Set(result Result[V]) error {
	if !p.TrySet(result) {
		return ErrSettled
	}
	return nil
}

// TrySet settles the promise and reports whether this call won. The result is
// published before the done channel closes, so awaiters never observe a
// half-settled promise.
func (p *Promise[V]) TrySet(result Result[V]) bool {
	if !p.settled.CompareAndSwap(false, true) {
		return false
	}
	p.result = result
	close(p.done)
	return true
}

// Future returns the read side of the promise. Futures are cheap value
// handles and may be copied freely.
func (p *Promise[V]) Future() Future[V] {
	return Future[V]{p: p}
}

// Future is an awaitable handle on a promise. The zero Future is invalid.
type Future[V any] struct {
	p *Promise[V]
}

// Done is closed once the promise settles.
func (f Future[V]) Done() <-chan struct{} {
	return f.p.done
}

// Result returns the settled result, or false while the promise is pending.
func (f Future[V]) Result() (Result[V], bool) {
	select {
	case <-f.p.done:
		return f.p.result, true
	default:
		return Result[V]{}, false
	}
}

// Await blocks until the promise settles or ctx is done. The returned error
// reports abandonment only; load failures travel inside the Result.
func (f Future[V]) Await(ctx context.Context) (Result[V], error) {
	select {
	case <-f.p.done:
		return f.p.result, nil
	case <-ctx.Done():
		return Result[V]{}, ctx.Err()
	}
}

func (f Future[V]) valid() bool {
	return f.p != nil
}
