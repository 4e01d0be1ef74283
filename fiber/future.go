package fiber

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/fiberfleet/distrun/internal/base"
)

// state tags a Promise's lifecycle: empty -> ready, or empty -> broken if
// the promise is dropped before it is ever resolved.
type state int32

const (
	stateEmpty state = iota
	stateReady
	stateBroken
)

// Future is the read end of a one-shot result. Join consumes the state:
// calling it more than once on the same Future panics, mirroring the
// original's non-shared future "get... may move the value out".
type Future[T any] struct {
	promise  *Promise[T]
	consumed atomic.Bool
}

// SharedFuture is the read end of a result observable by many callers.
// Join is idempotent and repeatable, unlike Future.Join.
type SharedFuture[T any] struct {
	promise *Promise[T]
}

// Promise is the write end paired to a Future or SharedFuture. SetValue
// (or SetError) may be called at most once; a second call panics, matching
// "set_value after a prior set_value is a fatal error". A promise dropped
// by the garbage collector without ever being resolved breaks its future,
// matching "destroying a promise without setting its value causes its
// associated future's get to fail with a broken-promise error" — the
// closest Go analog to C++ RAII destruction, grounded on
// internal/base/ThreadPool.go's own use of runtime.SetFinalizer to detect
// an undrained pool.
type Promise[T any] struct {
	done  chan struct{}
	mu    sync.Mutex
	value T
	err   error
	st    atomic.Int32
}

var errBrokenPromise = errors.New("fiber: broken promise")

// NewPromise creates an unresolved promise. If the returned promise is
// garbage-collected before SetValue/SetError is called, its future(s)
// observe a broken-promise error instead of hanging forever.
func NewPromise[T any]() *Promise[T] {
	p := &Promise[T]{done: make(chan struct{})}
	runtime.SetFinalizer(p, func(p *Promise[T]) {
		if state(p.st.Load()) == stateEmpty {
			p.resolve(stateBroken, *new(T), errBrokenPromise)
		}
	})
	return p
}

func (p *Promise[T]) resolve(to state, value T, err error) {
	if !p.st.CompareAndSwap(int32(stateEmpty), int32(to)) {
		base.LogPanic(LogFiber, "fiber: promise resolved twice")
	}
	p.mu.Lock()
	p.value = value
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

// SetValue installs the result and wakes every waiter.
func (p *Promise[T]) SetValue(value T) {
	p.resolve(stateReady, value, nil)
}

// SetError installs a failure and wakes every waiter.
func (p *Promise[T]) SetError(err error) {
	var zero T
	p.resolve(stateReady, zero, err)
}

// Future returns the single-consumer read end of this promise.
func (p *Promise[T]) Future() Future[T] {
	return Future[T]{promise: p}
}

// SharedFuture returns the many-consumer read end of this promise.
func (p *Promise[T]) SharedFuture() SharedFuture[T] {
	return SharedFuture[T]{promise: p}
}

// Ready is a non-suspending probe of readiness.
func (f Future[T]) Ready() bool {
	select {
	case <-f.promise.done:
		return true
	default:
		return false
	}
}

// Valid reports whether this future is still associated with a shared
// state that Join hasn't consumed yet — true immediately after a
// non-detached async, false once Join has been called, matching
// spec.md §8: "f.valid() holds immediately ... after f.get(), f.valid()
// is false."
func (f *Future[T]) Valid() bool {
	return !f.consumed.Load()
}

// Join blocks until the promise resolves and consumes the result. A
// second call panics.
func (f *Future[T]) Join() (T, error) {
	if !f.consumed.CompareAndSwap(false, true) {
		base.LogPanic(LogFiber, "fiber: future already consumed")
	}
	<-f.promise.done
	f.promise.mu.Lock()
	defer f.promise.mu.Unlock()
	return f.promise.value, f.promise.err
}

// Ready is a non-suspending probe of readiness.
func (f SharedFuture[T]) Ready() bool {
	select {
	case <-f.promise.done:
		return true
	default:
		return false
	}
}

// Valid is always true once a SharedFuture exists: unlike Future, Join
// is idempotent and never consumes the shared state, so there is no
// transition to invalid.
func (f SharedFuture[T]) Valid() bool {
	return true
}

// Join blocks until the promise resolves and returns the result. Callable
// any number of times from any number of goroutines.
func (f SharedFuture[T]) Join() (T, error) {
	<-f.promise.done
	f.promise.mu.Lock()
	defer f.promise.mu.Unlock()
	return f.promise.value, f.promise.err
}

// Ready is an already-resolved Future, grounded on
// internal/base/Future.go's future_literal.
func Ready[T any](value T) Future[T] {
	p := &Promise[T]{done: closedChan(), st: atomic.Int32{}}
	p.st.Store(int32(stateReady))
	p.value = value
	return p.Future()
}

// Failed is an already-resolved Future carrying an error.
func Failed[T any](err error) Future[T] {
	p := &Promise[T]{done: closedChan()}
	p.st.Store(int32(stateReady))
	p.err = err
	return p.Future()
}

var closedChan = base.Memoize(func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
})

// Then schedules continuation as a new fiber once future becomes ready,
// matching "then(continuation): when the future becomes ready, the
// continuation is scheduled as a new fiber receiving the ready future —
// if the future is already ready at the time of then, the continuation
// is enqueued immediately."
func Then[T, U any](pool *Pool, future Future[T], continuation func(T, error) (U, error)) Future[U] {
	promise := NewPromise[U]()
	pool.Go(func() {
		value, err := future.Join()
		out, outErr := continuation(value, err)
		if outErr != nil {
			promise.SetError(outErr)
		} else {
			promise.SetValue(out)
		}
	})
	return promise.Future()
}
