package fiber

import "sync/atomic"

// LaunchMode is a 4-valued enum combinable as a bitmask. Decode selects
// the highest-priority bit set (async > deferred > sync > detached); the
// default is LaunchAsync.
type LaunchMode uint8

const (
	LaunchAsync LaunchMode = 1 << iota
	LaunchDeferred
	LaunchSync
	LaunchDetached
)

// Decode resolves a possibly-combined bitmask down to the single mode
// that governs dispatch, by priority: async > deferred > sync > detached.
func (m LaunchMode) Decode() LaunchMode {
	switch {
	case m&LaunchAsync != 0:
		return LaunchAsync
	case m&LaunchDeferred != 0:
		return LaunchDeferred
	case m&LaunchSync != 0:
		return LaunchSync
	case m&LaunchDetached != 0:
		return LaunchDetached
	default:
		return LaunchAsync
	}
}

func (m LaunchMode) String() string {
	switch m.Decode() {
	case LaunchAsync:
		return "async"
	case LaunchDeferred:
		return "deferred"
	case LaunchSync:
		return "sync"
	case LaunchDetached:
		return "detached"
	default:
		return "async"
	}
}

// deferredFuture invokes f synchronously on the calling goroutine the
// first time Join is called, matching "deferred: return a future whose
// get synchronously invokes f(args...) on the caller fiber."
type deferredFuture[T any] struct {
	f        func() (T, error)
	consumed atomic.Bool
}

func (d *deferredFuture[T]) Ready() bool { return false }
func (d *deferredFuture[T]) Valid() bool { return !d.consumed.Load() }
func (d *deferredFuture[T]) Join() (T, error) {
	if !d.consumed.CompareAndSwap(false, true) {
		panic("fiber: Join called twice on a deferred future")
	}
	return d.f()
}

// invalidFuture is returned by detached launches: "spawn a new fiber now;
// return an invalid future." Join panics rather than hang, since an
// invalid future has nothing to wait on. Valid is always false, matching
// spec.md §4.2's "detached: ... return an invalid future."
type invalidFuture[T any] struct{}

func (invalidFuture[T]) Ready() bool { return false }
func (invalidFuture[T]) Valid() bool { return false }
func (invalidFuture[T]) Join() (T, error) {
	panic("fiber: Join called on an invalid (detached-launch) future")
}

// Awaitable is satisfied by Future[T] and by the deferred/invalid launch
// results Async returns, so callers can treat every launch mode
// uniformly. Valid mirrors future::valid(): true for every non-detached
// launch until its result is consumed by Join, false for a detached
// launch's invalid future — see spec.md §8's testable property.
type Awaitable[T any] interface {
	Ready() bool
	Valid() bool
	Join() (T, error)
}

// Async launches f under the resolved mode onto pool:
//   - async: spawn a new fiber now; return a future for the result.
//   - deferred: return a future whose Join synchronously invokes f on the
//     caller fiber.
//   - sync: invoke now on the caller fiber; return an already-ready future.
//   - detached: spawn a new fiber now; return an invalid future.
func Async[T any](pool *Pool, mode LaunchMode, f func() (T, error)) Awaitable[T] {
	switch mode.Decode() {
	case LaunchDeferred:
		return &deferredFuture[T]{f: f}

	case LaunchSync:
		value, err := f()
		if err != nil {
			future := Failed[T](err)
			return &future
		}
		future := Ready[T](value)
		return &future

	case LaunchDetached:
		pool.Go(func() { _, _ = f() })
		return invalidFuture[T]{}

	default: // LaunchAsync
		promise := NewPromise[T]()
		pool.Go(func() {
			value, err := f()
			if err != nil {
				promise.SetError(err)
			} else {
				promise.SetValue(value)
			}
		})
		future := promise.Future()
		return &future
	}
}
