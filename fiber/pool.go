// Package fiber schedules cooperative units of work (fibers) onto a
// bounded pool of goroutines, and provides the future/promise/shared-future
// primitives fibers synchronize through.
//
// Go has no user-space stackful coroutine that can suspend mid-call-stack,
// so "fiber" here means a goroutine scheduled through Pool rather than a
// fiber multiplexed onto an OS thread by a custom scheduler. Suspension
// points (future.Join, Mutex.Lock, Yield) block the goroutine instead of
// yielding a stack, which is observationally the same for every caller in
// this package since nothing here walks or copies a fiber's stack.
package fiber

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/fiberfleet/distrun/internal/base"
)

var LogFiber = base.NewLogCategory("Fiber")

// threadingDisabled is a nestable counter: while positive, every
// subsequently-spawned fiber runs inline on the caller's goroutine
// instead of being queued to a pool, for embedding non-reentrant code
// (e.g. a parallel region in a library that isn't itself fiber-aware).
// server.DisableThreading/EnableThreading are thin wrappers over this.
var threadingDisabled atomic.Int32

// DisableThreading increments the nesting counter; pair with
// EnableThreading. Workers already running finish their current fiber
// before the effect is observed by new Go/GoPriority calls.
func DisableThreading() {
	threadingDisabled.Add(1)
}

// EnableThreading decrements the nesting counter.
func EnableThreading() {
	threadingDisabled.Add(-1)
}

func threadingIsDisabled() bool {
	return threadingDisabled.Load() > 0
}

// Pool is a fixed-size pool of worker goroutines fibers are multiplexed
// onto, grounded on internal/base/ThreadPool.go's fixedSizeThreadPool.
type Pool struct {
	inner base.ThreadPool
}

// NewPool creates a pool sized to hardware concurrency when arity <= 0,
// matching the original's "bounded pool of OS threads (hardware
// concurrency by default)".
func NewPool(name string, arity int) *Pool {
	if arity <= 0 {
		arity = runtime.NumCPU()
	}
	return &Pool{inner: base.NewFixedSizeThreadPool(name, arity)}
}

var globalPool = base.Memoize(func() *Pool {
	return NewPool("Fiber", runtime.NumCPU())
})

// GlobalPool returns the process-wide fiber pool used when no explicit
// Pool is threaded through a call.
func GlobalPool() *Pool {
	return globalPool()
}

// Go schedules f to run on one of the pool's worker goroutines at normal
// priority, unless DisableThreading is in effect, in which case f runs
// synchronously on the caller.
func (p *Pool) Go(f func()) {
	if threadingIsDisabled() {
		f()
		return
	}
	p.inner.Queue(func(base.ThreadContext) { f() }, base.TASKPRIORITY_NORMAL, base.ThreadPoolDebugId{Category: "fiber.Go"})
}

// GoPriority schedules f at an explicit priority; high-priority fibers
// (e.g. comm-thread dispatch) run ahead of normal background work. Also
// subject to DisableThreading.
func (p *Pool) GoPriority(f func(), priority base.TaskPriority) {
	if threadingIsDisabled() {
		f()
		return
	}
	p.inner.Queue(func(base.ThreadContext) { f() }, priority, base.ThreadPoolDebugId{Category: "fiber.GoPriority"})
}

// broadcastOverloadFactor is spec.md §4.2's "overload_factor": how many
// fibers get spawned per worker so that, once the pool's arity workers are
// each running one of them, the remaining fibers are guaranteed to be the
// ones that lose the ticket race and exit without running f.
const broadcastOverloadFactor = 4

// Broadcast runs f exactly once on every one of the pool's worker
// goroutines and blocks until all of them complete, per spec.md §4.2's
// "all-threads broadcast": spawn overload_factor*arity fibers; the first
// arity to atomically claim a ticket barrier-in, run f, barrier-out; the
// rest exit immediately. Since the pool runs at most arity fibers
// concurrently, the first wave dispatched to the arity workers is exactly
// the set of tickets 1..arity — the oversubscribed remainder only ever
// gets scheduled after that wave drains, by which point the ticket
// counter has already passed arity, so they return without running f.
func (p *Pool) Broadcast(f func()) {
	arity := p.inner.GetArity()
	if arity <= 0 {
		arity = 1
	}

	var ticket atomic.Int32
	var barrierIn, barrierOut sync.WaitGroup
	barrierIn.Add(arity)
	barrierOut.Add(arity)

	var all sync.WaitGroup
	total := arity * broadcastOverloadFactor
	all.Add(total)
	for i := 0; i < total; i++ {
		p.GoPriority(func() {
			defer all.Done()
			if int(ticket.Add(1)) > arity {
				return
			}
			barrierIn.Done()
			barrierIn.Wait()
			f()
			barrierOut.Done()
			barrierOut.Wait()
		}, base.TASKPRIORITY_HIGH)
	}
	all.Wait()
}

// Join blocks until every task queued before this call has completed.
func (p *Pool) Join() {
	p.inner.Join()
}

// Close drains and terminates every worker goroutine. The pool must not
// be used afterwards.
func (p *Pool) Close() {
	p.inner.Resize(0)
}

// Arity reports the number of worker goroutines.
func (p *Pool) Arity() int {
	return p.inner.GetArity()
}
