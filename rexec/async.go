package rexec

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/fiberfleet/distrun/fiber"
	"github.com/fiberfleet/distrun/internal/base"
	"github.com/fiberfleet/distrun/task"
)

// callArgs is what actually travels on the wire for an Async dispatch: the
// caller's own Args plus where the result is headed back to. ReplyRank is
// negative when no reply is wanted (the detached launch mode).
type callArgs[Args any, PArgs interface {
	*Args
	base.Serializable
}] struct {
	User      Args
	ReplyRank int32
	ReplyAddr uint64
}

func (c *callArgs[Args, PArgs]) Serialize(ar base.Archive) {
	ar.Serializable(PArgs(&c.User))
	ar.Int32(&c.ReplyRank)
	ar.UInt64(&c.ReplyAddr)
}

// replyArgs carries a completed remote call's result back to the rank
// that issued it, keyed by the pending table slot ReplyAddr addressed.
type replyArgs[R any, PR interface {
	*R
	base.Serializable
}] struct {
	Addr    uint64
	HasErr  bool
	ErrText string
	Value   R
}

func (a *replyArgs[R, PR]) Serialize(ar base.Archive) {
	ar.UInt64(&a.Addr)
	ar.Bool(&a.HasErr)
	ar.String(&a.ErrText)
	ar.Serializable(PR(&a.Value))
}

// pending holds one boxed func(R, error) resolver per outstanding round
// trip, keyed by a process-local handle travelling as replyArgs.Addr.
// Boxed as any since R varies per call site; storePending/resolvePending
// are instantiated with the same R at both ends of a given round trip so
// the type assertion on read always matches.
var pending = base.NewSharedMapT[uint64, any]()
var nextPendingAddr atomic.Uint64

func storePending[R any](addr uint64, resolve func(R, error)) {
	pending.Add(addr, resolve)
}

func resolvePending[R any](addr uint64, value R, err error) {
	v, ok := pending.Get(addr)
	if !ok {
		base.LogPanic(LogRexec, "rexec: reply for an unknown pending call (addr=%d)", addr)
	}
	pending.Delete(addr)
	resolve, ok := v.(func(R, error))
	if !ok {
		base.LogPanic(LogRexec, "rexec: pending resolver type mismatch (addr=%d)", addr)
	}
	resolve(value, err)
}

var asyncNames = base.NewSharedMapT[string, struct{}]()

func callName(name string) string  { return name + ".call" }
func replyName(name string) string { return name + ".reply" }

// callBody is the task body registered under callName(name): it runs the
// user's fn on the destination rank and, unless the call came in
// detached (ReplyRank < 0), fires a reply task back carrying the result.
func callBody[R any, Args any, PR interface {
	*R
	base.Serializable
}, PArgs interface {
	*Args
	base.Serializable
}](name string, fn task.Func[R, Args]) task.Func[struct{}, callArgs[Args, PArgs]] {
	return func(c callArgs[Args, PArgs]) (struct{}, error) {
		result, err := fn(c.User)
		if c.ReplyRank < 0 {
			return struct{}{}, err
		}
		reply := replyArgs[R, PR]{Addr: c.ReplyAddr, Value: result}
		if err != nil {
			reply.HasErr = true
			reply.ErrText = err.Error()
		}
		tk := task.Make[struct{}, replyArgs[R, PR], *replyArgs[R, PR]](replyName(name), replyHandler[R, PR], reply)
		dispatch(int(c.ReplyRank), tk)
		return struct{}{}, nil
	}
}

func replyHandler[R any, PR interface {
	*R
	base.Serializable
}](reply replyArgs[R, PR]) (struct{}, error) {
	var err error
	if reply.HasErr {
		err = errors.New(reply.ErrText)
	}
	resolvePending[R](reply.Addr, reply.Value, err)
	return struct{}{}, nil
}

func ensureAsyncRegistered[R any, Args any, PR interface {
	*R
	base.Serializable
}, PArgs interface {
	*Args
	base.Serializable
}](name string, fn task.Func[R, Args]) {
	if _, exists := asyncNames.FindOrAdd(name, struct{}{}); exists {
		return
	}
	task.Register[struct{}, callArgs[Args, PArgs], *callArgs[Args, PArgs]](callName(name), callBody[R, Args, PR, PArgs](name, fn))
	task.Register[struct{}, replyArgs[R, PR], *replyArgs[R, PR]](replyName(name), replyHandler[R, PR])
}

// dispatchCall builds and enqueues the wire task for one Async round
// trip. fn is never passed here: the callName(name) registry entry
// (bound once by ensureAsyncRegistered) is what invokes the real body on
// the destination; task.Make only needs a type-correct fn to satisfy its
// signature for a Task that is serialized and sent, never locally
// Invoke-d, so nil is safe.
func dispatchCall[Args any, PArgs interface {
	*Args
	base.Serializable
}](dest int, name string, args Args, replyRank int32, replyAddr uint64) {
	c := callArgs[Args, PArgs]{User: args, ReplyRank: replyRank, ReplyAddr: replyAddr}
	tk := task.Make[struct{}, callArgs[Args, PArgs], *callArgs[Args, PArgs]](callName(name), nil, c)
	dispatch(dest, tk)
}

// Async implements spec.md §4.5's async(mode, dest, f, args...):
//   - dest == rank(): delegate straight to fiber.Async under mode.
//   - async/sync: allocate a promise, store its resolver in the local
//     pending table, rexec the call to dest; the remote rank's reply
//     fulfills it. sync then blocks for the result before returning.
//   - deferred: return a future whose Join performs the round trip
//     synchronously the first time it's awaited.
//   - detached: rexec the call with no reply address and return an
//     invalid future.
func Async[R any, Args any, PR interface {
	*R
	base.Serializable
}, PArgs interface {
	*Args
	base.Serializable
}](mode fiber.LaunchMode, dest int, name string, fn task.Func[R, Args], args Args) fiber.Awaitable[R] {
	env := current()

	if dest == env.Group.Rank() {
		return fiber.Async(env.Pool, mode, func() (R, error) { return fn(args) })
	}

	ensureAsyncRegistered[R, Args, PR, PArgs](name, fn)

	switch mode.Decode() {
	case fiber.LaunchDetached:
		dispatchCall[Args, PArgs](dest, name, args, -1, 0)
		return detachedFuture[R]{}

	case fiber.LaunchDeferred:
		return &deferredRemote[R, Args, PR, PArgs]{dest: dest, name: name, args: args}

	default: // async, sync: both round-trip through a pinned promise.
		promise := fiber.NewPromise[R]()
		addr := nextPendingAddr.Add(1)
		storePending[R](addr, func(value R, err error) {
			if err != nil {
				promise.SetError(fmt.Errorf("rexec: remote call %q on rank %d failed: %w", name, dest, err))
			} else {
				promise.SetValue(value)
			}
		})
		dispatchCall[Args, PArgs](dest, name, args, int32(env.Group.Rank()), addr)

		future := promise.Future()
		if mode.Decode() == fiber.LaunchSync {
			value, err := future.Join()
			if err != nil {
				failed := fiber.Failed[R](err)
				return &failed
			}
			ready := fiber.Ready(value)
			return &ready
		}
		return &future
	}
}

// detachedFuture is returned by Async in LaunchDetached mode, matching
// fiber.Async's own invalidFuture contract.
type detachedFuture[R any] struct{}

func (detachedFuture[R]) Ready() bool { return false }
func (detachedFuture[R]) Valid() bool { return false }
func (detachedFuture[R]) Join() (R, error) {
	panic("rexec: Join called on an invalid (detached-launch) future")
}

// deferredRemote performs the round trip synchronously on the caller's
// fiber the first time Join is called, extending fiber's own deferred
// contract across ranks: "construct a local deferred future whose get
// performs a sync remote async to dest."
type deferredRemote[R any, Args any, PR interface {
	*R
	base.Serializable
}, PArgs interface {
	*Args
	base.Serializable
}] struct {
	dest     int
	name     string
	args     Args
	consumed atomic.Bool
}

func (d *deferredRemote[R, Args, PR, PArgs]) Ready() bool { return false }

// Valid mirrors fiber's own deferred future: true until Join performs its
// one round trip, false after.
func (d *deferredRemote[R, Args, PR, PArgs]) Valid() bool { return !d.consumed.Load() }

func (d *deferredRemote[R, Args, PR, PArgs]) Join() (R, error) {
	if !d.consumed.CompareAndSwap(false, true) {
		panic("rexec: Join called twice on a deferred future")
	}
	env := current()
	done := make(chan struct{})
	var value R
	var callErr error

	addr := nextPendingAddr.Add(1)
	storePending[R](addr, func(v R, err error) {
		value, callErr = v, err
		close(done)
	})
	dispatchCall[Args, PArgs](d.dest, d.name, d.args, int32(env.Group.Rank()), addr)
	<-done

	if callErr != nil {
		return value, fmt.Errorf("rexec: remote call %q on rank %d failed: %w", d.name, d.dest, callErr)
	}
	return value, nil
}
