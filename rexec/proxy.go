package rexec

import (
	"fmt"
	"reflect"

	"github.com/fiberfleet/distrun/fiber"
	"github.com/fiberfleet/distrun/internal/base"
	"github.com/fiberfleet/distrun/ref"
	"github.com/fiberfleet/distrun/task"
)

// proxyState is Proxy[T]'s three-way tag, per spec.md §4.3's "either
// empty, or local (shared-ptr to a local instance), or remote
// (shared-rptr to a remote instance)".
type proxyState int

const (
	proxyEmpty proxyState = iota
	proxyLocal
	proxyRemote
)

// Proxy is a single-element distributed container: a value that may live
// on this rank or on another one, pulled on demand. A non-empty Proxy
// always denotes exactly one logical value, whichever rank currently
// holds it.
type Proxy[T any] struct {
	state  proxyState
	value  *T
	remote ref.SharedRPtr[T]
	pull   func() fiber.Awaitable[T]
}

// Empty reports whether this Proxy holds no value.
func (p Proxy[T]) Empty() bool { return p.state == proxyEmpty }

// Local reports whether the value is already on this rank.
func (p Proxy[T]) Local() bool { return p.state == proxyLocal }

// MakeLocalProxy constructs a Proxy holding value locally.
func MakeLocalProxy[T any](value T) Proxy[T] {
	v := value
	return Proxy[T]{state: proxyLocal, value: &v}
}

// pullArgs is the wire payload for a Proxy's pull-to-local round trip:
// just the handle into the owning rank's shared-pointer table.
type pullArgs struct {
	Addr uint64
}

func (a *pullArgs) Serialize(ar base.Archive) { ar.UInt64(&a.Addr) }

func pullBody[T any](a pullArgs) (T, error) {
	owner := ref.Rank(current().Group.Rank())
	shared := ref.SharedRPtr[T]{Ptr: ref.RPtr[T]{Rank: owner, Addr: ref.Addr(a.Addr)}}
	return *ref.ResolveShared(owner, shared), nil
}

func pullTaskName[T any]() string {
	return fmt.Sprintf("rexec.proxy.pull.%s", reflect.TypeOf((*T)(nil)).Elem().String())
}

// Remote is spec.md §4.5's general form: invoke fn(args) on rank p, box
// the result into a ref.SharedRPtr owned by p, and return a Proxy
// wrapping it. Always round-trips synchronously: the caller needs the
// resulting handle before it can do anything with the Proxy.
func Remote[T any, Args any, PT interface {
	*T
	base.Serializable
}, PArgs interface {
	*Args
	base.Serializable
}](p int, name string, fn task.Func[T, Args], args Args) (Proxy[T], error) {
	ctor := func(a Args) (ref.SharedRPtr[T], error) {
		value, err := fn(a)
		if err != nil {
			return ref.SharedRPtr[T]{}, err
		}
		return ref.PinShared(ref.Rank(current().Group.Rank()), &value), nil
	}

	future := Async[ref.SharedRPtr[T], Args, *ref.SharedRPtr[T], PArgs](fiber.LaunchSync, p, name, ctor, args)
	sp, err := future.Join()
	if err != nil {
		return Proxy[T]{}, err
	}

	proxy := Proxy[T]{state: proxyRemote, remote: sp}
	proxy.pull = func() fiber.Awaitable[T] {
		pullName := pullTaskName[T]()
		ensureAsyncRegistered[T, pullArgs, PT, *pullArgs](pullName, pullBody[T])
		return Async[T, pullArgs, PT, *pullArgs](fiber.LaunchSync, int(sp.Ptr.Rank), pullName, pullBody[T], pullArgs{Addr: uint64(sp.Ptr.Addr)})
	}
	return proxy, nil
}

// MakeRemoteProxy runs ctor(args) on rank p and wraps the resulting value
// in a Proxy, per spec.md §4.5. Sugar over Remote: constructing a value
// remotely and dispatching an arbitrary function remotely are the same
// operation here.
func MakeRemoteProxy[T any, Args any, PT interface {
	*T
	base.Serializable
}, PArgs interface {
	*Args
	base.Serializable
}](p int, name string, ctor task.Func[T, Args], args Args) (Proxy[T], error) {
	return Remote[T, Args, PT, PArgs](p, name, ctor, args)
}

// MakeLocal returns a future for a local copy of the Proxy's value: the
// identity if it's already local, otherwise a synchronous pull from the
// owning rank, per spec.md §4.5's "make_local() returns a new proxy with
// a local shared_ptr whose value is a pulled-and-deserialized copy of
// the remote payload (for a local proxy it is the identity)".
func (p Proxy[T]) MakeLocal() fiber.Awaitable[T] {
	switch p.state {
	case proxyLocal:
		ready := fiber.Ready(*p.value)
		return &ready
	case proxyRemote:
		return p.pull()
	default:
		base.LogPanic(LogRexec, "rexec: MakeLocal called on an empty proxy")
		return nil
	}
}

// SerializeProxy implements round-trip save/load for a Proxy, following
// the pointer-implements-Serializable pattern
// internal/base/Serializable.go's SerializeSlice/SerializeMap use (a
// generic method can't introduce the extra PT type parameter a Proxy's
// local-state value needs, so this is a free function instead of a
// Proxy[T] method). A remote Proxy only ever needs its SharedRPtr's
// (rank, addr) — which ref.SharedRPtr.Serialize already
// provides — reconstructing the pull closure from pullTaskName/pullBody
// the same way Remote does.
func SerializeProxy[T any, PT interface {
	*T
	base.Serializable
}](ar base.Archive, p *Proxy[T]) {
	state := int32(p.state)
	ar.Int32(&state)
	if ar.Flags().IsLoading() {
		p.state = proxyState(state)
	}
	switch p.state {
	case proxyLocal:
		if ar.Flags().IsLoading() {
			var value T
			ar.Serializable(PT(&value))
			p.value = &value
		} else {
			ar.Serializable(PT(p.value))
		}
	case proxyRemote:
		ar.Serializable(&p.remote)
		if ar.Flags().IsLoading() {
			remote := p.remote
			p.pull = func() fiber.Awaitable[T] {
				pullName := pullTaskName[T]()
				ensureAsyncRegistered[T, pullArgs, PT, *pullArgs](pullName, pullBody[T])
				return Async[T, pullArgs, PT, *pullArgs](fiber.LaunchSync, int(remote.Ptr.Rank), pullName, pullBody[T], pullArgs{Addr: uint64(remote.Ptr.Addr)})
			}
		}
	}
}
