// Package ref implements RPtr[T] (an unmanaged remote pointer) and
// SharedRPtr[T] (a cross-process reference-counted remote pointer).
//
// The original's RPtr is a raw (process, address) pair: dereferencing it
// on the owning process is a plain pointer load. Go gives no safe way to
// expose or reconstruct an object's address across a process boundary
// (the GC can move objects, and even without that, a raw address is
// meaningless once serialized to another process' heap), so Addr here is
// an opaque handle into a process-local table instead — resolved through
// Pin/Unpin the same way internal/base/Serializable.go resolves a
// concrete type from a registered GUID rather than a vtable pointer.
package ref

import (
	"sync/atomic"

	"github.com/fiberfleet/distrun/internal/base"
)

var LogRef = base.NewLogCategory("Ref")

// Rank identifies a process participating in the run.
type Rank int32

// NullRank is the rank value of a null RPtr.
const NullRank Rank = -1

// Addr is an opaque, process-local handle. It is only ever meaningful on
// the process that produced it via Pin.
type Addr uint64

// RPtr is an unmanaged remote pointer: a (Rank, Addr) pair with no
// lifetime guarantee, matching the original's contract that RPtr never
// owns what it points to.
type RPtr[T any] struct {
	Rank Rank
	Addr Addr
}

// Null constructs the null RPtr.
func Null[T any]() RPtr[T] {
	return RPtr[T]{Rank: NullRank, Addr: 0}
}

// IsNull reports whether this RPtr is null.
func (p RPtr[T]) IsNull() bool {
	return p.Rank == NullRank
}

func (p *RPtr[T]) Serialize(ar base.Archive) {
	rank := int32(p.Rank)
	addr := uint64(p.Addr)
	ar.Int32(&rank)
	ar.UInt64(&addr)
	if ar.Flags().IsLoading() {
		p.Rank = Rank(rank)
		p.Addr = Addr(addr)
	}
}

var handles = base.NewSharedMapT[Addr, any]()
var nextHandle atomic.Uint64

// Pin registers value in the process-local handle table and returns an
// RPtr addressing it on the local rank. The value is kept alive by the
// table until Unpin is called — Pin never owns a reference count by
// itself, matching RPtr's unmanaged contract; SharedRPtr layers refcounts
// on top of this.
func Pin[T any](local Rank, value *T) RPtr[T] {
	addr := Addr(nextHandle.Add(1))
	handles.Add(addr, value)
	return RPtr[T]{Rank: local, Addr: addr}
}

// Resolve looks up the local value an RPtr addresses. Panics if the RPtr
// does not name the local rank, or its handle was already unpinned:
// dereferencing a dangling RPtr is a programming error in the original
// too, just one it can't catch as cheaply as a missing map entry can.
func Resolve[T any](local Rank, p RPtr[T]) *T {
	if p.Rank != local {
		base.LogPanic(LogRef, "ref: Resolve called on rank %d for an RPtr addressing rank %d", local, p.Rank)
	}
	value, ok := handles.Get(p.Addr)
	if !ok {
		base.LogPanic(LogRef, "ref: Resolve on a dangling or unpinned RPtr (addr=%d)", p.Addr)
	}
	typed, ok := value.(*T)
	if !ok {
		base.LogPanic(LogRef, "ref: Resolve type mismatch for RPtr (addr=%d)", p.Addr)
	}
	return typed
}

// Unpin removes value from the handle table. Resolving the RPtr
// afterwards panics.
func Unpin(addr Addr) {
	handles.Delete(addr)
}
