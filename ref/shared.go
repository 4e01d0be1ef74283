package ref

import (
	"io"
	"sync/atomic"

	"github.com/fiberfleet/distrun/internal/base"
)

// SharedRPtr is a reference-counted RPtr. The refcount always lives on
// the owning rank; every other rank only ever holds a pointer to that
// count. This is the three-party protocol the original describes:
// incref/decref never travel peer-to-peer, they always address the
// owner, so a rank handing its SharedRPtr to a third rank never needs to
// contact the rank it got the pointer from.
type SharedRPtr[T any] struct {
	Ptr RPtr[T]
}

type sharedEntry struct {
	value any
	count atomic.Int32
}

var sharedHandles = base.NewSharedMapT[Addr, *sharedEntry]()
var nextSharedHandle atomic.Uint64

// remoteOps is how a non-owner rank reaches the owner to incref/decref.
// Wired by runtime.Initialize through SetRemoteOps, grounded on
// action/ActionDist.go's rank-aware one-way dispatch (the decref here is
// exactly a rexec.Fire to the owner rank).
type remoteOps struct {
	incref func(owner Rank, addr Addr)
	decref func(owner Rank, addr Addr)
}

var ops atomic.Pointer[remoteOps]

// SetRemoteOps installs the functions used to incref/decref a SharedRPtr
// owned by a different rank. Must be called once during process startup
// before any cross-rank SharedRPtr traffic occurs.
func SetRemoteOps(incref, decref func(owner Rank, addr Addr)) {
	ops.Store(&remoteOps{incref: incref, decref: decref})
}

// PinShared registers value as owned by the local rank with an initial
// refcount of 1.
func PinShared[T any](owner Rank, value *T) SharedRPtr[T] {
	addr := Addr(nextSharedHandle.Add(1))
	sharedHandles.Add(addr, &sharedEntry{value: value, count: atomic.Int32{}})
	entry, _ := sharedHandles.Get(addr)
	entry.count.Store(1)
	return SharedRPtr[T]{Ptr: RPtr[T]{Rank: owner, Addr: addr}}
}

// Clone increments the refcount, locally if local is the owning rank,
// otherwise via the injected remote incref.
func (s SharedRPtr[T]) Clone(local Rank) SharedRPtr[T] {
	if s.Ptr.Rank == local {
		entry, ok := sharedHandles.Get(s.Ptr.Addr)
		if !ok {
			base.LogPanic(LogRef, "ref: Clone on a SharedRPtr whose entry was already destroyed (addr=%d)", s.Ptr.Addr)
		}
		entry.count.Add(1)
		return s
	}
	o := ops.Load()
	if o == nil || o.incref == nil {
		base.LogPanic(LogRef, "ref: remote incref requested but ref.SetRemoteOps was never called")
	}
	o.incref(s.Ptr.Rank, s.Ptr.Addr)
	return s
}

// Release decrements the refcount, locally if local is the owning rank,
// otherwise via the injected remote decref. The object is destroyed
// (and Close()d if it implements io.Closer) exactly once, when the count
// reaches zero on the owning rank.
func (s SharedRPtr[T]) Release(local Rank) {
	if s.Ptr.Rank == local {
		decrefLocal(s.Ptr.Addr)
		return
	}
	o := ops.Load()
	if o == nil || o.decref == nil {
		base.LogPanic(LogRef, "ref: remote decref requested but ref.SetRemoteOps was never called")
	}
	o.decref(s.Ptr.Rank, s.Ptr.Addr)
}

func decrefLocal(addr Addr) {
	entry, ok := sharedHandles.Get(addr)
	if !ok {
		base.LogPanic(LogRef, "ref: decref on a SharedRPtr whose entry was already destroyed (addr=%d)", addr)
	}
	if entry.count.Add(-1) == 0 {
		sharedHandles.Delete(addr)
		if closer, ok := entry.value.(io.Closer); ok {
			_ = closer.Close()
		}
	}
}

// IncrefRemote is called by the owning rank's message handler when it
// receives an incref request originated by SharedRPtr.Clone on a
// non-owning rank.
func IncrefRemote(addr Addr) {
	entry, ok := sharedHandles.Get(addr)
	if !ok {
		base.LogPanic(LogRef, "ref: IncrefRemote on an unknown handle (addr=%d)", addr)
	}
	entry.count.Add(1)
}

// DecrefRemote is called by the owning rank's message handler when it
// receives a decref request originated by SharedRPtr.Release on a
// non-owning rank.
func DecrefRemote(addr Addr) {
	decrefLocal(addr)
}

// ResolveShared looks up the local value a SharedRPtr addresses. Only
// valid on the owning rank.
func ResolveShared[T any](local Rank, s SharedRPtr[T]) *T {
	if s.Ptr.Rank != local {
		base.LogPanic(LogRef, "ref: ResolveShared called on rank %d for a SharedRPtr owned by rank %d", local, s.Ptr.Rank)
	}
	entry, ok := sharedHandles.Get(s.Ptr.Addr)
	if !ok {
		base.LogPanic(LogRef, "ref: ResolveShared on a destroyed SharedRPtr (addr=%d)", s.Ptr.Addr)
	}
	typed, ok := entry.value.(*T)
	if !ok {
		base.LogPanic(LogRef, "ref: ResolveShared type mismatch (addr=%d)", s.Ptr.Addr)
	}
	return typed
}

func (s *SharedRPtr[T]) Serialize(ar base.Archive) {
	ar.Serializable(&s.Ptr)
}
