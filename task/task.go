// Package task implements Task[R]: a type-erased, serializable, one-shot
// invocable, the unit of work shipped between ranks.
package task

import (
	"fmt"
	"sync/atomic"

	"github.com/fiberfleet/distrun/internal/base"
)

var LogTask = base.NewLogCategory("Task")

// Func is the user-supplied body of a registered task. Args must be
// serializable the way base.Archive understands: a base.Serializable
// implementor (R is only ever produced locally by invoke(), never
// shipped over the wire, so it carries no such constraint).
type Func[R any, Args any] func(Args) (R, error)

// entry is what the global registry keeps per registered name: enough
// closed-over type information to decode a task body without the caller
// needing generic type parameters at the decode call site.
type entry struct {
	decode func(ar base.Archive) any
}

var registry = base.NewSharedMapT[string, entry]()

// Register binds a stable name to a concrete (R, Args) function. PArgs
// pins down how Args is serialized, following the *T-implements-
// Serializable pattern internal/base/Serializable.go's SerializeSlice
// uses: Args itself is rarely addressable as an interface value, but a
// pointer to it almost always carries the Serialize method. Must be
// called exactly once per name, normally from an init() function, before
// any Task built from that name is serialized or deserialized. This
// replaces the anchor-symbol function-pointer normalization the original
// runtime relies on: Go gives no safe way to recover a function pointer
// across process boundaries, so identity travels as this explicit name
// instead, resolved through a registry the same way
// internal/base/Serializable.go resolves a concrete type from a GUID.
func Register[R any, Args any, PArgs interface {
	*Args
	base.Serializable
}](name string, fn Func[R, Args]) {
	if _, exists := registry.Get(name); exists {
		base.LogPanic(LogTask, "task: %q already registered", name)
	}
	// Logged as a short fingerprint rather than the raw name, the same
	// compact-opaque-identifier device action.ActionCache uses for its
	// cache keys: useful for correlating registration order across rank
	// logs without every log line repeating a possibly long dotted name.
	base.LogVerbose(LogTask, "registering task %q (fp=%s)", name, base.StringFingerprint(name).ShortString())
	registry.Add(name, entry{
		decode: func(ar base.Archive) any {
			c := &taggedConcrete[R, Args, PArgs]{name: name, fn: fn}
			ar.Serializable(PArgs(&c.args))
			return c
		},
	})
}

// Task is the type-erased, movable-not-copyable unit of work. Zero value
// is the empty task: Invoke on it panics.
type Task[R any] struct {
	body    invocable[R]
	invoked atomic.Bool
}

type invocable[R any] interface {
	invoke() (R, error)
	typeTag() string
	encodeArgs(ar base.Archive)
}

type taggedConcrete[R any, Args any, PArgs interface {
	*Args
	base.Serializable
}] struct {
	name string
	fn   Func[R, Args]
	args Args
}

func (c *taggedConcrete[R, Args, PArgs]) invoke() (R, error) {
	return c.fn(c.args)
}
func (c *taggedConcrete[R, Args, PArgs]) typeTag() string {
	return c.name
}
func (c *taggedConcrete[R, Args, PArgs]) encodeArgs(ar base.Archive) {
	ar.Serializable(PArgs(&c.args))
}

// Make builds a ready-to-invoke Task bound to a registered name. Panics
// if name was never Register-ed: serializing a task built on an
// unregistered type is a fatal error on the sender, matching the
// original's registry-miss contract.
func Make[R any, Args any, PArgs interface {
	*Args
	base.Serializable
}](name string, fn Func[R, Args], args Args) Task[R] {
	if _, ok := registry.Get(name); !ok {
		base.LogPanic(LogTask, "task: %q not registered, cannot build task", name)
	}
	return Task[R]{
		body: &taggedConcrete[R, Args, PArgs]{name: name, fn: fn, args: args},
	}
}

// Empty reports whether this Task carries no invocation.
func (t *Task[R]) Empty() bool {
	return t.body == nil
}

// Invoke consumes the task. Calling Invoke twice on the same Task is a
// fatal invariant violation, matching the original's "invoke() consumes
// the task" contract.
func (t *Task[R]) Invoke() (R, error) {
	if t.body == nil {
		base.LogPanic(LogTask, "task: Invoke on empty task")
	}
	if !t.invoked.CompareAndSwap(false, true) {
		base.LogPanic(LogTask, "task: Invoke on already-invoked task")
	}
	return t.body.invoke()
}

// Serialize implements base.Serializable. On save it writes the type tag
// followed by the bound arguments; on load it reads the tag, resolves the
// registered entry by name and decodes the arguments through it. This is
// the Go analog of the original's polymorphic save/load hooks resolved
// through a process-global type-tag registry (grounded on
// internal/base/Serializable.go's SerializeExternal/RegisterSerializable).
func (t *Task[R]) Serialize(ar base.Archive) {
	if ar.Flags().IsLoading() {
		var tag string
		ar.String(&tag)
		found, ok := registry.Get(tag)
		if !ok {
			base.LogPanic(LogTask, "task: unregistered type tag %q on load", tag)
		}
		decoded := found.decode(ar)
		body, ok := decoded.(invocable[R])
		if !ok {
			base.LogPanic(LogTask, "task: type tag %q decoded to the wrong result type", tag)
		}
		t.body = body
		t.invoked.Store(false)
	} else {
		if t.body == nil {
			base.LogPanic(LogTask, "task: Serialize on empty task")
		}
		tag := t.body.typeTag()
		ar.String(&tag)
		t.body.encodeArgs(ar)
	}
}

func (t Task[R]) String() string {
	if t.body == nil {
		return "Task<empty>"
	}
	return fmt.Sprintf("Task<%s>", t.body.typeTag())
}
