package rexec

import (
	"github.com/fiberfleet/distrun/internal/base"
	"github.com/fiberfleet/distrun/task"
)

// firedNames tracks which names Fire has already task.Register-ed,
// so repeated Fire calls for the same name (the common case: Fire is
// usually called from inside a loop) don't panic against task.Register's
// "exactly once" contract. Separate from task's own registry since that
// one has no exported presence check.
var firedNames = base.NewSharedMapT[string, struct{}]()

// Fire implements spec.md §4.5's rexec(dest, f, args...): if dest is the
// local rank, f runs on a detached fiber right away; otherwise a
// Task<void> wrapping f and args is registered under name (idempotently,
// so callers can Fire the same name repeatedly without pre-registering
// it themselves) and enqueued to the comm thread addressed to dest.
func Fire[Args any, PArgs interface {
	*Args
	base.Serializable
}](dest int, name string, fn task.Func[struct{}, Args], args Args) {
	env := current()

	if dest == env.Group.Rank() {
		env.Pool.Go(func() { _, _ = fn(args) })
		return
	}

	if _, exists := firedNames.FindOrAdd(name, struct{}{}); !exists {
		task.Register[struct{}, Args, PArgs](name, fn)
	}

	tk := task.Make[struct{}, Args, PArgs](name, fn, args)
	dispatch(dest, tk)
}
