// Package rexec implements spec.md §4.5's remote execution primitives:
// Fire (one-way dispatch), Async (round-tripping dispatch under the four
// fiber.LaunchMode policies) and Proxy[T] (a value that may live locally
// or on another rank). Grounded on action/ActionDist.go's
// DistributeAction/AsyncDistributeAction, which build a remote unit of
// work, hand it to the transport layer and return a future the same
// shape Async returns here.
package rexec

import (
	"bytes"

	"github.com/fiberfleet/distrun/fiber"
	"github.com/fiberfleet/distrun/internal/base"
	"github.com/fiberfleet/distrun/ref"
	"github.com/fiberfleet/distrun/server"
	"github.com/fiberfleet/distrun/task"
	"github.com/fiberfleet/distrun/transport"
)

var LogRexec = base.NewLogCategory("Rexec")

// Env is the process-wide wiring Fire/Async dispatch through: the comm
// thread's outbound queue and the pool local detached fibers run on.
// Bound once at startup by runtime.Initialize.
type Env struct {
	Group transport.Group
	Loop  *server.Loop
	Pool  *fiber.Pool
}

var currentEnv *Env

// Bind installs the process-wide rexec environment and wires
// ref.SharedRPtr's cross-rank incref/decref through Fire, per
// ref/shared.go's remoteOps doc: "the decref here is exactly a
// rexec.Fire to the owner rank". Must be called before any
// Fire/Async/Proxy or SharedRPtr.Clone/Release call, normally from
// runtime.Initialize.
func Bind(env Env) {
	currentEnv = &env
	ref.SetRemoteOps(
		func(owner ref.Rank, addr ref.Addr) {
			tk := task.Make[struct{}, refOpArgs, *refOpArgs](increfTaskName, incrementHandler, refOpArgs{Addr: uint64(addr)})
			dispatch(int(owner), tk)
		},
		func(owner ref.Rank, addr ref.Addr) {
			tk := task.Make[struct{}, refOpArgs, *refOpArgs](decrefTaskName, decrementHandler, refOpArgs{Addr: uint64(addr)})
			dispatch(int(owner), tk)
		},
	)
}

// refOpArgs is the wire payload for a remote incref/decref request: just
// the owning rank's local handle.
type refOpArgs struct {
	Addr uint64
}

func (a *refOpArgs) Serialize(ar base.Archive) { ar.UInt64(&a.Addr) }

const (
	increfTaskName = "rexec.ref.incref"
	decrefTaskName = "rexec.ref.decref"
)

func incrementHandler(a refOpArgs) (struct{}, error) {
	ref.IncrefRemote(ref.Addr(a.Addr))
	return struct{}{}, nil
}

func decrementHandler(a refOpArgs) (struct{}, error) {
	ref.DecrefRemote(ref.Addr(a.Addr))
	return struct{}{}, nil
}

func init() {
	task.Register[struct{}, refOpArgs, *refOpArgs](increfTaskName, incrementHandler)
	task.Register[struct{}, refOpArgs, *refOpArgs](decrefTaskName, decrementHandler)
}

func current() *Env {
	if currentEnv == nil {
		base.LogPanic(LogRexec, "rexec: Bind was never called")
	}
	return currentEnv
}

// Rank returns the local rank, per spec.md §6.3's package-level Rank/Size
// surface.
func Rank() int {
	return current().Group.Rank()
}

func encodeVoidTask(tk task.Task[struct{}]) []byte {
	var buf bytes.Buffer
	if err := base.ArchiveBinaryWrite(&buf, func(ar base.Archive) {
		tk.Serialize(ar)
	}); err != nil {
		base.LogPanic(LogRexec, "rexec: failed to encode dispatched task: %v", err)
	}
	return buf.Bytes()
}

func dispatch(dest int, tk task.Task[struct{}]) {
	current().Loop.Enqueue(dest, transport.TaskTag, encodeVoidTask(tk))
}
