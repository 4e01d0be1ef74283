// Package runtime bootstraps and tears down one rank's process: stand up
// the transport and fiber pool, bind rexec, drive the comm loop to
// termination, then wind everything back down. Grounded on
// cluster/worker.go's Start/Close pairing (quic.ListenAddr, then a single
// background future run to completion, then Close blocking on it) and
// cmd/ppb_worker/ppb_worker.go's process-level wiring of that pairing
// around a user entry point.
package runtime

import (
	"context"
	"fmt"

	"github.com/fiberfleet/distrun/fiber"
	"github.com/fiberfleet/distrun/internal/base"
	"github.com/fiberfleet/distrun/rexec"
	"github.com/fiberfleet/distrun/server"
	"github.com/fiberfleet/distrun/transport"
)

var LogRuntime = base.NewLogCategory("Runtime")

// Env is everything Initialize brings up for one rank: the transport
// mesh, the comm-thread Loop riding it, and the fiber pool both drive
// work on. Threaded explicitly through Eventloop/Finalize rather than
// read back from a package global, so a process never has to guess
// which Initialize call it belongs to.
type Env struct {
	Group transport.Group
	Loop  *server.Loop
	Pool  *fiber.Pool
}

var current *Env

// Initialize connects this rank to every other rank in roster (blocking
// until the full mesh is up), brings up the fiber pool, and binds rexec's
// process-wide environment, mirroring spec.md §6's "the host environment
// establishes the initial process-per-rank topology before any user code
// runs" and the teacher's Worker.Start() ordering (listener first, then
// dependent state). poolArity <= 0 sizes the pool to hardware concurrency,
// matching fiber.NewPool's own convention.
func Initialize(roster transport.Roster, rank int, poolArity int) (*Env, error) {
	group, err := transport.NewQUICGroup(context.Background(), rank, roster)
	if err != nil {
		return nil, fmt.Errorf("runtime: failed to bring up rank %d: %w", rank, err)
	}

	pool := fiber.NewPool("distrun", poolArity)
	loop := server.NewLoop(group, pool)

	env := &Env{Group: group, Loop: loop, Pool: pool}
	rexec.Bind(rexec.Env{Group: group, Loop: loop, Pool: pool})
	current = env

	base.LogInfo(LogRuntime, "rank %d/%d initialized", group.Rank(), group.Size())
	return env, nil
}

// Eventloop runs userMain (rank 0 only) and drives env's comm loop until
// every rank's non-blocking termination barrier completes, mirroring
// cmd/ppb_worker/ppb_worker.go's Start()-then-wait-for-Close() shape
// collapsed into a single blocking call since this module has no
// separate signal-driven shutdown path. Returns userMain's exit code on
// rank 0, 0 on every other rank.
func Eventloop(env *Env, userMain func() int) int {
	return env.Loop.Run(context.Background(), userMain)
}

// Finalize closes the fiber pool, then the transport mesh, mirroring
// the teacher's Worker.Close() (await the background future, then
// release the listener) in reverse construction order.
func Finalize(env *Env) error {
	env.Pool.Close()
	if current == env {
		current = nil
	}
	if err := env.Group.Close(); err != nil {
		return fmt.Errorf("runtime: failed to tear down rank %d: %w", env.Group.Rank(), err)
	}
	return nil
}

// Rank returns the local rank of the most recently Initialize-d
// environment, per spec.md §6.3's package-level Rank/Size surface.
func Rank() int {
	if current == nil {
		base.LogPanic(LogRuntime, "runtime: Rank called before Initialize")
	}
	return current.Group.Rank()
}

// Size returns the roster size of the most recently Initialize-d
// environment.
func Size() int {
	if current == nil {
		base.LogPanic(LogRuntime, "runtime: Size called before Initialize")
	}
	return current.Group.Size()
}
