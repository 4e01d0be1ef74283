// distrund is the minimal process entry point for one rank: load the
// roster, Initialize, run user work through Eventloop, Finalize. Not a
// command-line framework — grounded on cmd/ppb_worker/ppb_worker.go's
// bootstrap shape (StartWorker/Close pairing around a single run), with
// the teacher's utils.CommandEnv/app.WithCommandEnv flag-parsing and
// config-file machinery left out: this module has no multi-command CLI
// surface to carry, just a roster path and a rank to read off argv.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fiberfleet/distrun/fiber"
	"github.com/fiberfleet/distrun/internal/base"
	"github.com/fiberfleet/distrun/rexec"
	"github.com/fiberfleet/distrun/runtime"
	"github.com/fiberfleet/distrun/transport"
)

var LogDistrund = base.NewLogCategory("Distrund")

func main() {
	rosterPath := flag.String("roster", "", "path to a JSON file listing host:port per rank")
	rank := flag.Int("rank", -1, "this process's rank in the roster")
	poolArity := flag.Int("threads", 0, "fiber pool size (0 = hardware concurrency)")
	flag.Parse()

	if *rosterPath == "" || *rank < 0 {
		fmt.Fprintln(os.Stderr, "usage: distrund -roster=<path> -rank=<n> [-threads=<n>]")
		os.Exit(2)
	}

	os.Exit(run(*rosterPath, *rank, *poolArity))
}

func run(rosterPath string, rank int, poolArity int) int {
	defer base.FlushLog()

	roster, err := transport.LoadRoster(rosterPath)
	if err != nil {
		base.LogError(LogDistrund, "failed to load roster %q: %v", rosterPath, err)
		return 1
	}

	env, err := runtime.Initialize(roster, rank, poolArity)
	if err != nil {
		base.LogError(LogDistrund, "failed to initialize rank %d: %v", rank, err)
		return 1
	}

	code := runtime.Eventloop(env, userMain)

	if err := runtime.Finalize(env); err != nil {
		base.LogError(LogDistrund, "failed to finalize rank %d: %v", rank, err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

// pingArgs is the smallest base.Serializable wrapper userMain's
// demonstration round trip needs: a bare int32 can't carry a Serialize
// method of its own.
type pingArgs struct{ N int32 }

func (a *pingArgs) Serialize(ar base.Archive) { ar.Int32(&a.N) }

func pingBody(a pingArgs) (pingArgs, error) { return a, nil }

// userMain is the distributed program itself, run on rank 0 only; every
// other rank just drives the comm loop until rank 0's work (and anything
// it rexec'd out) has drained. Placeholder demonstrating the package-level
// surface: a roundtrip rexec.Async call to every other rank.
func userMain() int {
	for dest := 1; dest < runtime.Size(); dest++ {
		future := rexec.Async[pingArgs, pingArgs, *pingArgs, *pingArgs](
			fiber.LaunchSync, dest, "distrund.ping", pingBody, pingArgs{N: int32(dest)},
		)
		if _, err := future.Join(); err != nil {
			base.LogError(LogDistrund, "ping to rank %d failed: %v", dest, err)
			return 1
		}
	}
	return 0
}
