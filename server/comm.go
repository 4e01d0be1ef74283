// Package server is the comm thread: the single distinguished worker
// that drains outbound work, polls the transport for inbound task
// messages, spawns a fiber per message, and runs the non-blocking
// termination barrier. Grounded on cluster/message.go's MessageLoop main
// loop shape and cluster/worker.go's dedicated accept-loop goroutine.
package server

import (
	"sync"

	"github.com/fiberfleet/distrun/fiber"
	"github.com/fiberfleet/distrun/internal/base"
)

var LogServer = base.NewLogCategory("Server")

// commMu is spec.md §4.4's comm_lock/comm_unlock: Loop.Run takes it
// around every transport call, so a worker fiber that calls CommLock
// blocks until the comm thread is between transport calls, then stalls
// the comm thread's next transport call until the worker releases it
// with CommUnlock.
var commMu sync.Mutex

// CommLock drains the comm thread to an idle point and stalls it there,
// so the caller can safely make its own transport calls.
func CommLock() { commMu.Lock() }

// CommUnlock releases a previously taken CommLock.
func CommUnlock() { commMu.Unlock() }

// DisableThreading forces every subsequently-spawned fiber to run
// serially on its spawning goroutine, for embedding non-reentrant code.
// The counter is nestable; implemented in fiber (see fiber.Pool.Go)
// since that is where the spawn decision is actually made.
func DisableThreading() { fiber.DisableThreading() }

// EnableThreading reverses one DisableThreading call.
func EnableThreading() { fiber.EnableThreading() }
