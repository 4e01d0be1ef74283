package server

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/fiberfleet/distrun/fiber"
	"github.com/fiberfleet/distrun/internal/base"
	"github.com/fiberfleet/distrun/task"
	"github.com/fiberfleet/distrun/transport"
)

// healthLogInterval throttles Loop.Run's background NodeHealth sampling,
// grounded on cluster/worker.go's WorkerFlags.Broadcast default (2s)
// scaled up since this is diagnostic logging, not a liveness signal
// peers act on.
const healthLogInterval = 10 * time.Second

// Outbound is one message queued for delivery to dest, waiting for the
// comm thread's next drain.
type Outbound struct {
	Dest    int
	Tag     int32
	Payload []byte
}

// Loop is the comm thread's state: the mutex-protected outbound queue,
// the in-flight send list, and the transport/pool it drives, per
// spec.md §4.4's "process-wide state".
type Loop struct {
	group transport.Group
	pool  *fiber.Pool

	mu       sync.Mutex
	outbound []Outbound
	inflight []transport.SendHandle

	lastHealthLog time.Time
}

// NewLoop builds a comm thread over group, spawning received task
// fibers onto pool.
func NewLoop(group transport.Group, pool *fiber.Pool) *Loop {
	return &Loop{group: group, pool: pool}
}

// Enqueue appends a message to the outbound queue; the next Run
// iteration drains it with a non-blocking send.
func (l *Loop) Enqueue(dest int, tag int32, payload []byte) {
	l.mu.Lock()
	l.outbound = append(l.outbound, Outbound{Dest: dest, Tag: tag, Payload: payload})
	l.mu.Unlock()
}

// Run is the comm thread main loop: drain outbound, reap finished sends,
// poll and dispatch inbound task messages, and run termination
// detection, per spec.md §4.4 steps 1–5. On rank 0, userMain runs
// wrapped in an async fiber; a rank is locally ready once its wrapped
// userMain (if any) is done and it has no queued or in-flight outbound
// work left. On the first transition to locally-ready it posts a single
// transport.Group.IBarrier entry; Run exits once that barrier completes
// on every rank, so nobody exits while a peer might still be sending it
// work. Returns userMain's result on rank 0, 0 elsewhere.
func (l *Loop) Run(ctx context.Context, userMain func() int) int {
	var mainResult fiber.Awaitable[int]
	if l.group.Rank() == 0 && userMain != nil {
		mainResult = fiber.Async(l.pool, fiber.LaunchAsync, func() (int, error) {
			return userMain(), nil
		})
	}

	var barrierEntered bool
	var barrier transport.BarrierHandle

	for {
		l.Step(ctx)

		locallyReady := mainResult == nil || mainResult.Ready()
		if locallyReady {
			l.mu.Lock()
			locallyReady = len(l.outbound) == 0 && len(l.inflight) == 0
			l.mu.Unlock()
		}
		if locallyReady && !barrierEntered {
			CommLock()
			barrier = l.group.IBarrier(ctx)
			CommUnlock()
			barrierEntered = true
		}
		if barrierEntered && barrier.Done() {
			break
		}
		if ctx.Err() != nil {
			break
		}

		if !locallyReady {
			fiber.Yield()
		}
	}

	l.cancelInflight()

	if mainResult != nil {
		code, err := mainResult.Join()
		if err != nil {
			base.LogError(LogServer, "user main returned an error: %v", err)
		}
		return code
	}
	return 0
}

// Step runs one drain/reap/poll tick without any termination bookkeeping:
// the body of Run's loop, exposed standalone for drivers that embed the
// comm thread's per-tick work directly (e.g. tests stepping two ranks
// sequentially in one goroutine).
func (l *Loop) Step(ctx context.Context) {
	l.drainOutbound(ctx)
	l.reapInflight()
	l.pollInbound(ctx)
	l.maybeLogHealth(ctx)
}

// maybeLogHealth samples and logs this rank's NodeHealth every
// healthLogInterval, off the comm thread so the 50ms CPU sample
// SampleNodeHealth takes never stalls a Step call.
func (l *Loop) maybeLogHealth(ctx context.Context) {
	now := time.Now()
	l.mu.Lock()
	due := now.Sub(l.lastHealthLog) >= healthLogInterval
	if due {
		l.lastHealthLog = now
	}
	l.mu.Unlock()

	if !due {
		return
	}
	l.pool.Go(func() { LogNodeHealth(ctx) })
}

// PendingOutbound reports how many messages are queued or in-flight,
// i.e. not yet handed off and reaped by the transport. Zero means this
// rank currently has no outgoing work of its own, the same condition
// Run's termination check folds into "locally ready".
func (l *Loop) PendingOutbound() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.outbound) + len(l.inflight)
}

// drainOutbound initiates a non-blocking send for every queued message,
// per spec.md §4.4 step 1.
func (l *Loop) drainOutbound(ctx context.Context) {
	l.mu.Lock()
	pending := l.outbound
	l.outbound = nil
	l.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	CommLock()
	defer CommUnlock()
	for _, msg := range pending {
		handle := l.group.Send(ctx, msg.Dest, msg.Tag, msg.Payload)
		l.mu.Lock()
		l.inflight = append(l.inflight, handle)
		l.mu.Unlock()
	}
}

// reapInflight drops completed sends from the in-flight list, per
// spec.md §4.4 step 2.
func (l *Loop) reapInflight() {
	l.mu.Lock()
	defer l.mu.Unlock()
	remaining := l.inflight[:0]
	for _, h := range l.inflight {
		if !h.Done() {
			remaining = append(remaining, h)
		}
	}
	l.inflight = remaining
}

// pollInbound non-blockingly checks for a pending task message and, if
// one is available, receives it and spawns a fiber to deserialize and
// invoke the enclosed task.Task[struct{}], per spec.md §4.4 step 3.
func (l *Loop) pollInbound(ctx context.Context) {
	CommLock()
	probeCtx, cancel := context.WithTimeout(ctx, 0)
	src, tag, n, ok := l.group.Probe(probeCtx)
	cancel()
	if !ok || tag != transport.TaskTag {
		CommUnlock()
		return
	}

	buf := make([]byte, n)
	err := l.group.Recv(ctx, src, tag, buf)
	CommUnlock()
	if err != nil {
		base.LogError(LogServer, "failed to receive a probed message from rank %d: %v", src, err)
		return
	}

	l.pool.Go(func() {
		var tk task.Task[struct{}]
		if err := base.ArchiveBinaryRead(bytes.NewReader(buf), func(ar base.Archive) {
			tk.Serialize(ar)
		}); err != nil {
			base.LogError(LogServer, "failed to deserialize a dispatched task: %v", err)
			return
		}
		if _, err := tk.Invoke(); err != nil {
			base.LogError(LogServer, "dispatched task returned an error: %v", err)
		}
	})
}

// cancelInflight drops every still-pending send before Run returns,
// per spec.md §4.4's "before exiting, any in-flight sends are cancelled".
func (l *Loop) cancelInflight() {
	l.mu.Lock()
	l.inflight = nil
	l.mu.Unlock()
}
