package fiber_test

import (
	"bytes"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fiberfleet/distrun/fiber"
)

// currentGoroutineID extracts the calling goroutine's id from its own
// stack trace header, used only to assert DisableThreading runs a fiber
// body inline rather than on a pool worker goroutine.
func currentGoroutineID(t *testing.T) string {
	t.Helper()
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	fields := bytes.Fields(buf)
	if len(fields) < 2 {
		t.Fatal("could not parse goroutine id")
	}
	return string(fields[1])
}

func TestPromiseFutureRoundTrip(t *testing.T) {
	p := fiber.NewPromise[int]()
	future := p.Future()

	go func() {
		p.SetValue(42)
	}()

	value, err := future.Join()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != 42 {
		t.Fatalf("expected 42, got %d", value)
	}
}

func TestFutureDoubleJoinPanics(t *testing.T) {
	future := fiber.Ready(1)
	if _, err := future.Join(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on second Join")
		}
	}()
	_, _ = future.Join()
}

// TestFutureValidBecomesFalseAfterJoin exercises spec.md §8's testable
// property: "for every future f returned by a non-detached async: f.valid()
// holds immediately; f.get() is callable exactly once; after f.get(),
// f.valid() is false."
func TestFutureValidBecomesFalseAfterJoin(t *testing.T) {
	future := fiber.Ready(5)
	if !future.Valid() {
		t.Fatal("expected a freshly-constructed future to be valid")
	}
	if _, err := future.Join(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if future.Valid() {
		t.Fatal("expected future to be invalid after Join consumed it")
	}
}

// TestAwaitableValidByLaunchMode checks every LaunchMode's Awaitable
// against spec.md §4.2/§8: async/sync/deferred start valid and go invalid
// once Join is called; detached is never valid.
func TestAwaitableValidByLaunchMode(t *testing.T) {
	pool := fiber.NewPool("test", 2)
	defer pool.Close()

	for _, mode := range []fiber.LaunchMode{fiber.LaunchAsync, fiber.LaunchSync, fiber.LaunchDeferred} {
		future := fiber.Async(pool, mode, func() (int, error) { return 1, nil })
		if !future.Valid() {
			t.Fatalf("mode %s: expected future to be valid before Join", mode)
		}
		if _, err := future.Join(); err != nil {
			t.Fatalf("mode %s: unexpected error: %v", mode, err)
		}
		if future.Valid() {
			t.Fatalf("mode %s: expected future to be invalid after Join", mode)
		}
	}

	detached := fiber.Async(pool, fiber.LaunchDetached, func() (int, error) { return 1, nil })
	if detached.Valid() {
		t.Fatal("expected a detached launch's future to never be valid")
	}
}

func TestSharedFutureRepeatableJoin(t *testing.T) {
	p := fiber.NewPromise[string]()
	shared := p.SharedFuture()
	p.SetValue("hello")

	for i := 0; i < 3; i++ {
		v, err := shared.Join()
		if err != nil || v != "hello" {
			t.Fatalf("unexpected result on repeat %d: %v %v", i, v, err)
		}
	}
}

func TestSetValueTwicePanics(t *testing.T) {
	p := fiber.NewPromise[int]()
	p.SetValue(1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on second SetValue")
		}
	}()
	p.SetValue(2)
}

func TestLaunchModeDecodePriority(t *testing.T) {
	mode := fiber.LaunchAsync | fiber.LaunchSync
	if mode.Decode() != fiber.LaunchAsync {
		t.Fatalf("expected async to win over sync")
	}
	mode = fiber.LaunchDeferred | fiber.LaunchDetached
	if mode.Decode() != fiber.LaunchDeferred {
		t.Fatalf("expected deferred to win over detached")
	}
}

func TestAsyncSyncRunsOnCallerImmediately(t *testing.T) {
	pool := fiber.NewPool("test", 2)
	defer pool.Close()

	ran := false
	future := fiber.Async(pool, fiber.LaunchSync, func() (int, error) {
		ran = true
		return 7, nil
	})
	if !ran {
		t.Fatal("expected sync launch to run before Async returns")
	}
	v, err := future.Join()
	if err != nil || v != 7 {
		t.Fatalf("unexpected result: %v %v", v, err)
	}
}

func TestAsyncDeferredRunsOnJoin(t *testing.T) {
	pool := fiber.NewPool("test", 2)
	defer pool.Close()

	ran := false
	future := fiber.Async(pool, fiber.LaunchDeferred, func() (int, error) {
		ran = true
		return 9, nil
	})
	if ran {
		t.Fatal("expected deferred launch to not run before Join")
	}
	v, err := future.Join()
	if err != nil || v != 9 {
		t.Fatalf("unexpected result: %v %v", v, err)
	}
	if !ran {
		t.Fatal("expected deferred launch to run on Join")
	}
}

func TestAsyncAsyncRunsConcurrently(t *testing.T) {
	pool := fiber.NewPool("test", 2)
	defer pool.Close()

	started := make(chan struct{})
	future := fiber.Async(pool, fiber.LaunchAsync, func() (int, error) {
		close(started)
		return 11, nil
	})

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("async launch never ran")
	}
	v, err := future.Join()
	if err != nil || v != 11 {
		t.Fatalf("unexpected result: %v %v", v, err)
	}
}

func TestAsyncErrorPropagates(t *testing.T) {
	pool := fiber.NewPool("test", 1)
	defer pool.Close()

	future := fiber.Async(pool, fiber.LaunchAsync, func() (int, error) {
		return 0, errors.New("boom")
	})
	_, err := future.Join()
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom error, got %v", err)
	}
}

func TestPoolBroadcastRunsOnEveryWorker(t *testing.T) {
	pool := fiber.NewPool("test", 4)
	defer pool.Close()

	var count int32
	pool.Broadcast(func() {
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&count, 1)
	})
	if count != 4 {
		t.Fatalf("expected f to run exactly once per worker (4), ran %d times", count)
	}
}

func TestThreadJoin(t *testing.T) {
	done := false
	th := fiber.Go(func() {
		time.Sleep(time.Millisecond)
		done = true
	})
	th.Join()
	if !done {
		t.Fatal("expected thread body to have run before Join returned")
	}
}

func TestDisableThreadingRunsInline(t *testing.T) {
	pool := fiber.NewPool("test-disable", 2)
	defer pool.Close()

	fiber.DisableThreading()
	defer fiber.EnableThreading()

	callerGoroutine := currentGoroutineID(t)
	var observedGoroutine string
	pool.Go(func() {
		observedGoroutine = currentGoroutineID(t)
	})
	if observedGoroutine != callerGoroutine {
		t.Fatalf("expected DisableThreading to run f on the caller goroutine")
	}
}

func TestDisableThreadingNestsAndRestores(t *testing.T) {
	pool := fiber.NewPool("test-nest", 2)
	defer pool.Close()

	fiber.DisableThreading()
	fiber.DisableThreading()
	fiber.EnableThreading()

	callerGoroutine := currentGoroutineID(t)
	var observedGoroutine string
	pool.Go(func() {
		observedGoroutine = currentGoroutineID(t)
	})
	if observedGoroutine != callerGoroutine {
		t.Fatal("expected threading to remain disabled after a single EnableThreading with nested disables")
	}

	fiber.EnableThreading()

	done := make(chan struct{})
	pool.Go(func() {
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected threading re-enabled fiber to run on the pool")
	}
}
