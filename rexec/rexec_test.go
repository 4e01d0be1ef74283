package rexec_test

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fiberfleet/distrun/fiber"
	"github.com/fiberfleet/distrun/internal/base"
	"github.com/fiberfleet/distrun/rexec"
	"github.com/fiberfleet/distrun/server"
	"github.com/fiberfleet/distrun/transport"
)

// intArg is the smallest base.Serializable wrapper around an int32,
// reused as both Args and R across these tests: a bare int32 can't
// implement Serialize itself (Go forbids methods on unnamed/builtin
// types), so every task.Register/rexec.Async call needs one of these.
type intArg struct {
	N int32
}

func (a *intArg) Serialize(ar base.Archive) { ar.Int32(&a.N) }

func incr(a intArg) (intArg, error) {
	return intArg{N: a.N + 1}, nil
}

// harness wires one simulated rank: its own transport peer, comm loop
// and fiber pool, plus the rexec.Env that would be bound for it.
type harness struct {
	loop *server.Loop
	pool *fiber.Pool
	env  rexec.Env
}

func newHarness(peer transport.Group, pool *fiber.Pool) *harness {
	loop := server.NewLoop(peer, pool)
	return &harness{
		loop: loop,
		pool: pool,
		env:  rexec.Env{Group: peer, Loop: loop, Pool: pool},
	}
}

// pump binds h as the process-wide rexec environment and runs steps
// drain/reap/poll ticks, joining the pool after each so any fiber a poll
// dispatched has finished (and so anything it in turn enqueued is ready
// to drain on the next tick) before returning. Only one rank's Env can
// be bound at a time in a single process — see the rexec DESIGN.md
// entry — so a true two-rank round trip is played out by alternating
// pump calls across harnesses rather than running them concurrently.
func (h *harness) pump(ctx context.Context, steps int) {
	rexec.Bind(h.env)
	for i := 0; i < steps; i++ {
		h.loop.Step(ctx)
		h.pool.Join()
	}
}

// Scenario 1: local echo — async(async, rank(), f, 1).get() == 2.
func TestLocalEcho(t *testing.T) {
	peers := transport.NewLoopbackGroup(1)
	defer peers[0].Close()

	pool := fiber.NewPool("rexec-test-local", 2)
	defer pool.Close()

	h := newHarness(peers[0], pool)
	rexec.Bind(h.env)

	future := rexec.Async[intArg, intArg, *intArg, *intArg](fiber.LaunchAsync, 0, "rexec_test.incr", incr, intArg{N: 1})
	result, err := future.Join()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.N != 2 {
		t.Fatalf("expected 2, got %d", result.N)
	}
}

// Scenario 2: remote echo — on rank 0, async(async, 1, f, 41).get() == 42.
func TestRemoteEcho(t *testing.T) {
	peers := transport.NewLoopbackGroup(2)
	defer func() {
		for _, p := range peers {
			p.Close()
		}
	}()

	pool0 := fiber.NewPool("rexec-test-remote-0", 2)
	pool1 := fiber.NewPool("rexec-test-remote-1", 2)
	defer pool0.Close()
	defer pool1.Close()

	h0 := newHarness(peers[0], pool0)
	h1 := newHarness(peers[1], pool1)

	ctx := context.Background()

	rexec.Bind(h0.env)
	future := rexec.Async[intArg, intArg, *intArg, *intArg](fiber.LaunchAsync, 1, "rexec_test.remote_incr", incr, intArg{N: 41})

	// hop 1: rank 0 drains its outbound call onto the transport.
	h0.pump(ctx, 1)
	// hop 2: rank 1 receives and invokes it, enqueuing a reply, then
	// drains that reply onto the transport.
	h1.pump(ctx, 2)
	// hop 3: rank 0 receives the reply and resolves the promise.
	h0.pump(ctx, 1)

	result, err := future.Join()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.N != 42 {
		t.Fatalf("expected 42, got %d", result.N)
	}
}

// Scenario 3: ping-pong — 1000 rexec.Fire calls to the other rank
// complete in bounded time, each exactly once, outbound queue empty at
// quiescence. The receiving rank never calls into rexec itself (Fire
// needs no reply), so it can run a real concurrent Loop.Run alongside
// rank 0's Fire loop, same as server's own tests.
func TestPingPongQuiescence(t *testing.T) {
	const n = 1000

	var count atomic.Int32

	peers := transport.NewLoopbackGroup(2)
	defer func() {
		for _, p := range peers {
			p.Close()
		}
	}()

	pool0 := fiber.NewPool("rexec-test-ping-0", 4)
	pool1 := fiber.NewPool("rexec-test-ping-1", 4)
	defer pool0.Close()
	defer pool1.Close()

	loop0 := server.NewLoop(peers[0], pool0)
	loop1 := server.NewLoop(peers[1], pool1)

	rexec.Bind(rexec.Env{Group: peers[0], Loop: loop0, Pool: pool0})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	results := make([]int, 2)
	go func() {
		defer wg.Done()
		results[0] = loop0.Run(ctx, func() int {
			for i := 0; i < n; i++ {
				rexec.Fire[intArg, *intArg](1, "rexec_test.pingpong", func(intArg) (struct{}, error) {
					count.Add(1)
					return struct{}{}, nil
				}, intArg{N: int32(i)})
			}
			return 0
		})
	}()
	go func() {
		defer wg.Done()
		results[1] = loop1.Run(ctx, nil)
	}()
	wg.Wait()

	if results[0] != 0 || results[1] != 0 {
		t.Fatalf("expected both ranks to exit 0, got %v", results)
	}
	if count.Load() != n {
		t.Fatalf("expected exactly %d deliveries, got %d", n, count.Load())
	}
	if loop0.PendingOutbound() != 0 || loop1.PendingOutbound() != 0 {
		t.Fatalf("expected empty outbound queues at quiescence, got %d and %d",
			loop0.PendingOutbound(), loop1.PendingOutbound())
	}
}

// Scenario 4: proxy migration — p := remote(1, ctor); p.Local() is false
// on rank 0; p.MakeLocal().Join() == 7.
func TestProxyMigration(t *testing.T) {
	peers := transport.NewLoopbackGroup(2)
	defer func() {
		for _, p := range peers {
			p.Close()
		}
	}()

	pool0 := fiber.NewPool("rexec-test-proxy-0", 2)
	pool1 := fiber.NewPool("rexec-test-proxy-1", 2)
	defer pool0.Close()
	defer pool1.Close()

	h0 := newHarness(peers[0], pool0)
	h1 := newHarness(peers[1], pool1)

	ctx := context.Background()
	ctor := func(a intArg) (intArg, error) { return a, nil }

	rexec.Bind(h0.env)
	var proxy rexec.Proxy[intArg]
	var proxyErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		proxy, proxyErr = rexec.Remote[intArg, intArg, *intArg, *intArg](1, "rexec_test.proxy_ctor", ctor, intArg{N: 7})
	}()

	// construction round trip: rank 0's call out, rank 1's reply back.
	h0.pump(ctx, 1)
	h1.pump(ctx, 2)
	h0.pump(ctx, 1)
	<-done

	if proxyErr != nil {
		t.Fatalf("unexpected error constructing remote proxy: %v", proxyErr)
	}
	if proxy.Local() {
		t.Fatal("expected a remote proxy to report Local() == false")
	}

	rexec.Bind(h0.env)
	var value intArg
	var pullErr error
	done = make(chan struct{})
	go func() {
		defer close(done)
		value, pullErr = proxy.MakeLocal().Join()
	}()

	// pull round trip: rank 0's pull request out, rank 1's reply back.
	h0.pump(ctx, 1)
	h1.pump(ctx, 2)
	h0.pump(ctx, 1)
	<-done

	if pullErr != nil {
		t.Fatalf("unexpected error pulling proxy local: %v", pullErr)
	}
	if value.N != 7 {
		t.Fatalf("expected 7, got %d", value.N)
	}
}

// TestMakeLocalProxyIsAlreadyLocal covers the MakeLocalProxy/Local/
// MakeLocal identity path: no wire round trip involved, so it needs no
// bound Env at all.
func TestMakeLocalProxyIsAlreadyLocal(t *testing.T) {
	p := rexec.MakeLocalProxy(intArg{N: 5})
	if !p.Local() {
		t.Fatal("expected a MakeLocalProxy result to report Local() == true")
	}
	value, err := p.MakeLocal().Join()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value.N != 5 {
		t.Fatalf("expected 5, got %d", value.N)
	}
}

// TestMakeRemoteProxy covers the MakeRemoteProxy sugar wrapper over
// Remote, exercising the same construction round trip TestProxyMigration
// drives by hand.
func TestMakeRemoteProxy(t *testing.T) {
	peers := transport.NewLoopbackGroup(2)
	defer func() {
		for _, p := range peers {
			p.Close()
		}
	}()

	pool0 := fiber.NewPool("rexec-test-makeremote-0", 2)
	pool1 := fiber.NewPool("rexec-test-makeremote-1", 2)
	defer pool0.Close()
	defer pool1.Close()

	h0 := newHarness(peers[0], pool0)
	h1 := newHarness(peers[1], pool1)
	ctx := context.Background()

	rexec.Bind(h0.env)
	var proxy rexec.Proxy[intArg]
	var proxyErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		proxy, proxyErr = rexec.MakeRemoteProxy[intArg, intArg, *intArg, *intArg](1, "rexec_test.makeremote_ctor",
			func(a intArg) (intArg, error) { return a, nil }, intArg{N: 9})
	}()

	h0.pump(ctx, 1)
	h1.pump(ctx, 2)
	h0.pump(ctx, 1)
	<-done

	if proxyErr != nil {
		t.Fatalf("unexpected error: %v", proxyErr)
	}
	if proxy.Local() {
		t.Fatal("expected a MakeRemoteProxy result to report Local() == false")
	}
}

// TestSerializeProxyRoundTrip covers SerializeProxy for both the local
// and remote states: pure archive save/load, no wire dispatch needed
// since a remote Proxy's serialized form is just its SharedRPtr handle.
func TestSerializeProxyRoundTrip(t *testing.T) {
	local := rexec.MakeLocalProxy(intArg{N: 3})
	var buf bytes.Buffer
	if err := base.ArchiveBinaryWrite(&buf, func(ar base.Archive) {
		rexec.SerializeProxy[intArg, *intArg](ar, &local)
	}); err != nil {
		t.Fatalf("unexpected error serializing a local proxy: %v", err)
	}

	var loadedLocal rexec.Proxy[intArg]
	if err := base.ArchiveBinaryRead(bytes.NewReader(buf.Bytes()), func(ar base.Archive) {
		rexec.SerializeProxy[intArg, *intArg](ar, &loadedLocal)
	}); err != nil {
		t.Fatalf("unexpected error deserializing a local proxy: %v", err)
	}
	if !loadedLocal.Local() {
		t.Fatal("expected the deserialized proxy to still report Local() == true")
	}
	value, err := loadedLocal.MakeLocal().Join()
	if err != nil || value.N != 3 {
		t.Fatalf("expected (3, nil), got (%v, %v)", value, err)
	}

	peers := transport.NewLoopbackGroup(2)
	defer func() {
		for _, p := range peers {
			p.Close()
		}
	}()
	pool0 := fiber.NewPool("rexec-test-serialize-0", 2)
	pool1 := fiber.NewPool("rexec-test-serialize-1", 2)
	defer pool0.Close()
	defer pool1.Close()

	h0 := newHarness(peers[0], pool0)
	h1 := newHarness(peers[1], pool1)
	ctx := context.Background()

	rexec.Bind(h0.env)
	var remote rexec.Proxy[intArg]
	var remoteErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		remote, remoteErr = rexec.Remote[intArg, intArg, *intArg, *intArg](1, "rexec_test.serialize_ctor",
			func(a intArg) (intArg, error) { return a, nil }, intArg{N: 11})
	}()
	h0.pump(ctx, 1)
	h1.pump(ctx, 2)
	h0.pump(ctx, 1)
	<-done
	if remoteErr != nil {
		t.Fatalf("unexpected error constructing remote proxy: %v", remoteErr)
	}

	var remoteBuf bytes.Buffer
	if err := base.ArchiveBinaryWrite(&remoteBuf, func(ar base.Archive) {
		rexec.SerializeProxy[intArg, *intArg](ar, &remote)
	}); err != nil {
		t.Fatalf("unexpected error serializing a remote proxy: %v", err)
	}

	var loadedRemote rexec.Proxy[intArg]
	if err := base.ArchiveBinaryRead(bytes.NewReader(remoteBuf.Bytes()), func(ar base.Archive) {
		rexec.SerializeProxy[intArg, *intArg](ar, &loadedRemote)
	}); err != nil {
		t.Fatalf("unexpected error deserializing a remote proxy: %v", err)
	}
	if loadedRemote.Local() {
		t.Fatal("expected the deserialized proxy to still report Local() == false")
	}

	rexec.Bind(h0.env)
	var pulled intArg
	var pullErr error
	done = make(chan struct{})
	go func() {
		defer close(done)
		pulled, pullErr = loadedRemote.MakeLocal().Join()
	}()
	h0.pump(ctx, 1)
	h1.pump(ctx, 2)
	h0.pump(ctx, 1)
	<-done
	if pullErr != nil {
		t.Fatalf("unexpected error pulling the deserialized remote proxy: %v", pullErr)
	}
	if pulled.N != 11 {
		t.Fatalf("expected 11, got %d", pulled.N)
	}
}

// Scenario 6: termination with imbalance — rank 0 fires 10000 tasks to
// rank 1 where f returns immediately; eventloop returns 0 on every rank
// and no task is lost.
func TestTerminationWithImbalance(t *testing.T) {
	const n = 10000

	var count atomic.Int32
	fn := func(intArg) (struct{}, error) {
		count.Add(1)
		return struct{}{}, nil
	}

	peers := transport.NewLoopbackGroup(2)
	defer func() {
		for _, p := range peers {
			p.Close()
		}
	}()

	pool0 := fiber.NewPool("rexec-test-imbalance-0", 8)
	pool1 := fiber.NewPool("rexec-test-imbalance-1", 8)
	defer pool0.Close()
	defer pool1.Close()

	loop0 := server.NewLoop(peers[0], pool0)
	loop1 := server.NewLoop(peers[1], pool1)
	rexec.Bind(rexec.Env{Group: peers[0], Loop: loop0, Pool: pool0})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	results := make([]int, 2)
	go func() {
		defer wg.Done()
		results[0] = loop0.Run(ctx, func() int {
			for i := 0; i < n; i++ {
				rexec.Fire[intArg, *intArg](1, "rexec_test.imbalance", fn, intArg{N: int32(i)})
			}
			return 0
		})
	}()
	go func() {
		defer wg.Done()
		results[1] = loop1.Run(ctx, nil)
	}()
	wg.Wait()
	pool1.Join()

	if results[0] != 0 || results[1] != 0 {
		t.Fatalf("expected both ranks to exit 0, got %v", results)
	}
	if count.Load() != n {
		t.Fatalf("expected no task lost: wanted %d, got %d", n, count.Load())
	}
}
