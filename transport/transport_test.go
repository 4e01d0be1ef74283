package transport

import (
	"context"
	"testing"
	"time"
)

func TestLoopbackGroupSendRecv(t *testing.T) {
	peers := NewLoopbackGroup(3)
	defer func() {
		for _, p := range peers {
			p.Close()
		}
	}()

	ctx := context.Background()
	if err := peers[0].Send(ctx, 2, TaskTag, []byte("hello")).Wait(ctx); err != nil {
		t.Fatalf("send: %v", err)
	}

	src, tag, n, ok := peers[2].Probe(ctx)
	if !ok {
		t.Fatal("expected a probeable message")
	}
	if src != 0 || tag != TaskTag || n != len("hello") {
		t.Fatalf("unexpected probe result: src=%d tag=%d n=%d", src, tag, n)
	}

	buf := make([]byte, n)
	if err := peers[2].Recv(ctx, AnySource, TaskTag, buf); err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", buf)
	}
}

func TestLoopbackSelfSendIsLocal(t *testing.T) {
	peers := NewLoopbackGroup(2)
	defer func() {
		for _, p := range peers {
			p.Close()
		}
	}()

	ctx := context.Background()
	if err := peers[1].Send(ctx, 1, TaskTag, []byte("loop")).Wait(ctx); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, _, _, ok := peers[1].Probe(ctx); !ok {
		t.Fatal("expected a pending message after self-send")
	}
}

func TestLoopbackUnknownRank(t *testing.T) {
	peers := NewLoopbackGroup(2)
	defer func() {
		for _, p := range peers {
			p.Close()
		}
	}()

	ctx := context.Background()
	err := peers[0].Send(ctx, 5, TaskTag, []byte("x")).Wait(ctx)
	if _, ok := err.(ErrUnknownRank); !ok {
		t.Fatalf("expected ErrUnknownRank, got %v", err)
	}
}

func TestLoopbackProbeTimesOutOnEmpty(t *testing.T) {
	peers := NewLoopbackGroup(2)
	defer func() {
		for _, p := range peers {
			p.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, _, ok := peers[0].Probe(ctx); ok {
		t.Fatal("expected Probe to report no message before the timeout")
	}
}

func TestLoopbackProbeAfterCloseReturnsNotOk(t *testing.T) {
	peers := NewLoopbackGroup(2)
	peers[1].Close()

	_, _, _, ok := peers[1].Probe(context.Background())
	if ok {
		t.Fatal("expected Probe on a closed group to report not-ok")
	}
}

func TestLoopbackIBarrierCompletesOnceEveryRankEnters(t *testing.T) {
	peers := NewLoopbackGroup(3)
	defer func() {
		for _, p := range peers {
			p.Close()
		}
	}()

	ctx := context.Background()
	h0 := peers[0].IBarrier(ctx)
	h1 := peers[1].IBarrier(ctx)
	if h0.Done() || h1.Done() {
		t.Fatal("barrier should not complete until every rank enters")
	}

	h2 := peers[2].IBarrier(ctx)

	timeout, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	for _, h := range []BarrierHandle{h0, h1, h2} {
		if err := h.Wait(timeout); err != nil {
			t.Fatalf("barrier wait: %v", err)
		}
	}
}

func TestFrameRoundTripUncompressed(t *testing.T) {
	var buf writeBuffer
	payload := []byte("a small payload")
	if err := writeFrame(&buf, TaskTag, payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	tag, got, err := readFrame(&readBuffer{data: buf.Bytes()})
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if tag != TaskTag {
		t.Fatalf("expected tag %d, got %d", TaskTag, tag)
	}
	if string(got) != string(payload) {
		t.Fatalf("expected %q, got %q", payload, got)
	}
}

func TestFrameRoundTripCompressed(t *testing.T) {
	payload := make([]byte, compressThreshold*4)
	for i := range payload {
		payload[i] = byte(i % 7) // compressible, repetitive pattern
	}

	var buf writeBuffer
	if err := writeFrame(&buf, TaskTag, payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	tag, got, err := readFrame(&readBuffer{data: buf.Bytes()})
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if tag != TaskTag {
		t.Fatalf("expected tag %d, got %d", TaskTag, tag)
	}
	if len(got) != len(payload) {
		t.Fatalf("expected %d bytes, got %d", len(payload), len(got))
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d mismatch: expected %d, got %d", i, payload[i], got[i])
		}
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	var buf writeBuffer
	if err := writeHandshake(&buf, 7); err != nil {
		t.Fatalf("writeHandshake: %v", err)
	}
	rank, err := readHandshake(&readBuffer{data: buf.Bytes()})
	if err != nil {
		t.Fatalf("readHandshake: %v", err)
	}
	if rank != 7 {
		t.Fatalf("expected rank 7, got %d", rank)
	}
}

func TestLoadSaveRosterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/roster.json"

	roster := Roster{"127.0.0.1:9000", "127.0.0.1:9001", "127.0.0.1:9002"}
	if err := SaveRoster(path, roster); err != nil {
		t.Fatalf("SaveRoster: %v", err)
	}

	loaded, err := LoadRoster(path)
	if err != nil {
		t.Fatalf("LoadRoster: %v", err)
	}
	if len(loaded) != len(roster) {
		t.Fatalf("expected %d entries, got %d", len(roster), len(loaded))
	}
	for i := range roster {
		if loaded[i] != roster[i] {
			t.Fatalf("entry %d: expected %q, got %q", i, roster[i], loaded[i])
		}
	}
}
