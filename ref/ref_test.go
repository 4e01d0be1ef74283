package ref_test

import (
	"testing"

	"github.com/fiberfleet/distrun/ref"
)

func TestPinResolveUnpin(t *testing.T) {
	const local ref.Rank = 0
	value := 42
	p := ref.Pin(local, &value)

	got := ref.Resolve(local, p)
	if *got != 42 {
		t.Fatalf("expected 42, got %d", *got)
	}

	ref.Unpin(p.Addr)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic resolving an unpinned RPtr")
		}
	}()
	ref.Resolve(local, p)
}

func TestResolveWrongRankPanics(t *testing.T) {
	const owner ref.Rank = 0
	const other ref.Rank = 1
	value := 1
	p := ref.Pin(owner, &value)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic resolving from the wrong rank")
		}
	}()
	ref.Resolve(other, p)
}

type closeTracker struct {
	closed *bool
}

func (c *closeTracker) Close() error {
	*c.closed = true
	return nil
}

func TestSharedRPtrDestroysExactlyOnceLocally(t *testing.T) {
	const owner ref.Rank = 0
	closed := false
	shared := ref.PinShared(owner, &closeTracker{closed: &closed})

	clone1 := shared.Clone(owner)
	clone2 := shared.Clone(owner)

	shared.Release(owner)
	if closed {
		t.Fatal("object destroyed before all references released")
	}
	clone1.Release(owner)
	if closed {
		t.Fatal("object destroyed before all references released")
	}
	clone2.Release(owner)
	if !closed {
		t.Fatal("expected object to be destroyed once refcount reaches zero")
	}
}

func TestSharedRPtrRemoteRoundTrip(t *testing.T) {
	const owner ref.Rank = 0
	const remote ref.Rank = 1

	var incrementCalls, decrementCalls int
	ref.SetRemoteOps(
		func(o ref.Rank, addr ref.Addr) {
			incrementCalls++
			ref.IncrefRemote(addr)
		},
		func(o ref.Rank, addr ref.Addr) {
			decrementCalls++
			ref.DecrefRemote(addr)
		},
	)

	closed := false
	shared := ref.PinShared(owner, &closeTracker{closed: &closed})

	// remote rank observes the pointer and clones/releases it without
	// ever being the owner: every touch must route through the owner.
	remoteClone := shared.Clone(remote)
	if incrementCalls != 1 {
		t.Fatalf("expected exactly one remote incref, got %d", incrementCalls)
	}

	remoteClone.Release(remote)
	if decrementCalls != 1 {
		t.Fatalf("expected exactly one remote decref, got %d", decrementCalls)
	}

	shared.Release(owner)
	if !closed {
		t.Fatal("expected object destroyed once the last reference (owner's) is released")
	}
}
