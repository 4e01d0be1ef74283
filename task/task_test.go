package task_test

import (
	"bytes"
	"testing"

	"github.com/fiberfleet/distrun/internal/base"
	"github.com/fiberfleet/distrun/task"
)

type addArgs struct {
	A, B int32
}

func (a *addArgs) Serialize(ar base.Archive) {
	ar.Int32(&a.A)
	ar.Int32(&a.B)
}

func add(args addArgs) (int32, error) {
	return args.A + args.B, nil
}

func init() {
	task.Register[int32, addArgs, *addArgs]("test.add", add)
}

func TestInvokeConsumesTask(t *testing.T) {
	tk := task.Make[int32, addArgs, *addArgs]("test.add", add, addArgs{A: 2, B: 3})

	result, err := tk.Invoke()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 5 {
		t.Fatalf("expected 5, got %d", result)
	}
}

func TestDoubleInvokePanics(t *testing.T) {
	tk := task.Make[int32, addArgs, *addArgs]("test.add", add, addArgs{A: 1, B: 1})
	if _, err := tk.Invoke(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double invoke")
		}
	}()
	_, _ = tk.Invoke()
}

func TestSerializeRoundTrip(t *testing.T) {
	original := task.Make[int32, addArgs, *addArgs]("test.add", add, addArgs{A: 7, B: 35})

	var buf bytes.Buffer
	if err := base.ArchiveBinaryWrite(&buf, func(ar base.Archive) {
		ar.Serializable(&original)
	}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var decoded task.Task[int32]
	if err := base.ArchiveBinaryRead(&buf, func(ar base.Archive) {
		ar.Serializable(&decoded)
	}); err != nil {
		t.Fatalf("read failed: %v", err)
	}

	result, err := decoded.Invoke()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Fatalf("expected 42, got %d", result)
	}
}

func TestUnregisteredTagPanicsOnLoad(t *testing.T) {
	var buf bytes.Buffer
	if err := base.ArchiveBinaryWrite(&buf, func(ar base.Archive) {
		tag := "test.nonexistent"
		ar.String(&tag)
		zero := int32(0)
		ar.Int32(&zero)
		ar.Int32(&zero)
	}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unregistered tag")
		}
	}()
	var decoded task.Task[int32]
	_ = base.ArchiveBinaryRead(&buf, func(ar base.Archive) {
		ar.Serializable(&decoded)
	})
}
