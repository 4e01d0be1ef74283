package fiber

import (
	"runtime"
	"time"
)

// Yield gives other goroutines a chance to run, the closest Go analog to
// spec.md §5's this_thread::yield suspension point — a real fiber
// scheduler would switch to another ready fiber here; Go's runtime
// scheduler plays that role when a goroutine calls runtime.Gosched.
func Yield() {
	runtime.Gosched()
}

// Sleep suspends the calling goroutine for d, matching spec.md §5's
// this_thread::sleep_for. Not interruptible, same as the original.
func Sleep(d time.Duration) {
	time.Sleep(d)
}
