package fiber

import "sync"

// Mutex is a binary cell fibers suspend on: Lock blocks the calling
// goroutine (the closest Go analog to suspending a fiber) until the cell
// is free.
type Mutex struct {
	inner sync.Mutex
}

func (m *Mutex) Lock()   { m.inner.Lock() }
func (m *Mutex) Unlock() { m.inner.Unlock() }

// TryLock attempts to acquire the cell without suspending, returning
// whether it succeeded.
func (m *Mutex) TryLock() bool { return m.inner.TryLock() }
