// Package monitor provides a mutual-exclusion lock paired with a broadcast
// wait set. Critical sections run through WithLock and receive a Guard, which
// is the only handle able to wait on a predicate or wake waiters. Lock
// acquisition is FIFO and honours context cancellation while queued.
package monitor

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Monitor serialises critical sections and lets them block until a predicate
// over the guarded state holds.
type Monitor struct {
	sem     *semaphore.Weighted
	waitCh  chan struct{} // guarded by sem; closed and replaced by SignalAll
	waiters atomic.Int64
}

// New returns an unlocked Monitor.
func New() *Monitor {
	return &Monitor{sem: semaphore.NewWeighted(1)}
}

// WithLock runs fn with exclusive access. Callers queue in arrival order and
// give up with ctx.Err() when ctx ends before the lock is obtained. The lock
// is released on every exit path, including a panic inside fn.
func (m *Monitor) WithLock(ctx context.Context, fn func(g *Guard) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g := &Guard{m: m, ctx: ctx}
	defer func() {
		g.m = nil
		m.sem.Release(1)
	}()
	return fn(g)
}

// Waiters reports how many goroutines are parked in Guard.WaitUntil.
func (m *Monitor) Waiters() int {
	return int(m.waiters.Load())
}

func (m *Monitor) waitChan() chan struct{} {
	if m.waitCh == nil {
		m.waitCh = make(chan struct{})
	}
	return m.waitCh
}

// Guard is the capability handed to a critical section. It must not be
// retained after the section returns.
type Guard struct {
	m   *Monitor
	ctx context.Context
}

// Context returns the context the critical section was entered with.
func (g *Guard) Context() context.Context {
	return g.ctx
}

// WaitUntil blocks until pred reports true. While suspended the lock is
// released; it is re-acquired before pred is evaluated again, so pred always
// observes a consistent state. Wakeups that leave pred false simply park the
// caller again.
//
// WaitUntil returns with the lock held in every case. When the critical
// section's context ends first it returns the context error and the caller
// may still clean up guarded state before leaving the section.
func (g *Guard) WaitUntil(pred func() bool) error {
	m := g.held()
	for !pred() {
		if err := g.ctx.Err(); err != nil {
			return err
		}
		wake := m.waitChan()
		m.waiters.Add(1)
		m.sem.Release(1)

		var cancelled error
		select {
		case <-wake:
		case <-g.ctx.Done():
			cancelled = g.ctx.Err()
		}

		m.waiters.Add(-1)
		// Re-entry ignores ctx: the caller owns the lock again on return.
		_ = m.sem.Acquire(context.Background(), 1)
		if cancelled != nil {
			return cancelled
		}
	}
	return nil
}

// SignalAll wakes every goroutine parked in WaitUntil so each re-checks its
// own predicate.
func (g *Guard) SignalAll() {
	m := g.held()
	if m.waitCh != nil {
		close(m.waitCh)
		m.waitCh = nil
	}
}

func (g *Guard) held() *Monitor {
	if g == nil || g.m == nil {
		panic("monitor: guard used outside its critical section")
	}
	return g.m
}
