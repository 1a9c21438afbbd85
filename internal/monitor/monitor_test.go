package monitor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/lockbank/internal/monitor"
)

func waitForWaiters(t *testing.T, m *monitor.Monitor, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for m.Waiters() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d waiters, have %d", n, m.Waiters())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWithLockIsExclusive(t *testing.T) {
	t.Parallel()

	m := monitor.New()
	var inside atomic.Int32
	var overlap atomic.Bool
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				err := m.WithLock(context.Background(), func(*monitor.Guard) error {
					if inside.Add(1) != 1 {
						overlap.Store(true)
					}
					counter++
					inside.Add(-1)
					return nil
				})
				if err != nil {
					t.Errorf("with lock: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if overlap.Load() {
		t.Fatal("critical sections overlapped")
	}
	if counter != 16*200 {
		t.Fatalf("expected counter %d, got %d", 16*200, counter)
	}
}

func TestWithLockReturnsSectionError(t *testing.T) {
	t.Parallel()

	m := monitor.New()
	want := errors.New("boom")
	if err := m.WithLock(context.Background(), func(*monitor.Guard) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	// Lock must be free again.
	if err := m.WithLock(context.Background(), func(*monitor.Guard) error { return nil }); err != nil {
		t.Fatalf("relock: %v", err)
	}
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	t.Parallel()

	m := monitor.New()
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = m.WithLock(context.Background(), func(*monitor.Guard) error {
			panic("section failed")
		})
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.WithLock(ctx, func(*monitor.Guard) error { return nil }); err != nil {
		t.Fatalf("lock leaked after panic: %v", err)
	}
}

func TestWithLockHonoursContextWhileQueued(t *testing.T) {
	t.Parallel()

	m := monitor.New()
	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.WithLock(context.Background(), func(*monitor.Guard) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := m.WithLock(ctx, func(*monitor.Guard) error {
		ran = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if ran {
		t.Fatal("section ran without the lock")
	}
	close(release)
	<-done
}

func TestWaitUntilWakesOnSignalAll(t *testing.T) {
	t.Parallel()

	m := monitor.New()
	ready := false
	result := make(chan error, 1)
	go func() {
		result <- m.WithLock(context.Background(), func(g *monitor.Guard) error {
			return g.WaitUntil(func() bool { return ready })
		})
	}()
	waitForWaiters(t, m, 1)

	if err := m.WithLock(context.Background(), func(g *monitor.Guard) error {
		ready = true
		g.SignalAll()
		return nil
	}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestWaitUntilRechecksPredicateAfterUnrelatedSignal(t *testing.T) {
	t.Parallel()

	m := monitor.New()
	value := 0
	result := make(chan error, 1)
	go func() {
		result <- m.WithLock(context.Background(), func(g *monitor.Guard) error {
			return g.WaitUntil(func() bool { return value >= 10 })
		})
	}()
	waitForWaiters(t, m, 1)

	_ = m.WithLock(context.Background(), func(g *monitor.Guard) error {
		value = 5
		g.SignalAll()
		return nil
	})
	// The waiter wakes, finds the predicate false and parks again.
	waitForWaiters(t, m, 1)
	select {
	case err := <-result:
		t.Fatalf("waiter returned early: %v", err)
	default:
	}

	_ = m.WithLock(context.Background(), func(g *monitor.Guard) error {
		value = 10
		g.SignalAll()
		return nil
	})
	if err := <-result; err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestSignalAllWakesEveryWaiter(t *testing.T) {
	t.Parallel()

	m := monitor.New()
	level := 0
	var wg sync.WaitGroup
	var woke atomic.Int32
	for i := 1; i <= 4; i++ {
		threshold := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithLock(context.Background(), func(g *monitor.Guard) error {
				return g.WaitUntil(func() bool { return level >= threshold })
			})
			if err == nil {
				woke.Add(1)
			}
		}()
	}
	waitForWaiters(t, m, 4)

	_ = m.WithLock(context.Background(), func(g *monitor.Guard) error {
		level = 4
		g.SignalAll()
		return nil
	})
	wg.Wait()
	if woke.Load() != 4 {
		t.Fatalf("expected 4 waiters to proceed, got %d", woke.Load())
	}
}

func TestWaitUntilCancellationKeepsLockAndOtherWaiters(t *testing.T) {
	t.Parallel()

	m := monitor.New()
	ready := false
	cleaned := false
	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		cancelled <- m.WithLock(ctx, func(g *monitor.Guard) error {
			err := g.WaitUntil(func() bool { return ready })
			if err != nil {
				// Still inside the critical section.
				cleaned = true
			}
			return err
		})
	}()
	other := make(chan error, 1)
	go func() {
		other <- m.WithLock(context.Background(), func(g *monitor.Guard) error {
			return g.WaitUntil(func() bool { return ready })
		})
	}()
	waitForWaiters(t, m, 2)

	cancel()
	if err := <-cancelled; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	waitForWaiters(t, m, 1)

	_ = m.WithLock(context.Background(), func(g *monitor.Guard) error {
		if !cleaned {
			t.Error("cancelled waiter did not run its cleanup under the lock")
		}
		ready = true
		g.SignalAll()
		return nil
	})
	if err := <-other; err != nil {
		t.Fatalf("other waiter: %v", err)
	}
}

func TestGuardOutsideSectionPanics(t *testing.T) {
	t.Parallel()

	m := monitor.New()
	var leaked *monitor.Guard
	_ = m.WithLock(context.Background(), func(g *monitor.Guard) error {
		leaked = g
		return nil
	})
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for stale guard")
		}
	}()
	leaked.SignalAll()
}
