package multilock

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// Admission is non-strict: a compatible arrival overtakes a parked X
// waiter instead of queueing behind it.
func TestNonStrictAdmission(t *testing.T) {
	m := New(nil)
	m.LockS()

	xDone := startBlocked(t, "LockX vs held S", func() {
		m.LockX()
		m.UnlockX()
	})

	// The X waiter is parked; IS is compatible with the held S and
	// must get in immediately.
	mustComplete(t, "IS past a parked X waiter", func() {
		m.LockIS()
		m.UnlockIS()
	})

	m.UnlockS()
	await(t, "X after S release", xDone)
}

// A waiter that is woken but still inadmissible re-parks and is woken
// again by a later release.
func TestWaiterReparks(t *testing.T) {
	m := New(nil)
	m.LockIS()

	held := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.LockIX()
		close(held)
		<-release
		m.UnlockIX()
	}()
	<-held

	// X blocks on both the IS (main) and the IX (helper). Releasing
	// the IX wakes it, it re-parks on the remaining IS.
	xDone := startBlocked(t, "LockX vs IS+IX", func() {
		m.LockX()
		m.UnlockX()
	})

	close(release)
	wg.Wait()
	select {
	case <-xDone:
		t.Fatal("X admitted while IS still held")
	case <-time.After(blockProbe):
	}

	m.UnlockIS()
	await(t, "X after last holder left", xDone)
}

// Mixed-mode stress: S holders must never observe an active X holder,
// X holders must be alone, and the state word must drain to zero.
func TestStressMixedModes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}
	m := New(nil)
	var writers, readers atomic.Int32

	const loops = 300
	n := max(4, runtime.GOMAXPROCS(0))

	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			for j := range loops {
				switch (i + j) % 4 {
				case 0:
					m.LockIS()
					m.UnlockIS()
				case 1:
					m.LockIX()
					if r := writers.Load(); r != 0 {
						m.UnlockIX()
						return fmt.Errorf("IX holder observed %d active writers", r)
					}
					m.UnlockIX()
				case 2:
					m.LockS()
					readers.Add(1)
					if w := writers.Load(); w != 0 {
						return fmt.Errorf("S holder observed %d active writers", w)
					}
					readers.Add(-1)
					m.UnlockS()
				default:
					m.LockX()
					if w := writers.Add(1); w != 1 {
						return fmt.Errorf("%d concurrent writers", w)
					}
					if r := readers.Load(); r != 0 {
						return fmt.Errorf("writer observed %d active readers", r)
					}
					writers.Add(-1)
					m.UnlockX()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if c := m.sync.state.Load(); c != 0 {
		t.Errorf("state after stress = %#016x, want 0", c)
	}
}

// Stress through a two-level tree: writers on one leaf exclude each
// other but run concurrently with readers of the sibling leaf.
func TestStressTree(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}
	root := New(nil)
	left := New(root)
	right := New(root)
	var leftWriters atomic.Int32

	const loops = 200
	n := max(4, runtime.GOMAXPROCS(0))

	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			for range loops {
				if i%2 == 0 {
					left.LockX()
					if w := leftWriters.Add(1); w != 1 {
						return fmt.Errorf("%d concurrent writers on left leaf", w)
					}
					if got := root.IXCount(); got < 1 {
						return fmt.Errorf("root IXCount = %d under leaf X", got)
					}
					leftWriters.Add(-1)
					left.UnlockX()
				} else {
					right.LockS()
					if got := root.ISCount(); got < 1 {
						return fmt.Errorf("root ISCount = %d under leaf S", got)
					}
					right.UnlockS()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	for _, l := range []*MultiLock{root, left, right} {
		if c := l.sync.state.Load(); c != 0 {
			t.Errorf("state after stress = %#016x, want 0", c)
		}
	}
}

// The hold-counter cache slot keeps working when many goroutines
// interleave; a stale slot must fall back to the registry, never to
// another goroutine's counter.
func TestHoldCounterCacheContention(t *testing.T) {
	m := New(nil)
	const loops = 500
	n := max(4, runtime.GOMAXPROCS(0))

	var g errgroup.Group
	for range n {
		g.Go(func() error {
			for range loops {
				m.LockIS()
				if got := m.ISHoldCount(); got != 1 {
					m.UnlockIS()
					return fmt.Errorf("ISHoldCount = %d, want 1", got)
				}
				m.UnlockIS()
				if got := m.ISHoldCount(); got != 0 {
					return fmt.Errorf("ISHoldCount after release = %d, want 0", got)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func BenchmarkUncontendedIS(b *testing.B) {
	m := New(nil)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.LockIS()
			m.UnlockIS()
		}
	})
}

func BenchmarkUncontendedX(b *testing.B) {
	m := New(nil)
	for b.Loop() {
		m.LockX()
		m.UnlockX()
	}
}

func BenchmarkReentrantS(b *testing.B) {
	m := New(nil)
	m.LockS()
	defer m.UnlockS()
	for b.Loop() {
		m.LockS()
		m.UnlockS()
	}
}
