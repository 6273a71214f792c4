package multilock

import (
	"sync/atomic"

	"github.com/llxisdsh/pb"
	"github.com/petermattis/goid"
)

// holdCounter records one goroutine's contribution to the lock state.
// Its word uses the exact layout of the state word, so the admission
// logic can compute "what every other goroutine holds" with a single
// subtraction: other = state - hold.
//
// Only the owning goroutine mutates state. Other goroutines read it —
// when peeking the cache slot, and when a releaser evaluates a parked
// waiter's predicate — hence the atomic.
type holdCounter struct {
	gid   int64
	state atomic.Uint64
}

// holdRegistry maps goroutine id -> hold counter.
//
// Counters are created lazily on first acquisition and kept for the
// goroutine's lifetime; the registry is sparse and never pruned
// mid-run. A single-slot cache remembers the last toucher so that
// back-to-back operations by the same goroutine skip the map lookup.
// A stale slot only costs that lookup, never correctness, because the
// gid comparison rejects counters of other goroutines.
type holdRegistry struct {
	m      pb.MapOf[int64, *holdCounter]
	cached atomic.Pointer[holdCounter]
}

// get returns the calling goroutine's hold counter, creating it on
// first use, and refreshes the cache slot.
func (r *holdRegistry) get() *holdCounter {
	gid := goid.Get()
	if h := r.cached.Load(); h != nil && h.gid == gid {
		return h
	}
	h, ok := r.m.Load(gid)
	if !ok {
		h, _ = r.m.LoadOrStore(gid, &holdCounter{gid: gid})
	}
	r.cached.Store(h)
	return h
}

// peek is like get but never allocates. It returns nil if the calling
// goroutine has no counter yet.
func (r *holdRegistry) peek() *holdCounter {
	gid := goid.Get()
	if h := r.cached.Load(); h != nil && h.gid == gid {
		return h
	}
	h, _ := r.m.Load(gid)
	return h
}
