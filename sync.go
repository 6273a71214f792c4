package multilock

import (
	"sync/atomic"

	"github.com/llxisdsh/multilock/internal/opt"
)

// synchronizer is the admission engine behind MultiLock.
//
// Admission decisions are made lock-free against the packed state
// word; a goroutine that cannot be admitted parks on a FIFO waiter
// queue until a release signals it. Queueing is non-strict: a new
// arrival whose mode is compatible with the current holders overtakes
// parked waiters, trading fairness for throughput as in the Gray
// matrix.
type synchronizer struct {
	// state is the packed hold-count word. Every transition goes
	// through CAS.
	state atomic.Uint64

	// owner is the goroutine id of the exclusive (X) holder, 0 if
	// none. Written on the X 0->1 and 1->0 transitions; reentrant X
	// holds refresh it with the same value.
	owner atomic.Int64

	holds holdRegistry

	// FIFO waiter queue. qmu also orders signal delivery: releases
	// peek and post under it, so a waiter that is enqueued can no
	// longer be skipped by a concurrent release.
	qmu  ticketLock
	head *waiter
	tail *waiter
}

// waiter is one parked acquirer. unit and exclusive describe the
// pending request; hc lets a releaser evaluate the waiter's predicate
// on its behalf before posting the semaphore.
type waiter struct {
	next      *waiter
	unit      uint64
	exclusive bool
	hc        *holdCounter
	sema      opt.Sema
}

// acquireX admits the calling goroutine in X mode, blocking while any
// other goroutine holds any mode.
func (s *synchronizer) acquireX() {
	hc := s.holds.get()
	if s.tryAcquireX(hc) {
		return
	}
	s.acquireSlow(xUnit, true, hc)
}

// acquireShared admits the calling goroutine in the IS, IX or S mode
// selected by unit, blocking while an incompatible mode is held by
// another goroutine.
func (s *synchronizer) acquireShared(unit uint64) {
	hc := s.holds.get()
	if s.tryAcquireShared(unit, hc) >= 0 {
		return
	}
	s.acquireSlow(unit, false, hc)
}

// tryAcquireX is the exclusive admission predicate plus transition:
//
//   - lock entirely free: admit, become owner
//   - X held by the caller: reentrant admit
//   - X held by another goroutine: refuse
//   - X free but non-X modes held: refuse, unless every non-X hold
//     belongs to the caller — then this is a self-upgrade and we admit.
func (s *synchronizer) tryAcquireX(hc *holdCounter) bool {
	for {
		c := s.state.Load()
		if c != 0 {
			if c&xField != 0 {
				if s.owner.Load() != hc.gid {
					return false
				}
			} else if (c-hc.state.Load())&nonXFields != 0 {
				// another goroutine holds a non-X mode
				return false
			}
		}
		checkOverflow(c, xUnit)
		if s.state.CompareAndSwap(c, c+xUnit) {
			s.owner.Store(hc.gid)
			hc.state.Add(xUnit)
			s.holds.cached.Store(hc)
			return true
		}
	}
}

// tryAcquireShared runs the shared admission predicate for unit and,
// on success, publishes the transition. It returns -1 to block, 0 for
// an admit that cannot unblock anyone else (the caller also holds X,
// so every other goroutine stays excluded), and 1 for an admit whose
// wake may cascade down the queue.
func (s *synchronizer) tryAcquireShared(unit uint64, hc *holdCounter) int {
	for {
		c := s.state.Load()
		if c&xField != 0 {
			if s.owner.Load() != hc.gid {
				return -1
			}
			// The caller is the exclusive owner; any mode is its to
			// take.
			if s.update(c, unit, hc) {
				return 0
			}
			continue
		}
		switch unit {
		case isUnit:
			// IS conflicts only with X held by another goroutine.
			if s.update(c, unit, hc) {
				return 1
			}
		case ixUnit:
			// IX excludes S held by another goroutine.
			if c&sField != 0 && (c-hc.state.Load())&sField != 0 {
				return -1
			}
			if s.update(c, unit, hc) {
				return 1
			}
		case sUnit:
			// S excludes IX held by another goroutine.
			if c&ixField != 0 && (c-hc.state.Load())&ixField != 0 {
				return -1
			}
			if s.update(c, unit, hc) {
				return 1
			}
		}
	}
}

// update publishes c -> c+unit and mirrors the increment into the
// caller's hold counter.
func (s *synchronizer) update(c, unit uint64, hc *holdCounter) bool {
	checkOverflow(c, unit)
	if s.state.CompareAndSwap(c, c+unit) {
		hc.state.Add(unit)
		s.holds.cached.Store(hc)
		return true
	}
	return false
}

// acquireSlow parks the calling goroutine until its admission
// predicate passes. The predicate re-runs after enqueueing and after
// every wake; a release between the failed fast path and the enqueue
// is therefore never missed, and a spurious wake merely re-parks.
func (s *synchronizer) acquireSlow(unit uint64, exclusive bool, hc *holdCounter) {
	w := &waiter{unit: unit, exclusive: exclusive, hc: hc}
	s.qmu.Lock()
	s.enqueue(w)
	s.qmu.Unlock()

	propagate := 0
	for {
		if exclusive {
			if s.tryAcquireX(hc) {
				break
			}
		} else if p := s.tryAcquireShared(unit, hc); p >= 0 {
			propagate = p
			break
		}
		w.sema.Acquire()
	}

	s.qmu.Lock()
	s.dequeue(w)
	s.qmu.Unlock()

	// A shared admit may leave the new head admissible as well (e.g. a
	// queue of readers after a writer leaves): cascade the wake so
	// compatible waiters drain transitively.
	if propagate > 0 {
		s.signalNextAdmissible()
	}
}

// releaseX undoes one X hold. The caller must be the exclusive owner.
func (s *synchronizer) releaseX() {
	hc := s.holds.get()
	if s.owner.Load() != hc.gid {
		panic("multilock: UnlockX by a goroutine that does not hold the X lock")
	}
	for {
		c := s.state.Load()
		next := c - xUnit
		if next&xField == 0 {
			// Last X hold: surrender ownership before the publishing
			// CAS so an admitted goroutine never observes X == 0 with
			// a stale owner.
			s.owner.Store(0)
		}
		// While X is held only the owner can transition the state, so
		// this CAS contends at most with the owner's own earlier
		// loads.
		if s.state.CompareAndSwap(c, next) {
			hc.state.Add(^(xUnit - 1))
			if next&xField == 0 {
				s.signalNext()
			}
			return
		}
	}
}

// releaseShared undoes one hold of the IS, IX or S mode selected by
// unit. The hold counter is decremented first — it is owned by the
// calling goroutine — then the state word is CASed down.
func (s *synchronizer) releaseShared(unit uint64) {
	hc := s.holds.get()
	if hc.state.Load()&fieldOf(unit) == 0 {
		panic("multilock: Unlock" + modeName(unit) + " of an unheld " + modeName(unit) + " lock")
	}
	hc.state.Add(^(unit - 1))
	for {
		c := s.state.Load()
		next := c - unit
		if s.state.CompareAndSwap(c, next) {
			// Wake whenever the release could have unblocked someone.
			// While X is held nobody else can be admitted. With X
			// free, a partial release may still matter: if the holds
			// remaining in this field all belong to the queue head,
			// its "other holders" check now passes. The woken waiter
			// re-parks if it is still blocked, so waking broadly here
			// costs a spurious wake, never correctness.
			if next&xField == 0 || next&fieldOf(unit) == 0 {
				s.signalNext()
			}
			return
		}
	}
}

// signalNext wakes the queue head unconditionally. The woken waiter
// re-evaluates its predicate and re-parks if still blocked.
func (s *synchronizer) signalNext() {
	s.qmu.Lock()
	if w := s.head; w != nil {
		w.sema.Release()
	}
	s.qmu.Unlock()
}

// signalNextAdmissible wakes the queue head only if its admission
// predicate passes against the current state. Used for the shared
// cascade, where waking an incompatible waiter would be a pure
// spurious wake.
func (s *synchronizer) signalNextAdmissible() {
	s.qmu.Lock()
	if w := s.head; w != nil && s.canAdmit(w) {
		w.sema.Release()
	}
	s.qmu.Unlock()
}

// canAdmit evaluates w's admission predicate read-only, on the
// waiter's behalf. The waiter still re-evaluates for itself after the
// wake, so a decision gone stale here is benign.
func (s *synchronizer) canAdmit(w *waiter) bool {
	c := s.state.Load()
	if c&xField != 0 {
		return s.owner.Load() == w.hc.gid
	}
	if w.exclusive {
		return (c-w.hc.state.Load())&nonXFields == 0
	}
	switch w.unit {
	case ixUnit:
		return (c-w.hc.state.Load())&sField == 0
	case sUnit:
		return (c-w.hc.state.Load())&ixField == 0
	}
	return true // IS
}

// enqueue and dequeue run under qmu. A waiter may be unlinked from the
// middle of the list: cascaded waiters can be admitted out of order
// relative to their neighbours.
func (s *synchronizer) enqueue(w *waiter) {
	if s.tail == nil {
		s.head = w
		s.tail = w
		return
	}
	s.tail.next = w
	s.tail = w
}

func (s *synchronizer) dequeue(w *waiter) {
	var prev *waiter
	for n := s.head; n != nil; prev, n = n, n.next {
		if n != w {
			continue
		}
		if prev == nil {
			s.head = n.next
		} else {
			prev.next = n.next
		}
		if s.tail == n {
			s.tail = prev
		}
		n.next = nil
		return
	}
}
