// Package multilock provides a multi-granularity lock supporting the
// five classical lock modes from Gray et al., "Granularity of Locks in
// a Shared Data Base" (1975): IS, IX, S, SIX and X.
//
// A single lock may be held concurrently by many goroutines in
// different modes, provided the modes are pairwise compatible:
//
//	      | IS  | IX  | S   | SIX | X
//	------+-----+-----+-----+-----+----
//	  IS  | yes | yes | yes | yes | no
//	  IX  | yes | yes | no  | no  | no
//	  S   | yes | no  | yes | no  | no
//	  SIX | yes | no  | no  | no  | no
//	  X   | no  | no  | no  | no  | no
//
// Every mode is reentrant per goroutine, and a goroutine's own holds
// never conflict with its new requests, so upgrades such as S->X or
// IX->S succeed without blocking whenever no other goroutine holds a
// conflicting mode. SIX is not a distinct operation: it is the state
// of holding S and IX simultaneously.
//
// Holds are accounted per goroutine: a mode must be released by the
// goroutine that acquired it. Blocked acquirers park on a FIFO queue,
// but admission is non-strict — a compatible new arrival may overtake
// parked waiters. That favours throughput over fairness and means a
// continuous stream of shared holders can starve an X waiter.
package multilock

// MultiLock is a multi-granularity lock.
//
// The zero value is a root lock, ready to use. New builds a lock
// nested under a parent: acquiring a mode on the child then first
// acquires the matching intention mode on the parent ({IS,S} -> IS,
// {IX,X} -> IX), recursively upward, and releasing undoes the chain in
// reverse. The parent link is fixed at construction and the caller is
// expected to build a tree; the parent must outlive the child.
//
// A MultiLock must not be copied after first use.
type MultiLock struct {
	_      noCopy
	parent *MultiLock
	sync   synchronizer
}

// New returns a MultiLock nested under parent. A nil parent yields a
// root lock, equivalent to the zero value.
func New(parent *MultiLock) *MultiLock {
	return &MultiLock{parent: parent}
}

// LockIS acquires the lock in IS (intention-shared) mode. It blocks
// while another goroutine holds X.
func (m *MultiLock) LockIS() {
	if m.parent != nil {
		m.parent.LockIS()
	}
	m.sync.acquireShared(isUnit)
}

// UnlockIS releases one IS hold. It panics if the calling goroutine
// holds none.
func (m *MultiLock) UnlockIS() {
	m.sync.releaseShared(isUnit)
	if m.parent != nil {
		m.parent.UnlockIS()
	}
}

// LockIX acquires the lock in IX (intention-exclusive) mode. It blocks
// while another goroutine holds X or S.
func (m *MultiLock) LockIX() {
	if m.parent != nil {
		m.parent.LockIX()
	}
	m.sync.acquireShared(ixUnit)
}

// UnlockIX releases one IX hold. It panics if the calling goroutine
// holds none.
func (m *MultiLock) UnlockIX() {
	m.sync.releaseShared(ixUnit)
	if m.parent != nil {
		m.parent.UnlockIX()
	}
}

// LockS acquires the lock in S (shared, read) mode. It blocks while
// another goroutine holds X or IX.
func (m *MultiLock) LockS() {
	if m.parent != nil {
		m.parent.LockIS()
	}
	m.sync.acquireShared(sUnit)
}

// UnlockS releases one S hold. It panics if the calling goroutine
// holds none.
func (m *MultiLock) UnlockS() {
	m.sync.releaseShared(sUnit)
	if m.parent != nil {
		m.parent.UnlockIS()
	}
}

// LockX acquires the lock in X (exclusive, write) mode. It blocks
// while any other goroutine holds any mode.
func (m *MultiLock) LockX() {
	if m.parent != nil {
		m.parent.LockIX()
	}
	m.sync.acquireX()
}

// UnlockX releases one X hold. It panics if the calling goroutine is
// not the exclusive owner.
func (m *MultiLock) UnlockX() {
	m.sync.releaseX()
	if m.parent != nil {
		m.parent.UnlockIX()
	}
}

// ISCount reports the number of IS holds across all goroutines.
// Designed for monitoring, not for synchronization control.
func (m *MultiLock) ISCount() int {
	return int(isCount(m.sync.state.Load()))
}

// IXCount reports the number of IX holds across all goroutines.
func (m *MultiLock) IXCount() int {
	return int(ixCount(m.sync.state.Load()))
}

// SCount reports the number of S holds across all goroutines.
func (m *MultiLock) SCount() int {
	return int(sCount(m.sync.state.Load()))
}

// XCount reports the number of X holds; they all belong to the single
// exclusive owner.
func (m *MultiLock) XCount() int {
	return int(xCount(m.sync.state.Load()))
}

// ISHoldCount reports the calling goroutine's reentrant IS holds.
func (m *MultiLock) ISHoldCount() int {
	if m.ISCount() == 0 {
		return 0
	}
	if h := m.sync.holds.peek(); h != nil {
		return int(isCount(h.state.Load()))
	}
	return 0
}

// IXHoldCount reports the calling goroutine's reentrant IX holds.
func (m *MultiLock) IXHoldCount() int {
	if m.IXCount() == 0 {
		return 0
	}
	if h := m.sync.holds.peek(); h != nil {
		return int(ixCount(h.state.Load()))
	}
	return 0
}

// SHoldCount reports the calling goroutine's reentrant S holds.
func (m *MultiLock) SHoldCount() int {
	if m.SCount() == 0 {
		return 0
	}
	if h := m.sync.holds.peek(); h != nil {
		return int(sCount(h.state.Load()))
	}
	return 0
}

// XHoldCount reports the calling goroutine's reentrant X holds.
func (m *MultiLock) XHoldCount() int {
	if m.XCount() == 0 {
		return 0
	}
	if h := m.sync.holds.peek(); h != nil {
		return int(xCount(h.state.Load()))
	}
	return 0
}
