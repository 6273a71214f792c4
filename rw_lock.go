package multilock

import (
	"context"
	"errors"
	"fmt"
)

// ReadLock exposes the S mode of a MultiLock through the sync.Locker
// interface, so a MultiLock can stand in wherever a read lock is
// expected. Parent cascading applies as for LockS/UnlockS.
type ReadLock struct {
	m *MultiLock
}

// WriteLock exposes the X mode of a MultiLock through the sync.Locker
// interface.
type WriteLock struct {
	m *MultiLock
}

// RLocker returns a view of the lock's S mode satisfying sync.Locker.
func (m *MultiLock) RLocker() ReadLock {
	return ReadLock{m: m}
}

// WLocker returns a view of the lock's X mode satisfying sync.Locker.
func (m *MultiLock) WLocker() WriteLock {
	return WriteLock{m: m}
}

// Lock acquires the underlying lock in S mode.
func (r ReadLock) Lock() { r.m.LockS() }

// Unlock releases one S hold of the underlying lock.
func (r ReadLock) Unlock() { r.m.UnlockS() }

// TryLock is not supported: admission never reports "busy", it
// blocks. It always panics with errors.ErrUnsupported.
func (r ReadLock) TryLock() bool {
	panic(fmt.Errorf("multilock: ReadLock.TryLock: %w", errors.ErrUnsupported))
}

// LockContext (interruptible, timed acquisition) is not supported. It
// always panics with errors.ErrUnsupported.
func (r ReadLock) LockContext(ctx context.Context) error {
	panic(fmt.Errorf("multilock: ReadLock.LockContext: %w", errors.ErrUnsupported))
}

// Lock acquires the underlying lock in X mode.
func (w WriteLock) Lock() { w.m.LockX() }

// Unlock releases one X hold of the underlying lock.
func (w WriteLock) Unlock() { w.m.UnlockX() }

// TryLock is not supported. It always panics with
// errors.ErrUnsupported.
func (w WriteLock) TryLock() bool {
	panic(fmt.Errorf("multilock: WriteLock.TryLock: %w", errors.ErrUnsupported))
}

// LockContext (interruptible, timed acquisition) is not supported. It
// always panics with errors.ErrUnsupported.
func (w WriteLock) LockContext(ctx context.Context) error {
	panic(fmt.Errorf("multilock: WriteLock.LockContext: %w", errors.ErrUnsupported))
}
