package kernel

import "errors"

// CondVar is a condition variable used alongside a Mutex: Wait
// atomically releases the mutex and parks the calling thread, then
// reacquires the mutex before returning, so a waiter never misses a
// Signal/Broadcast that races with the release (C9).
type CondVar struct {
	kernel  *Kernel
	waiters WaitQueue
}

// NewCondVar constructs a condition variable.
func (k *Kernel) NewCondVar() *CondVar {
	cv := &CondVar{kernel: k}
	cv.waiters.name = "condvar"
	return cv
}

// Wait atomically unlocks m and blocks self on the condition, then
// relocks m before returning (whether it returns nil, a timeout, or an
// interruption). Callers must always hold m locked on entry, matching
// the mutex/condvar protocol everywhere else in the language family
// this kernel imitates.
func (cv *CondVar) Wait(self *Thread, m *Mutex, deadlineTicks uint64, hasDeadline bool) error {
	k := cv.kernel
	if err := k.checkCanBlock(self, "condvar.wait"); err != nil {
		return err
	}
	k.mu.Lock()
	if m.owner != self {
		k.mu.Unlock()
		return newErr("condvar.wait", KindNotOwner, nil)
	}
	if m.kind == MutexRecursive && m.recurseCount > 1 {
		k.mu.Unlock()
		return newErr("condvar.wait", KindInvalid, errors.New("mutex held recursively more than once"))
	}
	// m's release and self's park on cv.waiters happen in the same
	// critical section, with no dispatch in between: releaseLockedFinish
	// only wakes/hands off m.waiters, it never yields the CPU. If it
	// were Unlock (which ends in finishLocked) instead, finishLocked
	// could dispatch straight to m's new owner before self ever reaches
	// cv.waiters.enqueue below, and a Signal that owner issues in the
	// meantime would be lost. Parking first closes that window.
	m.releaseLockedFinish(self)
	self.setState(StateSuspended)
	cv.waiters.enqueue(self)
	if hasDeadline {
		k.delay.add(self, deadlineTicks)
	}
	if err := k.dispatch(self); err != nil {
		_ = m.Lock(self, 0, false)
		return err
	}
	waitErr := self.wakeReason.err("condvar.wait")
	if lockErr := m.Lock(self, 0, false); lockErr != nil {
		return lockErr
	}
	return waitErr
}

// Signal wakes the single highest-priority waiter, if any.
func (cv *CondVar) Signal(self *Thread) {
	k := cv.kernel
	k.mu.Lock()
	k.wakeOne(&cv.waiters, WakeOK)
	k.finishLocked(self)
}

// Broadcast wakes every waiter.
func (cv *CondVar) Broadcast(self *Thread) {
	k := cv.kernel
	k.mu.Lock()
	k.wakeAll(&cv.waiters, WakeOK)
	k.finishLocked(self)
}
