package kernel

import "errors"

// critToken is returned by EnterCritical and consumed by ExitCritical. It
// remembers whether the acquisition was made on behalf of a thread or an
// ISR, so nesting depth is tracked against the right counter, and the
// Port-level mask value to undo on release.
type critToken struct {
	self *Thread
	mask uintptr
}

// EnterCritical raises the interrupt mask, nestable per caller. self is
// nil when called from ISR context (e.g. the tick handler). Every
// kernel data structure — the ready set, wait queues, the delay queue,
// the timer list — may only be mutated while a critical section (this)
// or the scheduler lock (SchedulerLock) is held.
//
// Callers must release with ExitCritical on every exit path; prefer:
//
//	tok := k.EnterCritical(self)
//	defer k.ExitCritical(tok)
func (k *Kernel) EnterCritical(self *Thread) critToken {
	mask := k.port.IRQSave()
	if self != nil {
		if self.critDepth == 0 {
			k.mu.Lock()
		}
		self.critDepth++
		return critToken{self: self, mask: mask}
	}
	if k.isrCritDepth == 0 {
		k.mu.Lock()
	}
	k.isrCritDepth++
	return critToken{mask: mask}
}

// ExitCritical releases one level of nesting acquired by EnterCritical,
// unlocking the underlying critical section once nesting returns to zero.
func (k *Kernel) ExitCritical(tok critToken) {
	if tok.self != nil {
		tok.self.critDepth--
		if tok.self.critDepth == 0 {
			k.mu.Unlock()
		}
		k.port.IRQRestore(tok.mask)
		return
	}
	k.isrCritDepth--
	if k.isrCritDepth == 0 {
		k.mu.Unlock()
	}
	k.port.IRQRestore(tok.mask)
}

// SchedulerLock cooperatively suspends dispatch: ISRs still run and may
// record wake conditions, but no context switch occurs until the
// matching SchedulerUnlock, which then honors any reschedule requests
// accumulated in the meantime. Nestable.
//
// Blocking kernel operations return KindNotPermitted while the scheduler
// lock is held: with dispatch suspended, a wait that cannot be granted
// immediately has no way to hand the CPU to anyone else, so the safest,
// most easily audited behavior is to refuse it outright rather than
// silently deadlock the one core this kernel targets.
func (k *Kernel) SchedulerLock(self *Thread) {
	k.mu.Lock()
	k.schedLockDepth++
	k.mu.Unlock()
}

// SchedulerUnlock releases one level of scheduler-lock nesting and, once
// unlocked, honors any reschedule that was requested while locked.
func (k *Kernel) SchedulerUnlock(self *Thread) error {
	k.mu.Lock()
	if k.schedLockDepth == 0 {
		k.mu.Unlock()
		return newErr("scheduler.unlock", KindInvalid, errors.New("scheduler lock not held"))
	}
	k.schedLockDepth--
	if k.schedLockDepth > 0 {
		k.mu.Unlock()
		return nil
	}
	if !k.reschedPending {
		k.mu.Unlock()
		return nil
	}
	k.reschedPending = false
	return k.finishLocked(self)
}

// checkCanBlock reports whether the calling thread is currently allowed
// to make a blocking kernel call: never inside a critical section, and
// never while the scheduler lock is held (see SchedulerLock).
func (k *Kernel) checkCanBlock(self *Thread, op string) error {
	if self != nil && self.critDepth > 0 {
		return newErr(op, KindNotPermitted, errors.New("blocking call inside a critical section"))
	}
	if k.schedLockDepth > 0 {
		return newErr(op, KindNotPermitted, errors.New("blocking call while the scheduler lock is held"))
	}
	if self != nil && k.port.InISR() {
		return newErr(op, KindNotPermitted, errors.New("blocking call from an ISR"))
	}
	return nil
}
