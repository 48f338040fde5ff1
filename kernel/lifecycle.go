package kernel

import (
	"fmt"
	"runtime"
)

// Exit terminates the calling thread self with the given exit value, as
// if its entry function had returned that value. It never returns.
func (t *Thread) Exit(self *Thread, value int) {
	if self != t {
		panic("kernel: Exit called with a thread handle other than self")
	}
	t.kernel.exit(t, value)
	// exit has already handed the CPU to the next thread; end this
	// goroutine without returning into the entry function.
	runtime.Goexit()
}

// exit tears a thread down: wakes every Join waiter, marks it
// Terminated, and dispatches away. A detached thread's TCB is dropped
// from the registry immediately; a joined-but-not-yet-collected one
// lingers until Join or Detach runs.
func (k *Kernel) exit(t *Thread, value int) {
	k.mu.Lock()
	t.exitValue = value
	t.setState(StateTerminated)
	k.checkStackGuardLocked(t)
	for _, m := range t.ownedMutexes {
		m.abandon()
		if next := k.wakeOne(&m.waiters, WakeOK); next != nil {
			m.acquireLocked(next)
		}
	}
	t.ownedMutexes = nil
	k.wakeAll(&t.joinWaiters, WakeOK)
	if t.detached {
		delete(k.threads, t.id)
	}
	if t.id == k.appMainID {
		k.exitCode = value
		k.mu.Unlock()
		k.Shutdown()
		k.mu.Lock()
	}
	_ = k.dispatch(nil)
}

// Join blocks the calling thread self until target terminates, then
// returns its exit value. Joining an already-terminated thread returns
// immediately. Joining self is KindDeadlock; joining an already-joined
// or detached thread is KindInvalid.
func (t *Thread) Join(self *Thread, deadlineTicks uint64, hasDeadline bool) (int, error) {
	if t == self {
		return 0, newErr("thread.join", KindDeadlock, nil)
	}
	k := t.kernel
	if err := k.checkCanBlock(self, "thread.join"); err != nil {
		return 0, err
	}
	k.mu.Lock()
	if t.detached || t.joined {
		k.mu.Unlock()
		return 0, newErr("thread.join", KindInvalid, fmt.Errorf("thread is detached or already joined"))
	}
	if t.state == StateTerminated {
		t.joined = true
		delete(k.threads, t.id)
		v := t.exitValue
		k.mu.Unlock()
		return v, nil
	}
	self.setState(StateSuspended)
	t.joinWaiters.enqueue(self)
	if hasDeadline {
		k.delay.add(self, deadlineTicks)
	}
	if err := k.dispatch(self); err != nil {
		return 0, err
	}
	if err := self.wakeReason.err("thread.join"); err != nil {
		return 0, err
	}
	k.mu.Lock()
	t.joined = true
	delete(k.threads, t.id)
	v := t.exitValue
	k.mu.Unlock()
	return v, nil
}

// Detach releases a terminated (or not-yet-terminated) thread's
// resources as soon as it exits, without requiring a Join. Detaching an
// already-joined or already-detached thread is KindInvalid.
func (t *Thread) Detach() error {
	k := t.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	if t.detached || t.joined {
		return newErr("thread.detach", KindInvalid, nil)
	}
	t.detached = true
	if t.state == StateTerminated {
		delete(k.threads, t.id)
	}
	return nil
}

// Cancel requests that target stop at its next safe point. It is
// cooperative in the sense that a thread which never calls back into
// the kernel never observes the request, but a target that is *already*
// blocked in a wait is woken immediately with WakeInterrupted, removed
// from whatever wait queue, event group, or delay-queue deadline it was
// parked on, exactly as §5 requires ("any current blocking call returns
// interrupted").
func (t *Thread) Cancel() {
	k := t.kernel
	k.mu.Lock()
	t.cancelRequested = true
	if t.state != StateSuspended {
		k.mu.Unlock()
		return
	}
	if t.waitQueue != nil {
		t.waitQueue.remove(t)
	}
	if t.eventGroup != nil {
		t.eventGroup.removeWaiterLocked(t)
		t.eventGroup = nil
	}
	t.sigWait = nil
	k.wakeLocked(t, WakeInterrupted)
	_ = k.finishLocked(nil)
}

// CancelRequested reports whether Cancel has been called on self,
// letting a long-running thread poll for cooperative cancellation
// between kernel calls.
func (t *Thread) CancelRequested() bool {
	k := t.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	return t.cancelRequested
}

// Sleep blocks the calling thread self for ticks kernel ticks. Per §5's
// timeout rule, ticks == 0 is clamped to 1 rather than returning
// immediately; a caller that wants a single non-blocking yield should
// call Yield instead.
func (k *Kernel) Sleep(self *Thread, ticks uint64) error {
	if ticks == 0 {
		ticks = 1
	}
	if err := k.checkCanBlock(self, "thread.sleep"); err != nil {
		return err
	}
	k.mu.Lock()
	self.setState(StateSuspended)
	k.delay.add(self, k.ticks+ticks)
	if err := k.dispatch(self); err != nil {
		return err
	}
	return self.wakeReason.err("thread.sleep")
}

// SleepUntil blocks the calling thread self until the kernel's tick
// counter reaches deadline, or returns immediately if it has already
// passed.
func (k *Kernel) SleepUntil(self *Thread, deadline uint64) error {
	if err := k.checkCanBlock(self, "thread.sleep_until"); err != nil {
		return err
	}
	k.mu.Lock()
	if deadline <= k.ticks {
		k.mu.Unlock()
		return nil
	}
	self.setState(StateSuspended)
	k.delay.add(self, deadline)
	if err := k.dispatch(self); err != nil {
		return err
	}
	return self.wakeReason.err("thread.sleep_until")
}

// RaiseSignals ORs bits into target's signal flags (C14), waking it if
// it is parked in WaitSignals and its wake condition is now satisfied.
func (t *Thread) RaiseSignals(bits uint32) {
	k := t.kernel
	k.mu.Lock()
	t.signals |= bits
	if w := t.sigWait; w != nil {
		satisfied := false
		if w.all {
			satisfied = t.signals&w.mask == w.mask
		} else {
			satisfied = t.signals&w.mask != 0
		}
		if satisfied {
			if w.clear {
				t.signals &^= w.mask
			}
			t.sigWait = nil
			if t.waitQueue != nil {
				t.waitQueue.remove(t)
			}
			k.wakeLocked(t, WakeOK)
		}
	}
	k.finishLocked(nil)
}

// WaitSignals blocks the calling thread self until its signal flags
// satisfy mask (any bit, or all bits if all is true), or deadlineTicks
// elapses if hasDeadline. On success it returns the flags observed at
// wake time; if clear is true, the matched bits are atomically cleared.
func (k *Kernel) WaitSignals(self *Thread, mask uint32, all, clear bool, deadlineTicks uint64, hasDeadline bool) (uint32, error) {
	if err := k.checkCanBlock(self, "thread.wait_signals"); err != nil {
		return 0, err
	}
	k.mu.Lock()
	satisfied := false
	if all {
		satisfied = self.signals&mask == mask
	} else {
		satisfied = self.signals&mask != 0
	}
	if satisfied {
		observed := self.signals
		if clear {
			self.signals &^= mask
		}
		k.mu.Unlock()
		return observed, nil
	}
	self.sigWait = &signalWaiter{mask: mask, all: all, clear: clear}
	self.setState(StateSuspended)
	if hasDeadline {
		k.delay.add(self, deadlineTicks)
	}
	if err := k.dispatch(self); err != nil {
		return 0, err
	}
	if err := self.wakeReason.err("thread.wait_signals"); err != nil {
		k.mu.Lock()
		self.sigWait = nil
		k.mu.Unlock()
		return 0, err
	}
	return self.signals, nil
}
