package kernel

import "fmt"

// EventUserMask is the set of bits an application may use in an
// EventGroup: the top byte is reserved for system use per §3, so every
// public bits/mask argument must be a subset of EventUserMask or the
// call fails with KindInvalid.
const EventUserMask uint32 = 0x00FFFFFF

// EventGroup is a shared 32-bit flag set that any number of threads can
// wait on (any-of or all-of a mask), with optional clear-on-wake (C10).
// Unlike per-thread signals (C14, see lifecycle.go), an event group is
// its own addressable object that multiple producers and consumers
// share, the way a message queue or semaphore is shared.
type EventGroup struct {
	kernel  *Kernel
	bits    uint32
	waiters []eventWaiter
}

// eventWaiter records one parked thread's wake condition; event groups
// keep a plain slice rather than the intrusive WaitQueue used elsewhere
// because a waiter's readiness depends on its mask, not simply FIFO or
// priority order, so SetBits must scan and test every waiter's condition
// directly.
type eventWaiter struct {
	t     *Thread
	mask  uint32
	all   bool
	clear bool
}

// NewEventGroup constructs an event-flags group with all bits clear.
func (k *Kernel) NewEventGroup() *EventGroup {
	return &EventGroup{kernel: k}
}

func (w eventWaiter) satisfied(bits uint32) bool {
	if w.all {
		return bits&w.mask == w.mask
	}
	return bits&w.mask != 0
}

// SetBits ORs bits into the group and wakes every waiter whose condition
// is now satisfied, in priority order among those woken. bits must be a
// subset of EventUserMask.
func (g *EventGroup) SetBits(self *Thread, bits uint32) (uint32, error) {
	if bits&^EventUserMask != 0 {
		return 0, newErr("eventgroup.set_bits", KindInvalid, fmt.Errorf("bits %#x use reserved system byte", bits))
	}
	k := g.kernel
	k.mu.Lock()
	g.bits |= bits
	remaining := g.waiters[:0]
	var woken []*Thread
	for _, w := range g.waiters {
		if w.satisfied(g.bits) {
			if w.clear {
				g.bits &^= w.mask
			}
			woken = append(woken, w.t)
		} else {
			remaining = append(remaining, w)
		}
	}
	g.waiters = remaining
	for _, t := range woken {
		t.eventGroup = nil
		t.setState(StateReady)
		k.ready.push(t)
	}
	observed := g.bits
	k.finishLocked(self)
	return observed, nil
}

// ClearBits clears bits in the group unconditionally and returns the
// value immediately prior to clearing. bits must be a subset of
// EventUserMask.
func (g *EventGroup) ClearBits(bits uint32) (uint32, error) {
	if bits&^EventUserMask != 0 {
		return 0, newErr("eventgroup.clear_bits", KindInvalid, fmt.Errorf("bits %#x use reserved system byte", bits))
	}
	k := g.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	prev := g.bits
	g.bits &^= bits
	return prev, nil
}

// Bits returns the current flag value.
func (g *EventGroup) Bits() uint32 {
	k := g.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	return g.bits
}

// Wait blocks self until the group's bits satisfy mask (any bit, or
// every bit if all is true), returning the observed value. If clear is
// true, the matched bits are cleared atomically with the wake. mask
// must be a subset of EventUserMask.
func (g *EventGroup) Wait(self *Thread, mask uint32, all, clear bool, deadlineTicks uint64, hasDeadline bool) (uint32, error) {
	if mask&^EventUserMask != 0 {
		return 0, newErr("eventgroup.wait", KindInvalid, fmt.Errorf("mask %#x uses reserved system byte", mask))
	}
	k := g.kernel
	k.mu.Lock()
	w := eventWaiter{t: self, mask: mask, all: all, clear: clear}
	if w.satisfied(g.bits) {
		observed := g.bits
		if clear {
			g.bits &^= mask
		}
		k.mu.Unlock()
		return observed, nil
	}
	if err := k.checkCanBlock(self, "eventgroup.wait"); err != nil {
		k.mu.Unlock()
		return 0, err
	}
	g.waiters = append(g.waiters, w)
	self.eventGroup = g
	self.setState(StateSuspended)
	if hasDeadline {
		k.delay.add(self, deadlineTicks)
	}
	if err := k.dispatch(self); err != nil {
		return 0, err
	}
	if err := self.wakeReason.err("eventgroup.wait"); err != nil {
		k.mu.Lock()
		g.removeWaiterLocked(self)
		self.eventGroup = nil
		k.mu.Unlock()
		return 0, err
	}
	k.mu.Lock()
	observed := g.bits
	k.mu.Unlock()
	return observed, nil
}

// removeWaiterLocked drops self from the waiter list, e.g. after a
// timeout. Must be called with k.mu held.
func (g *EventGroup) removeWaiterLocked(self *Thread) {
	for i, w := range g.waiters {
		if w.t == self {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			return
		}
	}
}
