package kernel

import (
	"fmt"
)

// ThreadID is a stable, process-unique thread identifier, assigned in
// creation order starting at 1. Zero is never a valid ID.
type ThreadID uint32

// WakeReason is the outcome tag delivered to a thread when one of its
// waits ends.
type WakeReason int8

const (
	// WakeOK means the wait ended because the awaited condition was met.
	WakeOK WakeReason = iota
	// WakeTimeout means a timed wait's deadline elapsed first.
	WakeTimeout
	// WakeInterrupted means the wait was cancelled or signal-interrupted.
	WakeInterrupted
)

// err converts a wake reason into the matching *Error for op, or nil for
// WakeOK.
func (w WakeReason) err(op string) error {
	switch w {
	case WakeTimeout:
		return newErr(op, KindTimeout, nil)
	case WakeInterrupted:
		return newErr(op, KindInterrupted, nil)
	default:
		return nil
	}
}

// ThreadFunc is a thread's entry point. self is the thread's own handle,
// used to make any further blocking kernel calls (Yield, Sleep, a
// mutex/semaphore/etc. wait) from within the thread body; arg is the
// opaque ThreadAttr.Arg passed to NewThread. The returned value becomes the
// thread's exit value, as if it had called self.Exit(value).
//
// Go has no cheap notion of "the calling goroutine's thread handle" the
// way a TCB's current-thread pointer works in C, so it is threaded
// through explicitly instead of recovered from thread-local storage.
type ThreadFunc func(self *Thread, arg any) int

// signalWaiter describes a thread parked in WaitSignals, so RaiseSignals
// can test its wake condition without a second queue type.
type signalWaiter struct {
	mask  uint32
	all   bool
	clear bool
}

// Thread is the kernel's TCB. Fields are only safe to read/write while
// the owning Kernel's critical section is held, with the exception of
// the fields explicitly called out below.
type Thread struct { // betteralign:ignore
	kernel *Kernel

	id   ThreadID
	name string

	priority     Priority // current, possibly boosted by inherit/protect
	basePriority Priority // original, restored when a boost is dropped

	state      ThreadState
	wakeReason WakeReason

	entry ThreadFunc
	arg   any

	exitValue int
	joined    bool
	detached  bool

	// signals is the per-thread notification bitmask (C14), read and
	// written only under the kernel's critical section.
	signals uint32
	sigWait *signalWaiter

	// cancelRequested is set by Cancel. A suspended thread is woken with
	// WakeInterrupted at once; a running or ready one observes the flag
	// the next time it passes through Kernel.dispatch.
	cancelRequested bool

	// critDepth is this thread's nesting depth in EnterCritical/ExitCritical.
	critDepth int

	// ownedMutexes lists robust mutexes currently held by this thread, so
	// Kernel.exit can mark them abandoned. Non-robust mutexes aren't
	// tracked here: an unreleased non-robust mutex simply stays locked
	// forever, matching a plain POSIX mutex's behavior on owner death.
	ownedMutexes []*Mutex

	// waitQueue is the wait queue this thread is currently parked on, if
	// state == StateSuspended and it is waiting on a synchronization
	// object rather than (only) the delay queue. A WaitQueue reuses the
	// same readyPrev/readyNext intrusive links as the ready set itself
	// (see list.go, priority.go): a thread is never in both at once.
	waitQueue *WaitQueue

	// eventGroup is set instead of waitQueue while parked in
	// EventGroup.Wait, whose waiter list isn't priority-ordered; kept
	// separate so Tick's timeout sweep can clean it up generically.
	eventGroup *EventGroup

	// readyPrev/readyNext are the intrusive ready-list links (see list.go).
	readyPrev, readyNext *Thread

	// delay queue membership (see clock.go); heapIndex is -1 when absent.
	deadline  uint64
	heapIndex int

	// joinWaiters are threads blocked in Join, woken on termination.
	joinWaiters WaitQueue

	// resume is the baton: exactly one goroutine is ever unblocked on its
	// own resume channel at a time (see Kernel.dispatch).
	resume chan struct{}

	// stackSize records the configured stack allocation, for diagnostics
	// and the no-memory/invalid checks New performs; a real port backs
	// the machine stack itself; this package models only the base-word
	// sentinel (stack) used for §3's overflow detection.
	stackSize int

	// stack models the base word of the thread's stack region: it is
	// filled with the kernel's configured magic pattern at creation and
	// checked at termination and on every tick (see stack.go). Tests
	// simulate an overflow by calling Clobber.
	stack [4]byte

	// stackChecks counts how many sentinel checks this thread has
	// survived intact. There is no real fixed stack to measure bytes
	// against in this goroutine-hosted model, so this stands in for the
	// original's high-water-mark diagnostic: a thread whose count stops
	// climbing (without terminating) is the symbolic equivalent of one
	// that has stopped making safe progress against its stack budget.
	stackChecks int

	state32 atomicState // mirrors state, for lock-free Thread.State reads
}

// ThreadAttr configures a new thread. Name may be left empty. Priority
// must be one of the schedulable levels PriorityIdle..PriorityRealtime;
// its zero value is not one of them and is rejected with KindInvalid.
// StackSize must be positive.
type ThreadAttr struct {
	Name      string
	Priority  Priority
	StackSize int
	Arg       any
}

// newThread allocates a TCB; it does not admit the thread to the ready
// set (the caller does that under the critical section).
func (k *Kernel) newThread(attr ThreadAttr, entry ThreadFunc) (*Thread, error) {
	if entry == nil {
		return nil, newErr("thread.new", KindInvalid, nil)
	}
	if attr.StackSize <= 0 {
		return nil, newErr("thread.new", KindInvalid, fmt.Errorf("stack size must be positive, got %d", attr.StackSize))
	}
	if !attr.Priority.valid() {
		return nil, newErr("thread.new", KindInvalid, fmt.Errorf("invalid priority %d", attr.Priority))
	}
	t := &Thread{
		kernel:       k,
		name:         attr.Name,
		priority:     attr.Priority,
		basePriority: attr.Priority,
		entry:        entry,
		arg:          attr.Arg,
		stackSize:    attr.StackSize,
		heapIndex:    -1,
		resume:       make(chan struct{}, 1),
	}
	t.joinWaiters.name = "join:" + attr.Name
	putMagic(&t.stack, k.stackFillMagic)
	return t, nil
}

// StackSize returns the thread's configured stack allocation in bytes.
func (t *Thread) StackSize() int { return t.stackSize }

// StackHighWaterMark returns the number of sentinel checks (see
// Kernel.checkStackGuardLocked) this thread has survived without its
// fill-magic word being disturbed. It is a diagnostic supplement to
// §3's overflow invariant, not a byte-accurate measurement: goroutines
// have no fixed stack for this kernel to instrument directly.
func (t *Thread) StackHighWaterMark() int {
	k := t.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	return t.stackChecks
}

// BasePriority returns the thread's unboosted priority, i.e. the value
// set by NewThread/SetPriority before any mutex inherit/protect boost was
// applied. Compare against Priority, which reports the current
// (possibly boosted) effective priority.
func (t *Thread) BasePriority() Priority {
	k := t.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	return t.basePriority
}

// Clobber overwrites the thread's stack sentinel word, for tests that
// simulate a stack overflow; the corruption is observed the next time
// Kernel.Tick runs or the thread terminates.
func (t *Thread) Clobber() {
	t.stack[0] ^= 0xFF
}

// ID returns the thread's stable identifier.
func (t *Thread) ID() ThreadID { return t.id }

// Name returns the thread's name, as given to NewThread.
func (t *Thread) Name() string { return t.name }

// State returns the thread's current lifecycle state. Safe to call from
// any goroutine without holding the kernel's critical section.
func (t *Thread) State() ThreadState { return t.state32.load() }

// WakeReason returns the outcome of the thread's most recently completed
// wait.
func (t *Thread) WakeReason() WakeReason { return t.wakeReason }

// setState updates both the authoritative state and its lock-free mirror.
// Must be called with the kernel's critical section held.
func (t *Thread) setState(s ThreadState) {
	t.state = s
	t.state32.store(s)
}

// Priority returns the thread's current (possibly boosted) priority.
func (t *Thread) Priority() Priority {
	k := t.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	return t.priority
}

// SetPriority changes the thread's base priority, repositioning it in
// whichever of the ready set or a wait queue it currently belongs to,
// and triggers a reschedule if warranted.
func (t *Thread) SetPriority(self *Thread, p Priority) error {
	if !p.valid() {
		return newErr("thread.priority", KindInvalid, nil)
	}
	k := t.kernel
	k.mu.Lock()
	boosted := t.priority != t.basePriority
	t.basePriority = p
	// Only move the effective priority if the thread isn't currently
	// boosted above p by inheritance/ceiling; raising it always applies.
	if t.priority < p || !boosted {
		t.repositionLocked(p)
	}
	return k.finishLocked(self)
}

// repositionLocked updates t.priority and moves it within whatever
// collection it currently belongs to. Must be called with k.mu held.
func (t *Thread) repositionLocked(p Priority) {
	k := t.kernel
	switch t.state {
	case StateReady:
		k.ready.remove(t)
		t.priority = p
		k.ready.push(t)
	case StateSuspended:
		if q := t.waitQueue; q != nil {
			q.remove(t)
			t.priority = p
			q.enqueue(t)
		} else {
			t.priority = p
		}
	default:
		t.priority = p
	}
}

// boostLocked temporarily raises t's effective priority (inherit/protect
// protocols) without touching basePriority. Must be called with k.mu held.
func (t *Thread) boostLocked(p Priority) {
	if p > t.priority {
		t.repositionLocked(p)
	}
}

// restoreLocked drops any inherited/ceiling boost back to basePriority.
// Must be called with k.mu held.
func (t *Thread) restoreLocked() {
	if t.priority != t.basePriority {
		t.repositionLocked(t.basePriority)
	}
}
