// Package kernel implements a preemptive, priority-based real-time
// kernel core and a POSIX-like concurrency object layer (threads,
// mutexes, condition variables, semaphores, event flags, message
// queues, memory pools, and software timers) on top of a small Port
// abstraction, so the same kernel logic runs against real interrupt
// hardware or the goroutine-hosted Software port used by tests.
//
// A single Kernel value owns all scheduling state. Threads are real
// goroutines, each gated by its own single-slot "resume" baton, so that
// at any instant at most one thread's goroutine is actually running —
// the kernel's critical section (Kernel.mu) is the only place shared
// state is touched, and Kernel.dispatch is the only place the baton
// changes hands. This models single-core preemptive scheduling without
// requiring the ability to forcibly suspend an arbitrary goroutine
// mid-instruction, which Go does not provide: a running thread keeps
// the CPU until it makes a blocking kernel call or reaches an explicit
// CheckPreempt checkpoint, at which point a pending reschedule (raised
// by Tick or another thread) is finally realized.
package kernel

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"golang.org/x/exp/slices"
)

// Config configures a Kernel at construction time.
type Config struct {
	// Port supplies the interrupt-masking, reschedule-request, and tick
	// primitives. Required.
	Port Port

	// MaxThreads caps the number of threads NewThread will admit, mirroring a
	// statically sized TCB pool; zero means unlimited.
	MaxThreads int

	// IdleStackSize sizes the built-in idle task's stack attribute.
	IdleStackSize int

	// IdleHook, if set, runs on every idle-task iteration (C15), e.g. to
	// enter a low-power wait; it must not block on any kernel primitive.
	IdleHook func()

	// StackOverflowHook, if set, is invoked from the tick ISR (C15, C5)
	// with the offending thread whenever Tick finds that thread's stack
	// sentinel word no longer holds StackFillMagic.
	StackOverflowHook func(t *Thread)

	// StackFillMagic is the 32-bit sentinel pattern written to the base
	// of every thread's stack region at creation and checked at
	// termination and on every tick, per §3's stack-overflow invariant.
	// Defaults to 0xA5A5A5A5.
	StackFillMagic uint32

	// DisablePreemption turns off tick-driven preemption (the
	// "preemption" option of §6, default on): a tick that wakes a
	// higher-priority thread than the one currently running still
	// readies it, but no reschedule is requested until the running
	// thread yields or blocks on its own. It never affects the
	// synchronous wake path (e.g. Mutex.Unlock waking a waiter), which
	// must always honor the priority invariant of §8.
	DisablePreemption bool

	// Logger receives structured kernel diagnostics. Defaults to a
	// stumpy-backed logiface logger writing to os.Stderr if nil.
	Logger *logiface.Logger[*stumpy.Event]
}

// defaultStackFillMagic is the sentinel pattern used when
// Config.StackFillMagic is left zero.
const defaultStackFillMagic uint32 = 0xA5A5A5A5

// Kernel is the scheduler: the ready set, the delay queue, the thread
// registry, and the dispatcher that hands the CPU from one thread's
// goroutine to another's.
type Kernel struct {
	mu sync.Mutex

	port Port
	log  *logiface.Logger[*stumpy.Event]

	ready  readySet
	delay  delayQueue
	timers timerHeap

	// timerFireLimiter bounds fireDueTimers' per-pass callback rate when
	// TimerTaskAttr.MaxFiresPerTick is configured; nil disables the guard.
	timerFireLimiter *catrate.Limiter

	current   *Thread
	idle      *Thread
	timerTask *Thread

	threads    map[ThreadID]*Thread
	nextID     ThreadID
	maxThreads int

	schedLockDepth int
	isrCritDepth   int
	reschedPending bool

	ticks   uint64
	ticks32 atomic.Uint64

	started bool
	done    chan struct{}
	doneOnce sync.Once

	idleHook          func()
	stackOverflowHook func(t *Thread)
	stackFillMagic    uint32
	preemptionEnabled bool

	appMainID ThreadID
	exitCode  int
}

// New constructs a Kernel. It does not start the scheduler; call Start
// once the application's initial threads have been created with NewThread.
func New(cfg Config) (*Kernel, error) {
	if cfg.Port == nil {
		return nil, newErr("kernel.new", KindInvalid, fmt.Errorf("Config.Port is required"))
	}
	log := cfg.Logger
	if log == nil {
		log = stumpy.L.New(stumpy.L.WithStumpy(stumpy.WriterOption(nil)))
	}
	magic := cfg.StackFillMagic
	if magic == 0 {
		magic = defaultStackFillMagic
	}
	k := &Kernel{
		port:              cfg.Port,
		log:               log,
		threads:           make(map[ThreadID]*Thread),
		maxThreads:        cfg.MaxThreads,
		done:              make(chan struct{}),
		idleHook:          cfg.IdleHook,
		stackOverflowHook: cfg.StackOverflowHook,
		stackFillMagic:    magic,
		preemptionEnabled: !cfg.DisablePreemption,
	}
	idleStack := cfg.IdleStackSize
	if idleStack <= 0 {
		idleStack = 256
	}
	idle, err := k.NewThread(ThreadAttr{Name: "idle", Priority: PriorityIdle, StackSize: idleStack}, k.idleLoop)
	if err != nil {
		return nil, err
	}
	k.idle = idle
	k.mu.Lock()
	k.ready.remove(idle) // idle starts outside the ready set; dispatch falls back to it
	idle.setState(StateSuspended)
	k.mu.Unlock()
	return k, nil
}

// idleLoop is C15's idle task: it runs whenever nothing else is ready.
func (k *Kernel) idleLoop(self *Thread, arg any) int {
	for {
		if k.idleHook != nil {
			k.idleHook()
		}
		k.CheckPreempt(self)
	}
}

// NewThread allocates and admits a new thread to the ready set.
func (k *Kernel) NewThread(attr ThreadAttr, entry ThreadFunc) (*Thread, error) {
	t, err := k.newThread(attr, entry)
	if err != nil {
		return nil, err
	}
	k.mu.Lock()
	if k.maxThreads > 0 && len(k.threads) >= k.maxThreads {
		k.mu.Unlock()
		return nil, newErr("thread.new", KindNoMemory, fmt.Errorf("thread limit %d reached", k.maxThreads))
	}
	k.nextID++
	t.id = k.nextID
	k.threads[t.id] = t
	t.setState(StateReady)
	k.ready.push(t)
	k.mu.Unlock()

	k.log.Debug().Str("thread", t.name).Int("id", int(t.id)).Int("priority", int(t.priority)).Log("thread created")

	go k.runThread(t)
	return t, nil
}

// runThread is the goroutine backing every thread's execution. It parks
// on the baton until first dispatched, runs the entry point, then exits
// the thread with its return value.
func (k *Kernel) runThread(t *Thread) {
	<-t.resume
	ret := t.entry(t, t.arg)
	k.exit(t, ret)
}

// Start admits the calling goroutine as the kernel's bootstrap context
// and performs the first dispatch, installing the tick source. It
// blocks until Shutdown is called.
func (k *Kernel) Start(hz int) {
	k.mu.Lock()
	k.started = true
	k.port.TickInstall(hz)
	_ = k.dispatch(nil)
	<-k.done
}

// Shutdown stops the kernel. It does not forcibly terminate running
// threads; it only releases Start's caller. Safe to call more than once.
func (k *Kernel) Shutdown() {
	k.doneOnce.Do(func() { close(k.done) })
}

// Run is the §6 user entry point: it admits appMain as a thread (built
// with attr) the way the kernel admits any other thread, starts the
// scheduler, and blocks until appMain terminates, at which point it
// shuts the kernel down and returns appMain's exit value as the
// process-style exit code. Call it in place of NewThread+Start when
// appMain is meant to drive the application's lifetime.
func (k *Kernel) Run(hz int, attr ThreadAttr, appMain ThreadFunc) (int, error) {
	t, err := k.NewThread(attr, appMain)
	if err != nil {
		return 0, err
	}
	k.mu.Lock()
	k.appMainID = t.id
	k.mu.Unlock()
	k.Start(hz)
	k.mu.Lock()
	code := k.exitCode
	k.mu.Unlock()
	return code, nil
}

// dispatch selects the highest-priority ready thread (or idle, if none
// is ready) and hands it the baton. Must be called with k.mu held; it
// always releases k.mu before returning. self is the calling thread, or
// nil if called from ISR/bootstrap context with no thread to park.
func (k *Kernel) dispatch(self *Thread) error {
	next := k.ready.popHighest()
	if next == nil {
		next = k.idle
	}
	next.setState(StateRunning)
	k.current = next
	k.mu.Unlock()

	if next != self {
		next.resume <- struct{}{}
	}
	if self == nil {
		return nil
	}
	if next != self {
		<-self.resume
	}
	if self.cancelRequested {
		return newErr("thread", KindInterrupted, nil)
	}
	return nil
}

// finishLocked is called exactly once at the end of any kernel operation
// that mutated shared scheduling state on behalf of caller self, with
// k.mu held. self is nil when the caller is an ISR or other non-thread
// context (e.g. a try_* call made from a simulated interrupt): in that
// case there is no thread to park, so a higher-priority wake is realized
// by asking the port to request a reschedule rather than by dispatching
// directly, per C1/C3's "always deferred to a pendable exception" rule.
// finishLocked always releases k.mu before returning.
func (k *Kernel) finishLocked(self *Thread) error {
	if k.schedLockDepth > 0 {
		k.reschedPending = true
		k.mu.Unlock()
		return nil
	}
	if self == nil {
		if k.preemptionEnabled && k.current != nil && k.ready.len() > 0 && k.ready.highestPriority() > k.current.priority {
			k.port.RequestReschedule()
		}
		k.mu.Unlock()
		return nil
	}
	if self.state == StateRunning && k.ready.len() > 0 && k.ready.highestPriority() > self.priority {
		self.setState(StateReady)
		k.ready.push(self)
		return k.dispatch(self)
	}
	k.mu.Unlock()
	return nil
}

// finishISRLocked is finishLocked's ISR-context counterpart, kept as a
// named entry point for Tick's call site; it is exactly finishLocked(nil).
func (k *Kernel) finishISRLocked() {
	_ = k.finishLocked(nil)
}

// CheckPreempt is the cooperative checkpoint a running thread calls
// voluntarily (and the idle task calls continuously) to realize a
// reschedule that was requested asynchronously, e.g. by Tick via
// Port.RequestReschedule. A thread that never blocks on a kernel
// primitive must call this periodically to remain preemptible.
func (k *Kernel) CheckPreempt(self *Thread) {
	k.mu.Lock()
	if k.schedLockDepth > 0 || k.ready.len() == 0 || k.ready.highestPriority() <= self.priority {
		k.mu.Unlock()
		return
	}
	self.setState(StateReady)
	k.ready.push(self)
	_ = k.dispatch(self)
}

// Yield voluntarily gives up the CPU to any other ready thread of equal
// or higher priority, per C3.
func (k *Kernel) Yield(self *Thread) {
	k.mu.Lock()
	if k.schedLockDepth > 0 || k.ready.len() == 0 {
		k.mu.Unlock()
		return
	}
	self.setState(StateReady)
	k.ready.push(self)
	_ = k.dispatch(self)
}

// ThreadByID looks up a thread by its stable identifier.
func (k *Kernel) ThreadByID(id ThreadID) (*Thread, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, ok := k.threads[id]
	return t, ok
}

// Current returns the thread the dispatcher most recently handed the
// CPU to (the idle thread when nothing else is running). It does not
// identify the calling goroutine. Present mainly so diagnostics can
// name "the current thread" without a separate self-lookup mechanism.
func (k *Kernel) Current() *Thread {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.current
}

// Threads returns a snapshot of every thread the kernel is tracking,
// ordered by descending priority and then by ID, for diagnostics (e.g.
// a periodic task-list dump) that want a stable, human-readable order
// rather than map iteration order.
func (k *Kernel) Threads() []*Thread {
	k.mu.Lock()
	out := make([]*Thread, 0, len(k.threads))
	for _, t := range k.threads {
		out = append(out, t)
	}
	k.mu.Unlock()
	slices.SortFunc(out, func(a, b *Thread) int {
		if a.priority != b.priority {
			return int(b.priority) - int(a.priority)
		}
		return int(a.id) - int(b.id)
	})
	return out
}
