package kernel

import (
	"container/heap"
	"time"

	"github.com/joeycumines/go-catrate"
)

// TimerMode selects whether a SoftTimer fires once or keeps re-arming
// itself every period.
type TimerMode int8

const (
	TimerOneShot TimerMode = iota
	TimerPeriodic
)

// timerKickSignal is the per-thread signal bit (C14) used to wake the
// dedicated timer task early when Start or ChangePeriod re-arms a
// timer, so it recomputes the deadline it is sleeping toward. Stop
// sends no kick; a stopped timer is simply absent from the heap when
// the task next wakes.
const timerKickSignal uint32 = 1

// SoftTimer is a software timer (C13): a callback invoked by a
// dedicated kernel thread (the timer task) when the timer's deadline
// elapses, optionally re-arming itself on a fixed period.
type SoftTimer struct {
	kernel *Kernel

	name     string
	period   uint64
	mode     TimerMode
	callback func(*SoftTimer)

	deadline  uint64
	heapIndex int
	active    bool
}

// timerHeap is a deadline-ordered min-heap of active timers, serviced
// by the timer task the same way delayQueue services sleeping threads.
type timerHeap struct {
	items []*SoftTimer
}

func (h *timerHeap) Len() int            { return len(h.items) }
func (h *timerHeap) Less(i, j int) bool  { return h.items[i].deadline < h.items[j].deadline }
func (h *timerHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].heapIndex = i
	h.items[j].heapIndex = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*SoftTimer)
	t.heapIndex = len(h.items)
	h.items = append(h.items, t)
}
func (h *timerHeap) Pop() any {
	old := h.items
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	h.items = old[:n-1]
	return t
}

// TimerTaskAttr configures the dedicated timer task's priority and
// stack; StartTimerTask creates it once per Kernel.
type TimerTaskAttr struct {
	Priority  Priority
	StackSize int

	// MaxFiresPerTick, if positive, caps how many timer callbacks a
	// single fireDueTimers pass will run within RateWindow, using a
	// catrate.Limiter the same way the teacher's event loop guards
	// against a single poll-wake starving everything behind it: timers
	// still due when the cap is hit are left armed, the timer task
	// sleeps until the next tick, and they are serviced on a later
	// pass, rather than blocking the timer task (and anything
	// of lower priority waiting behind it) on an unbounded burst of
	// callbacks. Zero disables the guard.
	MaxFiresPerTick int
	// RateWindow is the sliding window MaxFiresPerTick is measured over.
	// Defaults to 10ms if MaxFiresPerTick is set and RateWindow is zero.
	RateWindow time.Duration
}

// StartTimerTask creates the kernel's dedicated timer-service thread.
// It must be called once, before any timer is created with NewTimer.
func (k *Kernel) StartTimerTask(attr TimerTaskAttr) error {
	k.mu.Lock()
	if k.timerTask != nil {
		k.mu.Unlock()
		return newErr("timer.start_task", KindInvalid, nil)
	}
	k.mu.Unlock()
	stack := attr.StackSize
	if stack <= 0 {
		stack = 512
	}
	if attr.MaxFiresPerTick > 0 {
		window := attr.RateWindow
		if window <= 0 {
			window = 10 * time.Millisecond
		}
		k.timerFireLimiter = catrate.NewLimiter(map[time.Duration]int{window: attr.MaxFiresPerTick})
	}
	t, err := k.NewThread(ThreadAttr{Name: "timer", Priority: attr.Priority, StackSize: stack}, k.timerTaskLoop)
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.timerTask = t
	k.mu.Unlock()
	return nil
}

// timerTaskLoop services the timer heap: sleep until the earliest
// deadline (or forever, if no timer is armed), fire everything due,
// re-arm periodic timers, repeat. A kick (timerKickSignal) wakes it
// early whenever Start or ChangePeriod re-arms a timer.
func (k *Kernel) timerTaskLoop(self *Thread, arg any) int {
	for {
		k.mu.Lock()
		if len(k.timers.items) == 0 {
			k.mu.Unlock()
			_, _ = k.WaitSignals(self, timerKickSignal, false, true, 0, false)
			continue
		}
		deadline := k.timers.items[0].deadline
		now := k.ticks
		k.mu.Unlock()
		if deadline > now {
			_, err := k.WaitSignals(self, timerKickSignal, false, true, deadline, true)
			if err != nil && KindOf0(err) != KindTimeout {
				continue
			}
		}
		k.fireDueTimers(self)
	}
}

// KindOf0 is a tiny helper so timerTaskLoop can branch on error kind
// without importing errors.Is at every call site.
func KindOf0(err error) Kind {
	k, _ := KindOf(err)
	return k
}

// fireDueTimers runs every timer whose deadline has elapsed, subject to
// the optional MaxFiresPerTick guard.
func (k *Kernel) fireDueTimers(self *Thread) {
	for {
		k.mu.Lock()
		if len(k.timers.items) == 0 || k.timers.items[0].deadline > k.ticks {
			k.mu.Unlock()
			return
		}
		if k.timerFireLimiter != nil {
			if _, ok := k.timerFireLimiter.Allow("timer-fire"); !ok {
				k.mu.Unlock()
				// Park until the next tick so the deferred timers do not
				// keep the timer task spinning on the CPU.
				_ = k.Sleep(self, 1)
				return
			}
		}
		tm := heap.Pop(&k.timers).(*SoftTimer)
		tm.active = false
		if tm.mode == TimerPeriodic {
			tm.deadline = k.ticks + tm.period
			tm.active = true
			heap.Push(&k.timers, tm)
		}
		k.mu.Unlock()
		tm.callback(tm)
	}
}

// NewTimer constructs a stopped timer. Call Start to arm it.
func (k *Kernel) NewTimer(name string, period uint64, mode TimerMode, callback func(*SoftTimer)) *SoftTimer {
	return &SoftTimer{kernel: k, name: name, period: period, mode: mode, callback: callback, heapIndex: -1}
}

// Start (re-)arms the timer to fire after its period elapses from now.
func (tm *SoftTimer) Start() {
	k := tm.kernel
	k.mu.Lock()
	if tm.active {
		heap.Remove(&k.timers, tm.heapIndex)
	}
	tm.deadline = k.ticks + tm.period
	tm.active = true
	heap.Push(&k.timers, tm)
	k.mu.Unlock()
	if k.timerTask != nil {
		k.timerTask.RaiseSignals(timerKickSignal)
	}
}

// Stop disarms the timer; it is a no-op if already stopped.
func (tm *SoftTimer) Stop() {
	k := tm.kernel
	k.mu.Lock()
	if tm.active {
		heap.Remove(&k.timers, tm.heapIndex)
		tm.active = false
	}
	k.mu.Unlock()
}

// Active reports whether the timer is currently armed.
func (tm *SoftTimer) Active() bool {
	k := tm.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	return tm.active
}

// ChangePeriod sets the timer's period to newPeriod and, if the timer
// is currently active, re-arms it to fire newPeriod ticks from now
// (replacing whatever deadline was previously pending). If the timer
// is stopped, it is left stopped; call Start to arm it. This
// supplements §4.13 with a counterpart of FreeRTOS's
// xTimerChangePeriod; unlike that call, it never starts a stopped
// timer.
func (tm *SoftTimer) ChangePeriod(newPeriod uint64) {
	k := tm.kernel
	k.mu.Lock()
	tm.period = newPeriod
	if tm.active {
		heap.Remove(&k.timers, tm.heapIndex)
		tm.deadline = k.ticks + newPeriod
		heap.Push(&k.timers, tm)
	}
	k.mu.Unlock()
	if tm.active && k.timerTask != nil {
		k.timerTask.RaiseSignals(timerKickSignal)
	}
}
