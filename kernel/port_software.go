package kernel

import (
	"sync"
	"sync/atomic"
	"time"
)

// Software is a goroutine-hosted Port: it tracks interrupt-mask nesting
// with an atomic counter (Kernel.mu provides the actual exclusion),
// drives the tick source with time.Ticker, and records the pendable
// reschedule exception as a flag that is realized at the next
// Kernel.CheckPreempt checkpoint. It carries no dependency
// on real hardware and is what every test and example in this module
// runs against.
type Software struct {
	inISR    atomic.Bool
	irqDepth atomic.Int32
	kernel   *Kernel
	ticker   *time.Ticker
	stopOnce sync.Once
	stop     chan struct{}

	rescheduleRequested atomic.Bool
}

// NewSoftware constructs a Software port. Call Attach once the owning
// Kernel exists, before Kernel.Start.
func NewSoftware() *Software {
	return &Software{stop: make(chan struct{})}
}

// Attach wires the port to its owning kernel; required because the
// kernel itself needs a constructed Port before it exists.
func (s *Software) Attach(k *Kernel) { s.kernel = k }

// IRQSave has nothing to actually mask: mutual exclusion here comes
// from Kernel.mu, which EnterCritical already holds around this call.
// It only tracks nesting depth, so a real port's accounting is
// exercised the same way this simulated one is.
func (s *Software) IRQSave() uintptr {
	return uintptr(s.irqDepth.Add(1))
}

func (s *Software) IRQRestore(uintptr) {
	s.irqDepth.Add(-1)
}

func (s *Software) InISR() bool { return s.inISR.Load() }

// RequestReschedule records that a reschedule is owed; Software has no
// real pendable-exception trampoline, so the request is only realized
// the next time a thread reaches a CheckPreempt checkpoint (see
// Kernel.CheckPreempt and the idle task's loop).
func (s *Software) RequestReschedule() {
	s.rescheduleRequested.Store(true)
}

// TickInstall starts a goroutine that calls Kernel.Tick once per period.
func (s *Software) TickInstall(hz int) {
	if hz <= 0 {
		return
	}
	s.ticker = time.NewTicker(time.Second / time.Duration(hz))
	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.inISR.Store(true)
				s.kernel.Tick()
				s.inISR.Store(false)
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the tick goroutine. Safe to call multiple times.
func (s *Software) Stop() {
	s.stopOnce.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stop)
	})
}
