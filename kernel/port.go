package kernel

import "time"

// Port is the abstract CPU contract a concrete target must satisfy. It is
// the kernel's only dependency on the outside world: interrupt masking,
// ISR detection, the pendable reschedule exception, and the tick source.
// It has no method for building a new thread's initial stack frame;
// every thread runs on its own goroutine (see Kernel.NewThread). A real target implements Port with the
// PendSV/SVC/SysTick exception glue for its architecture (ARM Cortex-M
// and similar); this package ships Software, a goroutine-hosted Port
// used by tests, examples, and any application running the kernel's
// logic without real hardware underneath it.
//
// Every method must be safe to call while the kernel holds its critical
// section; none of them may themselves attempt to take the kernel lock.
type Port interface {
	// IRQSave raises the interrupt mask and returns the prior mask value,
	// so that a matching IRQRestore can undo exactly this acquisition.
	// Nestable: callers only ever use it through EnterCritical/ExitCritical.
	IRQSave() uintptr

	// IRQRestore lowers the interrupt mask back to a value previously
	// returned by IRQSave.
	IRQRestore(mask uintptr)

	// InISR reports whether the calling goroutine is standing in for an
	// interrupt handler, i.e. running ISR-context code such as Tick or an
	// application's simulated hardware interrupt callback.
	InISR() bool

	// RequestReschedule arranges for the kernel's pendable reschedule
	// handler to run at the next safe point. It must never perform the
	// switch synchronously, and must never block.
	RequestReschedule()

	// TickInstall starts the periodic tick source at the given frequency.
	// The kernel's Tick method must be invoked once per period.
	TickInstall(hz int)
}

// Clock is implemented by ports that can report elapsed wall-clock time
// alongside the tick counter, for Kernel.Now's high-resolution query.
// A Port that doesn't implement Clock only supports tick-granularity
// timing; Kernel.Now then reports zero residual.
type Clock interface {
	// Elapsed returns the wall-clock time elapsed since the last tick
	// boundary, used to build a (ticks, residual) timestamp.
	Elapsed() time.Duration
}
