package kernel

import (
	"sync/atomic"
)

// ThreadState is a thread's position in its lifecycle.
//
// State machine (initial Inactive, terminal Terminated):
//
//	Inactive  --new-->            Ready
//	Ready     --dispatch-->       Running
//	Running   --yield/preempt-->  Ready
//	Running   --wait-->           Suspended
//	Suspended --wake-->           Ready
//	Running   --exit/cancel-->    Terminated
//
// State transition rules:
//   - Ready/Suspended/Terminated are only ever entered while holding the
//     kernel's critical section.
//   - A thread is on the ready set iff its state is Ready; it is on at
//     most one wait queue, and only while Suspended.
type ThreadState uint32

const (
	// StateInactive is a constructed-but-not-yet-admitted thread. Never
	// observed in practice since NewThread admits threads immediately; kept for
	// symmetry with the lifecycle diagram and for pre-allocated TCBs.
	StateInactive ThreadState = iota
	// StateReady means the thread is a member of the ready set, waiting
	// for the dispatcher to select it.
	StateReady
	// StateRunning means the thread currently holds the CPU.
	StateRunning
	// StateSuspended means the thread is parked on exactly one wait queue
	// and/or the delay queue.
	StateSuspended
	// StateTerminated is terminal: the thread has exited, been cancelled
	// to completion, or force-terminated, and holds its exit value until
	// joined or detached.
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s ThreadState) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// atomicState is a small CAS-guarded state cell used for fields that are
// read by callers outside the critical section (e.g. Thread.State, for
// diagnostics) without requiring them to take the kernel lock.
type atomicState struct {
	v atomic.Uint32
}

func (s *atomicState) load() ThreadState  { return ThreadState(s.v.Load()) }
func (s *atomicState) store(v ThreadState) { s.v.Store(uint32(v)) }
