package kernel

import (
	"errors"
	"fmt"
)

// Kind is a taxonomy of kernel result codes, returned as explicit errors
// rather than exceptions. Every operation in this package that can fail
// wraps one of these kinds in a *Error; callers match on kind with
// errors.Is against the sentinel values below, or extract the kind with
// KindOf.
type Kind int8

const (
	// KindWouldBlock: a non-blocking variant (try_*) could not proceed.
	KindWouldBlock Kind = iota + 1
	// KindTimeout: a timed variant's deadline expired.
	KindTimeout
	// KindInterrupted: the wait was cancelled, or the thread signal-interrupted.
	KindInterrupted
	// KindDeadlock: a non-recursive mutex self-lock, or a self-join.
	KindDeadlock
	// KindNotOwner: unlocking a mutex not held by the caller.
	KindNotOwner
	// KindNotPermitted: the operation is illegal in the current context
	// (blocking from an ISR, a scheduler call made while in handler mode).
	KindNotPermitted
	// KindInvalid: a malformed argument (nil handle, misaligned pointer,
	// stack too small, out-of-range priority tag).
	KindInvalid
	// KindNoMemory: construction failed due to resource exhaustion.
	KindNoMemory
	// KindOverflow: a semaphore post beyond max, or a queue send wrapping
	// a saturated counter.
	KindOverflow
	// KindNotRecoverable: a robust mutex was abandoned by a dead owner and
	// never made consistent.
	KindNotRecoverable
	// KindOwnerDead: first acquisition of a robust mutex after its owner
	// died; recoverable via Mutex.Consistent.
	KindOwnerDead
)

// String returns the kind's taxonomy name, matching §7 of the design.
func (k Kind) String() string {
	switch k {
	case KindWouldBlock:
		return "would-block"
	case KindTimeout:
		return "timeout"
	case KindInterrupted:
		return "interrupted"
	case KindDeadlock:
		return "deadlock"
	case KindNotOwner:
		return "not-owner"
	case KindNotPermitted:
		return "not-permitted"
	case KindInvalid:
		return "invalid"
	case KindNoMemory:
		return "no-memory"
	case KindOverflow:
		return "overflow"
	case KindNotRecoverable:
		return "not-recoverable"
	case KindOwnerDead:
		return "owner-dead"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by every fallible kernel
// operation. Op names the failing call (e.g. "mutex.lock") so a single
// Kind can be told apart across call sites without string matching on
// Error's message.
type Error struct {
	Kind Kind
	Op   string
	Err  error // optional wrapped cause, e.g. a port-layer failure
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("kernel: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("kernel: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind and an empty
// Op, i.e. one of the sentinel values below. This lets
// callers write errors.Is(err, kernel.ErrTimeout) instead of a type
// assertion and field comparison.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind && other.Op == ""
	}
	return false
}

// newErr constructs an *Error of the given kind for op, optionally
// wrapping cause.
func newErr(op string, kind Kind, cause error) error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Sentinel values for use with errors.Is(err, kernel.ErrXxx). Each has an
// empty Op so Error.Is matches by Kind alone.
var (
	ErrWouldBlock     error = &Error{Kind: KindWouldBlock}
	ErrTimeout        error = &Error{Kind: KindTimeout}
	ErrInterrupted    error = &Error{Kind: KindInterrupted}
	ErrDeadlock       error = &Error{Kind: KindDeadlock}
	ErrNotOwner       error = &Error{Kind: KindNotOwner}
	ErrNotPermitted   error = &Error{Kind: KindNotPermitted}
	ErrInvalid        error = &Error{Kind: KindInvalid}
	ErrNoMemory       error = &Error{Kind: KindNoMemory}
	ErrOverflow       error = &Error{Kind: KindOverflow}
	ErrNotRecoverable error = &Error{Kind: KindNotRecoverable}
	ErrOwnerDead      error = &Error{Kind: KindOwnerDead}
)

// KindOf extracts the Kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
