package kernel

import "fmt"

// Semaphore is a counting semaphore with an optional maximum count
// (max == 0 means unbounded, i.e. limited only by the counter's
// underlying type); a max of 1 gives binary-semaphore semantics (C8).
type Semaphore struct {
	kernel  *Kernel
	count   int
	max     int
	waiters WaitQueue
}

// NewSemaphore constructs a semaphore with the given initial count and
// optional max (0 for unbounded).
func (k *Kernel) NewSemaphore(initial, max int) (*Semaphore, error) {
	if initial < 0 || (max > 0 && initial > max) {
		return nil, newErr("semaphore.new", KindInvalid, fmt.Errorf("initial count %d out of range for max %d", initial, max))
	}
	s := &Semaphore{kernel: k, count: initial, max: max}
	s.waiters.name = "semaphore"
	return s, nil
}

// Wait (P / acquire) blocks self until the count is positive, then
// decrements it.
func (s *Semaphore) Wait(self *Thread, deadlineTicks uint64, hasDeadline bool) error {
	k := s.kernel
	k.mu.Lock()
	if s.count > 0 {
		s.count--
		k.mu.Unlock()
		return nil
	}
	if err := k.checkCanBlock(self, "semaphore.wait"); err != nil {
		k.mu.Unlock()
		return err
	}
	self.setState(StateSuspended)
	s.waiters.enqueue(self)
	if hasDeadline {
		k.delay.add(self, deadlineTicks)
	}
	if err := k.dispatch(self); err != nil {
		return err
	}
	return self.wakeReason.err("semaphore.wait")
}

// TryWait attempts to decrement the count without blocking.
func (s *Semaphore) TryWait(self *Thread) error {
	k := s.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	if s.count <= 0 {
		return newErr("semaphore.trywait", KindWouldBlock, nil)
	}
	s.count--
	return nil
}

// Post (V / release) increments the count, or directly hands the unit to
// the highest-priority waiter if any thread is blocked in Wait. Posting
// beyond a bounded semaphore's max is KindOverflow.
func (s *Semaphore) Post(self *Thread) error {
	k := s.kernel
	k.mu.Lock()
	if next := k.wakeOne(&s.waiters, WakeOK); next != nil {
		return k.finishLocked(self)
	}
	if s.max > 0 && s.count >= s.max {
		k.mu.Unlock()
		return newErr("semaphore.post", KindOverflow, nil)
	}
	s.count++
	k.mu.Unlock()
	return nil
}

// Count returns the current count. Racy by nature (any Wait/Post can
// change it the instant after this returns); intended for diagnostics.
func (s *Semaphore) Count() int {
	k := s.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	return s.count
}
