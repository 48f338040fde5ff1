package kernel

import "fmt"

// MutexKind selects recursive semantics.
type MutexKind int8

const (
	MutexNormal MutexKind = iota
	MutexRecursive
)

// MutexProtocol selects the priority-inversion avoidance strategy
// applied while the mutex is held.
type MutexProtocol int8

const (
	// ProtocolNone applies no boosting; priority inversion is possible.
	ProtocolNone MutexProtocol = iota
	// ProtocolInherit boosts the owner to the highest priority among
	// threads currently blocked on the mutex (priority inheritance).
	ProtocolInherit
	// ProtocolProtect boosts the owner immediately to a fixed ceiling on
	// acquisition (priority ceiling / protect).
	ProtocolProtect
)

// Mutex is a (optionally recursive) lock with an optional
// priority-inheritance or priority-ceiling protocol, and an optional
// robust mode that detects owner-death abandonment (C7).
type Mutex struct {
	kernel *Kernel

	kind     MutexKind
	protocol MutexProtocol
	ceiling  Priority
	robust   bool

	owner        *Thread
	recurseCount int
	waiters      WaitQueue

	consistent     bool // false after owner-dead until Consistent is called
	abandoned      bool // true from owner death until the next thread claims it
	notRecoverable bool // true once an inconsistent mutex is unlocked unrepaired
}

// MutexAttr configures a new mutex.
type MutexAttr struct {
	Kind     MutexKind
	Protocol MutexProtocol
	Ceiling  Priority // only meaningful with ProtocolProtect
	Robust   bool
}

// NewMutex constructs a mutex in the unlocked state.
func (k *Kernel) NewMutex(attr MutexAttr) (*Mutex, error) {
	if attr.Protocol == ProtocolProtect && !attr.Ceiling.valid() {
		return nil, newErr("mutex.new", KindInvalid, fmt.Errorf("invalid ceiling priority %d", attr.Ceiling))
	}
	m := &Mutex{kernel: k, kind: attr.Kind, protocol: attr.Protocol, ceiling: attr.Ceiling, robust: attr.Robust, consistent: true}
	m.waiters.name = "mutex"
	return m, nil
}

// Lock blocks self until the mutex is acquired, applying the configured
// boosting protocol. Locking a non-recursive mutex already held by self
// is KindDeadlock. If the mutex is robust and its previous owner died
// while holding it, Lock succeeds with KindOwnerDead, and the caller
// must call Consistent before Unlock or every subsequent Lock fails
// with KindNotRecoverable.
func (m *Mutex) Lock(self *Thread, deadlineTicks uint64, hasDeadline bool) error {
	k := m.kernel
	k.mu.Lock()
	if m.owner == self {
		if m.kind == MutexRecursive {
			m.recurseCount++
			k.mu.Unlock()
			return nil
		}
		k.mu.Unlock()
		return newErr("mutex.lock", KindDeadlock, nil)
	}
	if m.owner == nil {
		if m.robust && m.notRecoverable {
			k.mu.Unlock()
			return newErr("mutex.lock", KindNotRecoverable, nil)
		}
		m.acquireLocked(self)
		if m.robust && m.abandoned {
			m.abandoned = false
			m.consistent = false
			k.mu.Unlock()
			return newErr("mutex.lock", KindOwnerDead, nil)
		}
		k.mu.Unlock()
		return nil
	}
	if err := k.checkCanBlock(self, "mutex.lock"); err != nil {
		k.mu.Unlock()
		return err
	}
	if m.protocol == ProtocolInherit && self.priority > m.owner.priority {
		m.owner.boostLocked(self.priority)
	}
	self.setState(StateSuspended)
	m.waiters.enqueue(self)
	if hasDeadline {
		k.delay.add(self, deadlineTicks)
	}
	if err := k.dispatch(self); err != nil {
		return err
	}
	if err := self.wakeReason.err("mutex.lock"); err != nil {
		return err
	}
	k.mu.Lock()
	if m.robust && m.notRecoverable {
		k.mu.Unlock()
		return newErr("mutex.lock", KindNotRecoverable, nil)
	}
	if m.robust && m.abandoned {
		m.abandoned = false
		m.consistent = false
		k.mu.Unlock()
		return newErr("mutex.lock", KindOwnerDead, nil)
	}
	k.mu.Unlock()
	return nil
}

// TryLock attempts to acquire the mutex without blocking, returning
// KindWouldBlock if it is already held by another thread.
func (m *Mutex) TryLock(self *Thread) error {
	k := m.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	if m.owner == self {
		if m.kind == MutexRecursive {
			m.recurseCount++
			return nil
		}
		return newErr("mutex.trylock", KindDeadlock, nil)
	}
	if m.owner != nil {
		return newErr("mutex.trylock", KindWouldBlock, nil)
	}
	if m.robust && m.notRecoverable {
		return newErr("mutex.trylock", KindNotRecoverable, nil)
	}
	m.acquireLocked(self)
	if m.robust && m.abandoned {
		m.abandoned = false
		m.consistent = false
		return newErr("mutex.trylock", KindOwnerDead, nil)
	}
	return nil
}

// acquireLocked assigns self as owner and applies the protect protocol's
// immediate ceiling boost. Must be called with k.mu held.
func (m *Mutex) acquireLocked(self *Thread) {
	m.owner = self
	m.recurseCount = 1
	if m.robust {
		self.ownedMutexes = append(self.ownedMutexes, m)
	}
	if m.protocol == ProtocolProtect && m.ceiling > self.priority {
		self.boostLocked(m.ceiling)
	}
}

// releaseLocked drops m from self's owned-robust-mutex list. Must be
// called with k.mu held.
func (m *Mutex) releaseLocked(self *Thread) {
	if !m.robust || self == nil {
		return
	}
	for i, om := range self.ownedMutexes {
		if om == m {
			self.ownedMutexes = append(self.ownedMutexes[:i], self.ownedMutexes[i+1:]...)
			return
		}
	}
}

// Unlock releases the mutex, restoring the owner's priority if it was
// boosted, and wakes the highest-priority waiter. Unlocking a mutex not
// held by self is KindNotOwner. If self acquired the mutex via
// KindOwnerDead and never called Consistent, Unlock still releases the
// slot, but the mutex becomes permanently unrecoverable: every current
// and future waiter observes KindNotRecoverable instead of acquiring it.
func (m *Mutex) Unlock(self *Thread) error {
	k := m.kernel
	k.mu.Lock()
	if m.owner != self {
		k.mu.Unlock()
		return newErr("mutex.unlock", KindNotOwner, nil)
	}
	if m.kind == MutexRecursive && m.recurseCount > 1 {
		m.recurseCount--
		k.mu.Unlock()
		return nil
	}
	m.releaseLockedFinish(self)
	return k.finishLocked(self)
}

// releaseLockedFinish performs Unlock's ownership release: dropping
// self as owner, restoring any inherited/ceiling priority boost,
// marking a robust-but-inconsistent mutex permanently unrecoverable,
// and handing off to (or waking) whatever is queued in m.waiters. It
// assumes the caller has already confirmed self is the sole owner
// about to fully release (not a >1 recursive decrement). Must be
// called with k.mu held; it never itself dispatches or unlocks k.mu,
// so a caller that needs to combine the release with further
// scheduling work under the same critical section (CondVar.Wait's
// atomic unlock-and-park) can do so before any other thread gets the
// CPU.
func (m *Mutex) releaseLockedFinish(self *Thread) {
	k := m.kernel
	if m.robust && !m.consistent {
		m.notRecoverable = true
	}
	m.releaseLocked(self)
	m.owner = nil
	m.recurseCount = 0
	if self.priority != self.basePriority {
		self.restoreLocked()
	}
	if m.notRecoverable {
		// Nobody can ever own this mutex again; every waiter must observe
		// KindNotRecoverable rather than block forever on a slot that will
		// never be handed off.
		k.wakeAll(&m.waiters, WakeOK)
	} else if next := k.wakeOne(&m.waiters, WakeOK); next != nil {
		m.acquireLocked(next)
	}
}

// Consistent marks a robust, owner-dead mutex as repaired, letting
// future Lock/Unlock calls proceed normally. Calling it on a mutex that
// is not in the owner-dead state is KindInvalid.
func (m *Mutex) Consistent(self *Thread) error {
	k := m.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	if m.owner != self || m.consistent {
		return newErr("mutex.consistent", KindInvalid, nil)
	}
	m.consistent = true
	return nil
}

// GetCeiling returns the mutex's priority ceiling. Meaningful only for a
// ProtocolProtect mutex; others always report PriorityNone.
func (m *Mutex) GetCeiling() Priority {
	k := m.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	if m.protocol != ProtocolProtect {
		return PriorityNone
	}
	return m.ceiling
}

// SetCeiling changes a ProtocolProtect mutex's ceiling priority to
// newCeiling, returning the previous ceiling in old. It is KindInvalid
// on a mutex that isn't using the protect protocol, or with an
// out-of-range newCeiling. Changing the ceiling while the mutex is held
// does not retroactively adjust the current owner's boosted priority;
// the new ceiling takes effect on the next acquisition.
func (m *Mutex) SetCeiling(newCeiling Priority) (old Priority, err error) {
	k := m.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	if m.protocol != ProtocolProtect {
		return PriorityNone, newErr("mutex.set_ceiling", KindInvalid, fmt.Errorf("mutex does not use the protect protocol"))
	}
	if !newCeiling.valid() {
		return PriorityNone, newErr("mutex.set_ceiling", KindInvalid, fmt.Errorf("invalid ceiling priority %d", newCeiling))
	}
	old = m.ceiling
	m.ceiling = newCeiling
	return old, nil
}

// abandon is called by Kernel.exit when a thread terminates while
// holding a robust mutex (non-robust mutexes are simply left held
// forever by a dead owner, matching the design notes' explicit
// trade-off of not tracking every mutex a thread holds unless robust
// recovery was requested). Must be called with k.mu held.
func (m *Mutex) abandon() {
	m.owner = nil
	m.abandoned = true
	m.consistent = false
}
