package kernel

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestMutexRecursionAndWaiterHandoff covers spec scenario 3: a
// recursive mutex locked N times only actually unblocks a waiter after
// being unlocked the same N times, and ownership transfers directly to
// the waiter rather than racing it against a fresh acquirer.
func TestMutexRecursionAndWaiterHandoff(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	m, err := k.NewMutex(MutexAttr{Kind: MutexRecursive})
	require.NoError(t, err)

	acquired := make(chan struct{})
	var bCreated atomic.Bool
	aDone := make(chan struct{})

	_, err = k.NewThread(ThreadAttr{Name: "a", Priority: PriorityNormal, StackSize: 64}, func(self *Thread, arg any) int {
		for i := 0; i < 5; i++ {
			require.NoError(t, m.Lock(self, 0, false))
		}
		close(acquired)
		for !bCreated.Load() {
			k.CheckPreempt(self)
		}
		k.Yield(self)
		for i := 0; i < 5; i++ {
			require.NoError(t, m.Unlock(self))
		}
		close(aDone)
		return 0
	})
	require.NoError(t, err)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("thread a never acquired the mutex")
	}

	bGotLock := make(chan bool, 1)
	_, err = k.NewThread(ThreadAttr{Name: "b", Priority: PriorityNormal, StackSize: 64}, func(self *Thread, arg any) int {
		lockErr := m.Lock(self, 0, false)
		bGotLock <- lockErr == nil
		return 0
	})
	require.NoError(t, err)
	bCreated.Store(true)

	select {
	case <-aDone:
	case <-time.After(time.Second):
		t.Fatal("thread a never finished unlocking")
	}
	select {
	case ok := <-bGotLock:
		require.True(t, ok, "waiter b must assume ownership after a's final unlock")
	case <-time.After(time.Second):
		t.Fatal("thread b never acquired the mutex")
	}
}

// TestMutexRecursiveLockRejectsNonRecursiveReentry ensures a non-
// recursive mutex reports KindDeadlock when its owner locks it again.
func TestMutexRecursiveLockRejectsNonRecursiveReentry(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	m, err := k.NewMutex(MutexAttr{})
	require.NoError(t, err)

	resultCh := make(chan error, 1)
	_, err = k.NewThread(ThreadAttr{Name: "a", Priority: PriorityNormal, StackSize: 64}, func(self *Thread, arg any) int {
		require.NoError(t, m.Lock(self, 0, false))
		resultCh <- m.Lock(self, 0, false)
		return 0
	})
	require.NoError(t, err)

	select {
	case err := <-resultCh:
		require.ErrorIs(t, err, ErrDeadlock)
	case <-time.After(time.Second):
		t.Fatal("reentrant lock never returned")
	}
}

// TestMutexPriorityInheritance covers the priority-inheritance
// protocol: a low-priority owner is boosted to match a blocked
// higher-priority waiter, and restored to its base priority on
// release.
func TestMutexPriorityInheritance(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	m, err := k.NewMutex(MutexAttr{Protocol: ProtocolInherit})
	require.NoError(t, err)

	lowLocked := make(chan struct{})
	var release atomic.Bool
	lowDone := make(chan struct{})
	lowTh, err := k.NewThread(ThreadAttr{Name: "low", Priority: PriorityLow, StackSize: 64}, func(self *Thread, arg any) int {
		require.NoError(t, m.Lock(self, 0, false))
		close(lowLocked)
		for !release.Load() {
			k.CheckPreempt(self)
		}
		require.NoError(t, m.Unlock(self))
		close(lowDone)
		return 0
	})
	require.NoError(t, err)
	select {
	case <-lowLocked:
	case <-time.After(time.Second):
		t.Fatal("low-priority thread never acquired the mutex")
	}

	highDone := make(chan struct{})
	highTh, err := k.NewThread(ThreadAttr{Name: "high", Priority: PriorityHigh, StackSize: 64}, func(self *Thread, arg any) int {
		require.NoError(t, m.Lock(self, 0, false))
		close(highDone)
		return 0
	})
	require.NoError(t, err)

	waitCond(t, func() bool { return lowTh.Priority() == PriorityHigh })
	release.Store(true)

	select {
	case <-lowDone:
	case <-time.After(time.Second):
		t.Fatal("low-priority thread never finished")
	}
	select {
	case <-highDone:
	case <-time.After(time.Second):
		t.Fatal("high-priority thread never acquired the mutex")
	}
	require.Equal(t, PriorityLow, lowTh.BasePriority())
}

// TestMutexRobustOwnerDeath covers C7's robust-mutex recovery protocol:
// the first locker after an owner's death observes KindOwnerDead, and
// if it never calls Consistent before unlocking, the mutex becomes
// permanently KindNotRecoverable for everyone after it.
func TestMutexRobustOwnerDeath(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	m, err := k.NewMutex(MutexAttr{Robust: true})
	require.NoError(t, err)

	ownerDone := make(chan struct{})
	_, err = k.NewThread(ThreadAttr{Name: "owner", Priority: PriorityNormal, StackSize: 64}, func(self *Thread, arg any) int {
		require.NoError(t, m.Lock(self, 0, false))
		close(ownerDone)
		return 0 // terminates while still holding m
	})
	require.NoError(t, err)
	select {
	case <-ownerDone:
	case <-time.After(time.Second):
		t.Fatal("owner never locked the mutex")
	}

	lockErrCh := make(chan error, 1)
	_, err = k.NewThread(ThreadAttr{Name: "acquirer", Priority: PriorityNormal, StackSize: 64}, func(self *Thread, arg any) int {
		lockErrCh <- m.Lock(self, 0, false)
		require.NoError(t, m.Unlock(self))
		return 0
	})
	require.NoError(t, err)
	var acquireErr error
	select {
	case acquireErr = <-lockErrCh:
		require.ErrorIs(t, acquireErr, ErrOwnerDead)
	case <-time.After(time.Second):
		t.Fatal("acquirer never locked the mutex")
	}

	// acquirer never calls Consistent; unlock renders the mutex unusable.
	finalErrCh := make(chan error, 1)
	_, err = k.NewThread(ThreadAttr{Name: "third", Priority: PriorityNormal, StackSize: 64}, func(self *Thread, arg any) int {
		finalErrCh <- m.Lock(self, 0, false)
		return 0
	})
	require.NoError(t, err)

	select {
	case err := <-finalErrCh:
		require.ErrorIs(t, err, ErrNotRecoverable)
	case <-time.After(time.Second):
		t.Fatal("third thread never attempted to lock")
	}
}

// TestMutexConsistentRepairsRobustMutex confirms that calling
// Consistent before unlocking keeps the mutex usable for the next
// locker.
func TestMutexConsistentRepairsRobustMutex(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	m, err := k.NewMutex(MutexAttr{Robust: true})
	require.NoError(t, err)

	ownerDone := make(chan struct{})
	_, err = k.NewThread(ThreadAttr{Name: "owner", Priority: PriorityNormal, StackSize: 64}, func(self *Thread, arg any) int {
		require.NoError(t, m.Lock(self, 0, false))
		close(ownerDone)
		return 0
	})
	require.NoError(t, err)
	select {
	case <-ownerDone:
	case <-time.After(time.Second):
		t.Fatal("owner never locked the mutex")
	}

	repairedDone := make(chan struct{})
	_, err = k.NewThread(ThreadAttr{Name: "repairer", Priority: PriorityNormal, StackSize: 64}, func(self *Thread, arg any) int {
		require.ErrorIs(t, m.Lock(self, 0, false), ErrOwnerDead)
		require.NoError(t, m.Consistent(self))
		require.NoError(t, m.Unlock(self))
		close(repairedDone)
		return 0
	})
	require.NoError(t, err)
	select {
	case <-repairedDone:
	case <-time.After(time.Second):
		t.Fatal("repairer never finished")
	}

	finalErrCh := make(chan error, 1)
	_, err = k.NewThread(ThreadAttr{Name: "next", Priority: PriorityNormal, StackSize: 64}, func(self *Thread, arg any) int {
		finalErrCh <- m.Lock(self, 0, false)
		return 0
	})
	require.NoError(t, err)
	select {
	case err := <-finalErrCh:
		require.NoError(t, err, "a repaired robust mutex must lock cleanly for the next thread")
	case <-time.After(time.Second):
		t.Fatal("next thread never attempted to lock")
	}
}

// TestMutexCeilingGetSet covers the protect protocol's ceiling
// accessor/mutator pair.
func TestMutexCeilingGetSet(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	m, err := k.NewMutex(MutexAttr{Protocol: ProtocolProtect, Ceiling: PriorityHigh})
	require.NoError(t, err)
	require.Equal(t, PriorityHigh, m.GetCeiling())

	old, err := m.SetCeiling(PriorityAboveNormal)
	require.NoError(t, err)
	require.Equal(t, PriorityHigh, old)
	require.Equal(t, PriorityAboveNormal, m.GetCeiling())

	none, err := k.NewMutex(MutexAttr{})
	require.NoError(t, err)
	require.Equal(t, PriorityNone, none.GetCeiling())
	_, err = none.SetCeiling(PriorityHigh)
	require.ErrorIs(t, err, ErrInvalid)
}
