package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestEventGroupReservedBitsRejected covers §3/§4.10's reservation of
// the top byte for system use.
func TestEventGroupReservedBitsRejected(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	g := k.NewEventGroup()

	_, err := g.SetBits(nil, 1<<24)
	require.ErrorIs(t, err, ErrInvalid)

	_, err = g.ClearBits(1 << 31)
	require.ErrorIs(t, err, ErrInvalid)

	_, err = g.Wait(nil, 1<<24, false, false, 0, false)
	require.ErrorIs(t, err, ErrInvalid)
}

// TestEventGroupWaitAnyThenAllWithClear covers any-of vs all-of
// semantics plus clear-on-wake.
func TestEventGroupWaitAnyThenAllWithClear(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	g := k.NewEventGroup()

	anyCh := make(chan uint32, 1)
	_, err := k.NewThread(ThreadAttr{Name: "any", Priority: PriorityNormal, StackSize: 64}, func(self *Thread, arg any) int {
		v, err := g.Wait(self, 0x3, false, false, 0, false)
		require.NoError(t, err)
		anyCh <- v
		return 0
	})
	require.NoError(t, err)

	allCh := make(chan uint32, 1)
	_, err = k.NewThread(ThreadAttr{Name: "all", Priority: PriorityNormal, StackSize: 64}, func(self *Thread, arg any) int {
		v, err := g.Wait(self, 0x3, true, true, 0, false)
		require.NoError(t, err)
		allCh <- v
		return 0
	})
	require.NoError(t, err)

	waitCond(t, func() bool {
		k.mu.Lock()
		defer k.mu.Unlock()
		return len(g.waiters) == 2
	})

	_, err = g.SetBits(nil, 0x1)
	require.NoError(t, err)

	select {
	case v := <-anyCh:
		require.Equal(t, uint32(0x1), v)
	case <-time.After(time.Second):
		t.Fatal("any-waiter never woke on a single satisfying bit")
	}
	select {
	case <-allCh:
		t.Fatal("all-waiter woke before every bit in its mask was set")
	case <-time.After(20 * time.Millisecond):
	}

	_, err = g.SetBits(nil, 0x2)
	require.NoError(t, err)
	select {
	case v := <-allCh:
		require.Equal(t, uint32(0), v, "clear-on-wake must zero the satisfied bits")
	case <-time.After(time.Second):
		t.Fatal("all-waiter never woke once both bits were set")
	}
}

// TestEventGroupWaitTimesOut covers a deadline that elapses with the
// mask never satisfied.
func TestEventGroupWaitTimesOut(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	g := k.NewEventGroup()

	resultCh := make(chan error, 1)
	th, err := k.NewThread(ThreadAttr{Name: "w", Priority: PriorityNormal, StackSize: 64}, func(self *Thread, arg any) int {
		_, err := g.Wait(self, 0x1, false, false, k.Ticks()+2, true)
		resultCh <- err
		return 0
	})
	require.NoError(t, err)
	waitState(t, th, StateSuspended)

	k.Tick()
	k.Tick()
	select {
	case err := <-resultCh:
		require.ErrorIs(t, err, ErrTimeout)
	case <-time.After(time.Second):
		t.Fatal("event-group wait never timed out")
	}
}
