package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestMemPoolAllocFree covers C12's fixed-block handout and return.
func TestMemPoolAllocFree(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	p, err := k.NewMemPool(8, 2)
	require.NoError(t, err)
	require.Equal(t, 2, p.Available())

	b1, err := p.TryAlloc(nil)
	require.NoError(t, err)
	_, err = p.TryAlloc(nil)
	require.NoError(t, err)
	require.Equal(t, 0, p.Available())

	_, err = p.TryAlloc(nil)
	require.ErrorIs(t, err, ErrWouldBlock)

	require.NoError(t, p.Free(nil, b1))
	require.Equal(t, 1, p.Available())

	b3, err := p.TryAlloc(nil)
	require.NoError(t, err)
	require.Equal(t, b1, b3)
}

// TestMemPoolFreeRejectsWrongSize covers validation of a returned
// block's size.
func TestMemPoolFreeRejectsWrongSize(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	p, err := k.NewMemPool(8, 1)
	require.NoError(t, err)
	require.ErrorIs(t, p.Free(nil, make([]byte, 4)), ErrInvalid)
}

// TestMemPoolBlockingAllocUnblocksOnFree covers Alloc blocking until a
// block is freed by another thread.
func TestMemPoolBlockingAllocUnblocksOnFree(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	p, err := k.NewMemPool(4, 1)
	require.NoError(t, err)
	b0, err := p.TryAlloc(nil)
	require.NoError(t, err)

	resultCh := make(chan []byte, 1)
	waiterTh, err := k.NewThread(ThreadAttr{Name: "w", Priority: PriorityNormal, StackSize: 64}, func(self *Thread, arg any) int {
		blk, err := p.Alloc(self, 0, false)
		require.NoError(t, err)
		resultCh <- blk
		return 0
	})
	require.NoError(t, err)
	waitState(t, waiterTh, StateSuspended)

	require.NoError(t, p.Free(nil, b0))

	select {
	case blk := <-resultCh:
		require.Equal(t, b0, blk)
	case <-time.After(time.Second):
		t.Fatal("blocking alloc never unblocked after free")
	}
}
