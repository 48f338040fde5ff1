package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestKernel builds a Kernel on a Software port with the tick source
// disabled (hz=0, see Software.TickInstall), then starts the scheduler
// on a background goroutine. Tests that need tick-driven behavior call
// k.Tick() directly for deterministic control instead of racing a real
// timer. A t.Cleanup registered here stops the kernel and waits for
// Start to return.
func newTestKernel(t *testing.T, cfg Config) (*Kernel, *Software) {
	t.Helper()
	sw := NewSoftware()
	cfg.Port = sw
	k, err := New(cfg)
	require.NoError(t, err)
	sw.Attach(k)
	done := make(chan struct{})
	go func() {
		k.Start(0)
		close(done)
	}()
	t.Cleanup(func() {
		k.Shutdown()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("kernel did not shut down")
		}
	})
	return k, sw
}

// waitState polls until t's state matches want or the deadline elapses,
// since the test goroutine has no other signal for "some other thread's
// goroutine reached a given point" short of a channel the test body
// wires up itself.
func waitState(t *testing.T, th *Thread, want ThreadState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if th.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("thread %s: want state %s, got %s", th.Name(), want, th.State())
}

// waitCond polls cond, an arbitrary predicate, the same way waitState
// polls a Thread's state. It exists for assertions that need to observe
// kernel-internal structures a test has no other hook into (a wait
// queue's length, a mutex's internal flags), reading them under k.mu
// the same way any kernel method would.
func waitCond(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
