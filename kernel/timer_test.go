package kernel

import (
	"sync/atomic"
	"testing"
	"time"
)

// TestSoftTimerOneShotAndPeriodic covers C13: a one-shot timer fires
// exactly once, a periodic timer keeps re-arming itself.
func TestSoftTimerOneShotAndPeriodic(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	if err := k.StartTimerTask(TimerTaskAttr{Priority: PriorityAboveNormal, StackSize: 256}); err != nil {
		t.Fatalf("StartTimerTask: %v", err)
	}

	oneShotFired := make(chan struct{}, 1)
	once := k.NewTimer("once", 3, TimerOneShot, func(tm *SoftTimer) {
		select {
		case oneShotFired <- struct{}{}:
		default:
		}
	})
	once.Start()

	var periodicFires atomic.Int32
	periodic := k.NewTimer("periodic", 2, TimerPeriodic, func(tm *SoftTimer) {
		periodicFires.Add(1)
	})
	periodic.Start()

	for i := 0; i < 8; i++ {
		k.Tick()
		time.Sleep(2 * time.Millisecond)
	}

	select {
	case <-oneShotFired:
	default:
		t.Fatal("one-shot timer never fired")
	}
	if once.Active() {
		t.Fatal("one-shot timer must not re-arm itself")
	}
	if periodicFires.Load() < 2 {
		t.Fatalf("periodic timer fired %d times, want at least 2", periodicFires.Load())
	}
}

// TestSoftTimerStopPreventsFiring covers Stop disarming a timer before
// its deadline.
func TestSoftTimerStopPreventsFiring(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	if err := k.StartTimerTask(TimerTaskAttr{Priority: PriorityAboveNormal, StackSize: 256}); err != nil {
		t.Fatalf("StartTimerTask: %v", err)
	}

	fired := make(chan struct{}, 1)
	tm := k.NewTimer("t", 3, TimerOneShot, func(tm *SoftTimer) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	tm.Start()
	tm.Stop()
	if tm.Active() {
		t.Fatal("Stop must disarm the timer")
	}

	for i := 0; i < 6; i++ {
		k.Tick()
		time.Sleep(2 * time.Millisecond)
	}
	select {
	case <-fired:
		t.Fatal("stopped timer must not fire")
	default:
	}
}

// TestSoftTimerChangePeriod covers the supplemented xTimerChangePeriod
// behavior: changing an active timer's period re-arms it relative to
// now.
func TestSoftTimerChangePeriod(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	if err := k.StartTimerTask(TimerTaskAttr{Priority: PriorityAboveNormal, StackSize: 256}); err != nil {
		t.Fatalf("StartTimerTask: %v", err)
	}

	fired := make(chan struct{}, 1)
	tm := k.NewTimer("t", 100, TimerOneShot, func(tm *SoftTimer) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	tm.Start()
	tm.ChangePeriod(2)

	for i := 0; i < 6; i++ {
		k.Tick()
		time.Sleep(2 * time.Millisecond)
	}
	select {
	case <-fired:
	default:
		t.Fatal("timer did not fire after ChangePeriod shortened its deadline")
	}
}
