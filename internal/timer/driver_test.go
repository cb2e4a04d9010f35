package timer_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bidroom/auction-engine/internal/testutil"
	"github.com/bidroom/auction-engine/internal/timer"
)

var epoch = time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC)

func TestArm_FiresOnceAtDeadline(t *testing.T) {
	clock := testutil.NewManualClock(epoch)
	d := timer.NewDriver(clock)

	var fires atomic.Int32
	gen := d.Arm(epoch.Add(10*time.Second), func(g uint64) {
		if g != 1 {
			t.Errorf("expected generation 1, got %d", g)
		}
		fires.Add(1)
	})
	if gen != 1 {
		t.Fatalf("expected generation 1, got %d", gen)
	}

	clock.Advance(9 * time.Second)
	if fires.Load() != 0 {
		t.Fatal("callback fired before deadline")
	}

	clock.Advance(1 * time.Second)
	clock.Advance(time.Minute)
	if fires.Load() != 1 {
		t.Errorf("expected exactly one fire, got %d", fires.Load())
	}
}

func TestRearm_ReplacesDeadline(t *testing.T) {
	clock := testutil.NewManualClock(epoch)
	d := timer.NewDriver(clock)

	var gens []uint64
	d.Arm(epoch.Add(10*time.Second), func(g uint64) { gens = append(gens, g) })

	clock.Advance(5 * time.Second)
	gen := d.Rearm(epoch.Add(30 * time.Second))

	clock.Advance(10 * time.Second) // original deadline passes
	if len(gens) != 0 {
		t.Fatalf("superseded deadline fired: %v", gens)
	}

	clock.Advance(20 * time.Second)
	if len(gens) != 1 || gens[0] != gen {
		t.Errorf("expected single fire for generation %d, got %v", gen, gens)
	}
	if !d.Deadline().Equal(epoch.Add(30 * time.Second)) {
		t.Errorf("unexpected deadline %v", d.Deadline())
	}
}

func TestRearm_UnboundedDoesNotLeak(t *testing.T) {
	clock := testutil.NewManualClock(epoch)
	d := timer.NewDriver(clock)

	var fires atomic.Int32
	d.Arm(epoch.Add(time.Second), func(uint64) { fires.Add(1) })
	for i := 0; i < 10000; i++ {
		d.Rearm(epoch.Add(time.Duration(i+2) * time.Second))
	}

	if n := clock.Pending(); n != 1 {
		t.Fatalf("expected one live timer after rearms, got %d", n)
	}

	clock.Advance(time.Hour)
	if fires.Load() != 1 {
		t.Errorf("expected one fire, got %d", fires.Load())
	}
}

func TestRearm_WithoutArmIsNoop(t *testing.T) {
	clock := testutil.NewManualClock(epoch)
	d := timer.NewDriver(clock)

	if gen := d.Rearm(epoch.Add(time.Second)); gen != 0 {
		t.Errorf("expected 0 for unarmed driver, got %d", gen)
	}
	if clock.Pending() != 0 {
		t.Error("rearm on unarmed driver scheduled a timer")
	}
}

func TestStop_CancelsCallback(t *testing.T) {
	clock := testutil.NewManualClock(epoch)
	d := timer.NewDriver(clock)

	fired := false
	d.Arm(epoch.Add(time.Second), func(uint64) { fired = true })
	d.Stop()
	clock.Advance(time.Minute)

	if fired {
		t.Error("stopped driver fired")
	}
}

func TestArm_PastDeadlineFiresImmediately(t *testing.T) {
	clock := testutil.NewManualClock(epoch)
	d := timer.NewDriver(clock)

	fired := false
	d.Arm(epoch.Add(-time.Second), func(uint64) { fired = true })
	clock.Advance(0)

	if !fired {
		t.Error("expected past deadline to fire on next advance")
	}
}

func TestSystemClock_ConcurrentRearm(t *testing.T) {
	d := timer.NewDriver(timer.SystemClock{})

	var fires atomic.Int32
	done := make(chan struct{})
	d.Arm(time.Now().Add(200*time.Millisecond), func(uint64) {
		if fires.Add(1) == 1 {
			close(done)
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Rearm(time.Now().Add(200 * time.Millisecond))
		}()
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
	time.Sleep(50 * time.Millisecond)
	if n := fires.Load(); n != 1 {
		t.Errorf("expected one fire, got %d", n)
	}
}
