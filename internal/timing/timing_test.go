package timing

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func TestSleepUntilPastDeadlineReturnsImmediately(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	deadline := clk.Now().Add(-time.Millisecond)
	start := time.Now()
	SleepUntil(clk, deadline, DefaultPolicy)
	if time.Since(start) > 5*time.Millisecond {
		t.Fatalf("expected immediate return for past deadline")
	}
}

func TestSleepUntilSpinsUnderThreshold(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	deadline := clk.Now().Add(5 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		SleepUntil(clk, deadline, Policy{MinSpinUs: 15000, SleepSlackMs: 2})
		close(done)
	}()

	// Advance the fake clock in small steps; SleepUntil must notice via
	// spin polling since 5ms is under the 15ms spin threshold.
	for i := 0; i < 10; i++ {
		time.Sleep(time.Millisecond)
		clk.advance(time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SleepUntil did not return after deadline passed")
	}
}

func TestAfterUsesClock(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	d := After(clk, 50*time.Millisecond)
	if !d.Equal(clk.Now().Add(50 * time.Millisecond)) {
		t.Fatalf("After did not derive from injected clock")
	}
}

func TestElapsed(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	start := clk.Now()
	clk.advance(10 * time.Millisecond)
	if e := Elapsed(clk, start); e != 10*time.Millisecond {
		t.Fatalf("expected 10ms elapsed, got %v", e)
	}
}
