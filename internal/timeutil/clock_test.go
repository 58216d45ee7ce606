package timeutil

import (
	"context"
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(200 * time.Millisecond):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_AdvanceAndSince(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewMockClock(start)
	clock.Advance(3 * time.Second)

	if got := clock.Since(start); got != 3*time.Second {
		t.Errorf("Since() = %v, want 3s", got)
	}
}

func TestMockClock_SleepRecords(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Sleep(time.Second)
	clock.Sleep(750 * time.Millisecond)

	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != time.Second || sleeps[1] != 750*time.Millisecond {
		t.Errorf("Sleeps() = %v", sleeps)
	}
	if !clock.Now().Equal(start) {
		t.Errorf("Sleep moved time without AdvanceOnSleep: %v", clock.Now())
	}

	clock.AdvanceOnSleep(true)
	clock.Sleep(2 * time.Second)
	if got := clock.Since(start); got != 2*time.Second {
		t.Errorf("Since() after advancing sleep = %v, want 2s", got)
	}
}

func TestMockTicker_FiresOnAdvance(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(300 * time.Millisecond)

	clock.Advance(100 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	clock.Advance(200 * time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire at its period")
	}

	ticker.Stop()
	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, RealClock{}, time.Hour); err != context.Canceled {
		t.Errorf("SleepContext on cancelled ctx = %v, want context.Canceled", err)
	}

	clock := NewMockClock(time.Unix(0, 0))
	if err := SleepContext(context.Background(), clock, time.Second); err != nil {
		t.Errorf("SleepContext(mock) = %v", err)
	}
	if len(clock.Sleeps()) != 1 {
		t.Errorf("mock sleep not recorded")
	}

	start := time.Now()
	if err := SleepContext(context.Background(), RealClock{}, 5*time.Millisecond); err != nil {
		t.Errorf("SleepContext(real) = %v", err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Errorf("SleepContext returned early")
	}
}
