package clock

import (
	"context"
	"testing"
	"time"
)

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	clock := NewFake(time.Unix(0, 0))
	var order []int
	clock.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	clock.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	stopped := clock.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	if !stopped.Stop() {
		t.Fatalf("expected stop to succeed")
	}

	clock.Advance(2 * time.Second)
	if len(order) != 1 || order[0] != 1 {
		t.Fatalf("unexpected order after 2s: %v", order)
	}
	clock.Advance(time.Second)
	if len(order) != 2 || order[1] != 3 {
		t.Fatalf("unexpected order after 3s: %v", order)
	}
	if got := clock.Now(); !got.Equal(time.Unix(3, 0)) {
		t.Fatalf("unexpected now: %v", got)
	}
}

func TestFakeTimerArmedDuringAdvance(t *testing.T) {
	clock := NewFake(time.Unix(0, 0))
	fired := 0
	clock.AfterFunc(time.Second, func() {
		fired++
		clock.AfterFunc(time.Second, func() { fired++ })
	})
	clock.Advance(5 * time.Second)
	if fired != 2 {
		t.Fatalf("expected chained timers to fire, got %d", fired)
	}
	if clock.Pending() != 0 {
		t.Fatalf("expected no pending timers")
	}
}

func TestSleepCancelled(t *testing.T) {
	clock := NewFake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, clock, time.Minute); err == nil {
		t.Fatalf("expected context error")
	}
}
