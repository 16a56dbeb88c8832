package waiter

import (
	"context"
	"testing"
	"time"
)

func TestWakeUnparksOldestWaiter(t *testing.T) {
	r := New()
	done := make(chan struct{})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Wait(ctx, "target-a")
		close(done)
	}()

	// Give the goroutine a chance to park before waking it.
	time.Sleep(10 * time.Millisecond)
	r.Wake("target-a")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wake did not unpark the waiter")
	}
}

func TestWaitReturnsOnContextDeadline(t *testing.T) {
	r := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	r.Wait(ctx, "target-b")
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("Wait returned before the deadline elapsed")
	}
	if r.Pending() != 0 {
		t.Fatalf("expected no pending waiters after deadline, got %d", r.Pending())
	}
}

func TestWakeWithNoWaitersIsNoop(t *testing.T) {
	r := New()
	r.Wake("nobody-waiting")
	if r.Pending() != 0 {
		t.Fatalf("expected 0 pending waiters, got %d", r.Pending())
	}
}
