package match

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestClock_ExpiredAndRemaining(t *testing.T) {
	var nowMs atomic.Int64
	nowMs.Store(1000)
	c := NewClock("m1", 5000, time.Millisecond, func() int64 { return nowMs.Load() })

	if c.Expired() {
		t.Error("expired before end timestamp")
	}
	if got := c.RemainingMs(); got != 4000 {
		t.Errorf("RemainingMs = %d, want 4000", got)
	}

	nowMs.Store(5000)
	if !c.Expired() {
		t.Error("not expired at end timestamp")
	}
	if got := c.RemainingMs(); got != 0 {
		t.Errorf("RemainingMs = %d, want 0", got)
	}
}

func TestClock_FireExactlyOnce(t *testing.T) {
	c := NewClock("m1", 0, time.Millisecond, func() int64 { return 100 })

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Fire() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("Fire claimed %d times, want exactly 1", wins.Load())
	}
}

func TestClock_RunCompletesOnce(t *testing.T) {
	// Clock already expired: multiple concurrent Run loops all observe
	// expiry, but exactly one onExpire fires.
	c := NewClock("m1", 1000, time.Millisecond, func() int64 { return 2000 })

	var calls atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Run(context.Background(), func() { calls.Add(1) })
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("onExpire called %d times, want exactly 1", calls.Load())
	}
}

func TestClock_RunWaitsForExpiry(t *testing.T) {
	var nowMs atomic.Int64
	nowMs.Store(0)
	c := NewClock("m1", 50, time.Millisecond, func() int64 { return nowMs.Load() })

	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), func() {})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Run returned before expiry")
	case <-time.After(20 * time.Millisecond):
	}

	nowMs.Store(50)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after expiry")
	}
}

func TestClock_RunHonorsCancellation(t *testing.T) {
	c := NewClock("m1", 1<<60, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, func() { t.Error("onExpire fired on cancellation") })
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
