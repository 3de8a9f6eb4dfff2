package ratelimiter

import (
	"context"
	"testing"
	"time"
)

// TestNew verifies limiter creation with different parameters.
func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		filesPerSecond float64
		burst          int
		wantUnlimited  bool
		wantLimit      float64
	}{
		{name: "standard rate", filesPerSecond: 100, burst: 200, wantLimit: 100},
		{name: "fractional rate", filesPerSecond: 0.5, burst: 1, wantLimit: 0.5},
		{name: "burst raised to one", filesPerSecond: 10, burst: 0, wantLimit: 10},
		{name: "unlimited (zero rate)", filesPerSecond: 0, burst: 0, wantUnlimited: true},
		{name: "unlimited (negative rate)", filesPerSecond: -1, burst: 5, wantUnlimited: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.filesPerSecond, tt.burst)
			if limiter == nil || limiter.limiter == nil {
				t.Fatal("New() returned an unusable limiter")
			}
			if got := limiter.Unlimited(); got != tt.wantUnlimited {
				t.Fatalf("Unlimited() = %v, want %v", got, tt.wantUnlimited)
			}
			if got := limiter.Limit(); got != tt.wantLimit {
				t.Fatalf("Limit() = %v, want %v", got, tt.wantLimit)
			}
			if !tt.wantUnlimited && limiter.limiter.Burst() < 1 {
				t.Fatalf("burst = %d, want >= 1", limiter.limiter.Burst())
			}
		})
	}
}

// TestWait verifies that Wait() blocks until a token is available.
func TestWait(t *testing.T) {
	limiter := New(10, 1)

	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() failed: %v", err)
	}

	start := time.Now()
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("second Wait() failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("second Wait() returned after %v, want ~100ms", elapsed)
	}
}

// TestWait_ContextCancelled verifies that Wait() gives up on cancellation.
func TestWait_ContextCancelled(t *testing.T) {
	limiter := New(1, 1)
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx); err == nil {
		t.Fatal("Wait() should fail when the context ends before a token is available")
	}
}

// TestUnlimited verifies that unlimited and nil limiters never block.
func TestUnlimited(t *testing.T) {
	for name, limiter := range map[string]*RateLimiter{
		"zero rate": New(0, 0),
		"nil":       nil,
	} {
		t.Run(name, func(t *testing.T) {
			start := time.Now()
			for i := 0; i < 10000; i++ {
				if err := limiter.Wait(context.Background()); err != nil {
					t.Fatalf("Wait() failed: %v", err)
				}
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Fatalf("unlimited dispatch took %v", elapsed)
			}
		})
	}
}

// TestNilWait_ContextCancelled verifies a nil limiter still reports cancellation.
func TestNilWait_ContextCancelled(t *testing.T) {
	var limiter *RateLimiter

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := limiter.Wait(ctx); err == nil {
		t.Fatal("Wait() on a cancelled context should fail")
	}
}

// TestConcurrentWait verifies concurrent dispatchers share the bucket.
func TestConcurrentWait(t *testing.T) {
	limiter := New(1000, 50)

	done := make(chan error, 100)
	for i := 0; i < 100; i++ {
		go func() {
			done <- limiter.Wait(context.Background())
		}()
	}
	for i := 0; i < 100; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent Wait() failed: %v", err)
		}
	}
}
