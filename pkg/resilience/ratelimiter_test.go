package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/WessleyAI/wessley-pricing/pkg/fn"
)

func TestLimiterBurst(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1, Burst: 2})
	if !l.Allow() || !l.Allow() {
		t.Fatal("burst tokens should be available")
	}
	if l.Allow() {
		t.Fatal("third call should be limited")
	}
}

func TestLimiterWaitRespectsContext(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 1})
	l.Allow()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected error from cancelled wait")
	}
}

func TestLimiterZeroRateIsUnlimited(t *testing.T) {
	l := NewLimiter(LimiterOpts{})
	for i := 0; i < 100; i++ {
		if !l.Allow() {
			t.Fatalf("call %d limited", i)
		}
	}
}

func TestThroughRejectsWhenOpen(t *testing.T) {
	g := NewGuard(LimiterOpts{}, BreakerOpts{FailThreshold: 1, Timeout: time.Minute})
	ctx := context.Background()
	Through(ctx, g, func(context.Context) fn.Result[int] { return fn.Err[int](errors.New("down")) })
	if g.State() != StateOpen {
		t.Fatalf("expected open, got %v", g.State())
	}
	called := false
	r := Through(ctx, g, func(context.Context) fn.Result[int] {
		called = true
		return fn.Ok(1)
	})
	if called {
		t.Fatal("open guard must not invoke the call")
	}
	if _, err := r.Unwrap(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestThroughNilGuard(t *testing.T) {
	var g *Guard
	if g.State() != StateClosed {
		t.Fatal("nil guard should report closed")
	}
	r := Through(context.Background(), g, func(context.Context) fn.Result[int] { return fn.Ok(2) })
	if v, _ := r.Unwrap(); v != 2 {
		t.Fatalf("got %d", v)
	}
}

func TestThroughWaitsForToken(t *testing.T) {
	g := NewGuard(LimiterOpts{Rate: 0.001, Burst: 1}, BreakerOpts{})
	ok := func(context.Context) fn.Result[int] { return fn.Ok(1) }
	if _, err := Through(context.Background(), g, ok).Unwrap(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := Through(ctx, g, ok).Unwrap(); !errors.Is(err, ErrRateLimited) && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the second call to be limited, got %v", err)
	}
}
