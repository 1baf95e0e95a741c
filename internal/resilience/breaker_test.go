package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/chin-flags/fixapp/internal/clock"
)

var errUnavailable = errors.New("l2 unavailable")

func fail() error { return errUnavailable }
func ok() error { return nil }

func TestClosedBreakerPassesCalls(t *testing.T) {
	b := NewBreaker(3, time.Second)
	called := false
	if err := b.Execute(func() error { called = true; return nil }); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
	if b.State() != Closed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(3, time.Second)

	for range 3 {
		if err := b.Execute(fail); !errors.Is(err, errUnavailable) {
			t.Fatalf("expected the call's own error, got %v", err)
		}
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Fatal("fn must not run while open")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Second)

	_ = b.Execute(fail)
	_ = b.Execute(fail)
	_ = b.Execute(ok)
	_ = b.Execute(fail)
	_ = b.Execute(fail)

	if b.State() != Closed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestTrialCallAfterCooldown(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := NewBreaker(2, 10*time.Second, WithBreakerClock(clk))

	_ = b.Execute(fail)
	_ = b.Execute(fail)
	if b.State() != Open {
		t.Fatalf("expected open, got %s", b.State())
	}

	clk.Advance(10 * time.Second)
	if b.State() != HalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}
	if err := b.Execute(ok); err != nil {
		t.Fatalf("trial call: %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("expected closed after successful trial call, got %s", b.State())
	}
}

func TestFailedTrialCallReopens(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := NewBreaker(5, 10*time.Second, WithBreakerClock(clk))

	for range 5 {
		_ = b.Execute(fail)
	}
	clk.Advance(10 * time.Second)

	// A single failure in half-open is enough.
	_ = b.Execute(fail)
	if b.State() != Open {
		t.Fatalf("expected open, got %s", b.State())
	}
	if err := b.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestStateChangeHook(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var got []string
	b := NewBreaker(1, time.Second, WithBreakerClock(clk), OnStateChange(func(from, to State) {
		got = append(got, from.String()+">"+to.String())
	}))

	_ = b.Execute(fail)
	clk.Advance(time.Second)
	_ = b.Execute(ok)

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
