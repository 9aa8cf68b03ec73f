package execution

import (
	"testing"
	"time"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	b.Failure()
	b.Failure()
	if b.State() != BreakerClosed {
		t.Fatalf("state after 2 failures: %v", b.State())
	}

	b.Failure()
	if b.State() != BreakerOpen {
		t.Fatalf("state after 3 failures: %v", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker allowed a call")
	}
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()
	if b.State() != BreakerClosed {
		t.Fatalf("streak survived a success: %v", b.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	clock := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }

	b.Failure()
	if b.Allow() {
		t.Fatal("open breaker allowed a call before cooldown")
	}

	clock = clock.Add(61 * time.Second)
	if !b.Allow() {
		t.Fatal("breaker did not half-open after cooldown")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state after cooldown: %v", b.State())
	}

	b.Success()
	if b.State() != BreakerClosed {
		t.Fatalf("state after probe success: %v", b.State())
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	clock := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }

	b.Failure()
	clock = clock.Add(2 * time.Minute)
	if !b.Allow() {
		t.Fatal("breaker did not half-open")
	}

	b.Failure()
	if b.State() != BreakerOpen {
		t.Fatalf("state after probe failure: %v", b.State())
	}
	if b.Allow() {
		t.Fatal("reopened breaker allowed a call")
	}
}
