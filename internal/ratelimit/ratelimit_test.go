package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cryptopulse/cryptobot/internal/xapi"
)

type mockLedger struct {
	events []struct {
		wait     int
		endpoint string
	}
}

func (m *mockLedger) RecordRateLimit(waitSeconds int, endpoint string) error {
	m.events = append(m.events, struct {
		wait     int
		endpoint string
	}{waitSeconds, endpoint})
	return nil
}

func testRetrier(ledger *mockLedger, maxRetries int) (*Retrier, *[]time.Duration) {
	r := New(ledger, maxRetries, 60)
	var sleeps []time.Duration
	r.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return r, &sleeps
}

func TestRetryAfterThrottle(t *testing.T) {
	ledger := &mockLedger{}
	r, sleeps := testRetrier(ledger, 3)

	calls := 0
	err := r.Do(context.Background(), "search", func() error {
		calls++
		if calls == 1 {
			return &xapi.ThrottleError{Endpoint: "search", RetryAfter: 5 * time.Second}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 5*time.Second {
		t.Errorf("expected one 5s sleep, got %v", *sleeps)
	}
	if len(ledger.events) != 1 || ledger.events[0].wait != 5 || ledger.events[0].endpoint != "search" {
		t.Errorf("unexpected ledger events: %+v", ledger.events)
	}
}

func TestRetriesExhausted(t *testing.T) {
	ledger := &mockLedger{}
	r, sleeps := testRetrier(ledger, 3)

	calls := 0
	throttle := &xapi.ThrottleError{Endpoint: "search", RetryAfter: 2 * time.Second}
	err := r.Do(context.Background(), "search", func() error {
		calls++
		return throttle
	})

	if _, ok := xapi.IsThrottle(err); !ok {
		t.Fatalf("expected throttle error after exhaustion, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected initial attempt plus 3 retries, got %d calls", calls)
	}
	if len(*sleeps) != 3 {
		t.Errorf("expected 3 sleeps, got %d", len(*sleeps))
	}
	var total time.Duration
	for _, d := range *sleeps {
		total += d
	}
	if max := 3 * 2 * time.Second; total > max {
		t.Errorf("cumulative wait %v exceeds bound %v", total, max)
	}
}

func TestNonThrottleNotRetried(t *testing.T) {
	ledger := &mockLedger{}
	r, sleeps := testRetrier(ledger, 3)

	boom := errors.New("connection refused")
	calls := 0
	err := r.Do(context.Background(), "search", func() error {
		calls++
		return boom
	})

	if !errors.Is(err, boom) {
		t.Fatalf("expected original error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
	if len(*sleeps) != 0 || len(ledger.events) != 0 {
		t.Error("non-throttle errors must not sleep or touch the ledger")
	}
}

func TestWaitFromResetTimestamp(t *testing.T) {
	r, _ := testRetrier(&mockLedger{}, 1)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	wait := r.waitFor(&xapi.ThrottleError{ResetAt: now.Add(45 * time.Second)})
	if wait != 45*time.Second {
		t.Errorf("expected 45s from reset timestamp, got %v", wait)
	}
}

func TestWaitFlooredAtOneSecond(t *testing.T) {
	r, _ := testRetrier(&mockLedger{}, 1)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	// Reset in the past still waits at least a second.
	wait := r.waitFor(&xapi.ThrottleError{ResetAt: now.Add(-10 * time.Second)})
	if wait != time.Second {
		t.Errorf("expected 1s floor, got %v", wait)
	}
}

func TestWaitDefault(t *testing.T) {
	r, _ := testRetrier(&mockLedger{}, 1)

	wait := r.waitFor(&xapi.ThrottleError{})
	if wait != 60*time.Second {
		t.Errorf("expected 60s default, got %v", wait)
	}
}

func TestRetryAfterWinsOverReset(t *testing.T) {
	r, _ := testRetrier(&mockLedger{}, 1)
	now := time.Now()
	r.now = func() time.Time { return now }

	wait := r.waitFor(&xapi.ThrottleError{
		RetryAfter: 7 * time.Second,
		ResetAt:    now.Add(300 * time.Second),
	})
	if wait != 7*time.Second {
		t.Errorf("expected explicit retry-after to win, got %v", wait)
	}
}

func TestContextCancelledStopsRetries(t *testing.T) {
	ledger := &mockLedger{}
	r, _ := testRetrier(ledger, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Do(ctx, "search", func() error {
		return &xapi.ThrottleError{Endpoint: "search", RetryAfter: time.Second}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context error, got %v", err)
	}
}
