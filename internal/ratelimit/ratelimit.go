// Package ratelimit wraps outbound API calls with bounded wait-and-retry on
// throttling. Every call to the post-search API goes through a Retrier, which
// is the single place throttle waits are computed, recorded and slept.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/cryptopulse/cryptobot/internal/xapi"
)

// Ledger records throttling encounters for observability. The pipeline never
// reads the ledger back.
type Ledger interface {
	RecordRateLimit(waitSeconds int, endpoint string) error
}

// Retrier retries throttled calls up to a bound, sleeping the wait the API
// asked for between attempts. Non-throttle errors propagate immediately.
type Retrier struct {
	ledger      Ledger
	maxRetries  int
	defaultWait time.Duration

	sleep func(time.Duration)
	now   func() time.Time
}

// New creates a Retrier. maxRetries is the number of retries after the first
// attempt; defaultWaitSeconds applies when a throttle carries no timing
// information.
func New(ledger Ledger, maxRetries, defaultWaitSeconds int) *Retrier {
	return &Retrier{
		ledger:      ledger,
		maxRetries:  maxRetries,
		defaultWait: time.Duration(defaultWaitSeconds) * time.Second,
		sleep:       time.Sleep,
		now:         time.Now,
	}
}

// Do invokes call, retrying on throttle errors. After maxRetries retries the
// throttle error is returned to the caller.
func (r *Retrier) Do(ctx context.Context, endpoint string, call func() error) error {
	for attempt := 0; ; attempt++ {
		err := call()
		if err == nil {
			return nil
		}

		te, ok := xapi.IsThrottle(err)
		if !ok {
			return err
		}
		if attempt >= r.maxRetries {
			log.Printf("Rate limit on %s: retries exhausted after %d attempts", endpoint, attempt+1)
			return err
		}

		wait := r.waitFor(te)
		if lerr := r.ledger.RecordRateLimit(int(wait/time.Second), endpoint); lerr != nil {
			log.Printf("Error recording rate limit: %v", lerr)
		}
		log.Printf("Rate limit on %s: waiting %v (attempt %d/%d)", endpoint, wait, attempt+1, r.maxRetries)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.sleep(wait)
	}
}

// waitFor extracts the wait duration from a throttle error: an explicit
// retry-after wins, else reset timestamp minus now floored at one second,
// else the configured default.
func (r *Retrier) waitFor(te *xapi.ThrottleError) time.Duration {
	if te.RetryAfter > 0 {
		return te.RetryAfter
	}
	if !te.ResetAt.IsZero() {
		wait := te.ResetAt.Sub(r.now())
		if wait < time.Second {
			wait = time.Second
		}
		return wait
	}
	return r.defaultWait
}
