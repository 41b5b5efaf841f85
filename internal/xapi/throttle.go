package xapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ThrottleError is returned when the API reports too many requests. RetryAfter
// and ResetAt carry whatever timing information the response exposed; either
// may be zero.
type ThrottleError struct {
	Endpoint   string
	RetryAfter time.Duration
	ResetAt    time.Time
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("rate limited on %s", e.Endpoint)
}

// IsThrottle reports whether err is (or wraps) a ThrottleError.
func IsThrottle(err error) (*ThrottleError, bool) {
	var te *ThrottleError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// throttleFromResponse builds a ThrottleError from a 429 response, reading the
// Retry-After header and the x-rate-limit-reset unix timestamp when present.
func throttleFromResponse(resp *http.Response, endpoint string) *ThrottleError {
	te := &ThrottleError{Endpoint: endpoint}

	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			te.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	if v := resp.Header.Get("x-rate-limit-reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil && unix > 0 {
			te.ResetAt = time.Unix(unix, 0)
		}
	}
	return te
}
