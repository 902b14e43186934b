package ratelimiting

import (
	"net/http"
	"strconv"
	"time"
)

// Cooldown applied when the server throttles us without a usable
// Retry-After header.
const DefaultRetryAfter = 1 * time.Second

// ParseRetryAfter interprets a Retry-After header value, either an integer
// second count or an HTTP date. Dates in the past clamp to zero. Missing or
// malformed values fall back to DefaultRetryAfter.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return DefaultRetryAfter
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		wait := at.Sub(now)
		if wait < 0 {
			return 0
		}
		return wait
	}

	return DefaultRetryAfter
}
