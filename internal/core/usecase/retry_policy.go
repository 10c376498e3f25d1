package usecase

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy decides whether and when a failed job runs again.
type RetryPolicy struct {
	// MaxAttempts counts every run, including the first.
	MaxAttempts int
	// Backoff[i] is the delay after the (i+1)th failed attempt. The last
	// entry repeats when attempts outnumber entries.
	Backoff []time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second},
	}
}

// Next returns the delay before the next run after attempts failed runs, or
// false when no run is left.
func (p RetryPolicy) Next(attempts int) (time.Duration, bool) {
	if attempts >= p.MaxAttempts {
		return 0, false
	}
	if len(p.Backoff) == 0 {
		return 0, true
	}
	i := attempts - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.Backoff) {
		i = len(p.Backoff) - 1
	}
	return p.Backoff[i], true
}

// ParseBackoff reads a comma separated list such as "10s,30s,60s". Bare
// integers are seconds.
func ParseBackoff(raw string) ([]time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if secs, err := strconv.Atoi(part); err == nil {
			if secs < 0 {
				return nil, fmt.Errorf("backoff %q must not be negative", part)
			}
			out = append(out, time.Duration(secs)*time.Second)
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("parse backoff %q: %w", part, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("backoff %q must not be negative", part)
		}
		out = append(out, d)
	}
	return out, nil
}
