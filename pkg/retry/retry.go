// Package retry holds the one backoff schedule every network operation
// shares: sleep = min(base^attempt, max) seconds, attempt in [0, max_attempts).
package retry

import (
	"math"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Policy is the transient-error retry schedule.
type Policy struct {
	MaxAttempts int
	BackoffBase float64
	BackoffMax  float64
}

// Default matches the CLI defaults.
func Default() Policy {
	return Policy{MaxAttempts: 3, BackoffBase: 2, BackoffMax: 30}
}

// FromEnv overlays PIPELINE_RETRY_MAX / PIPELINE_RETRY_BACKOFF onto p.
func (p Policy) FromEnv() Policy {
	if v := os.Getenv("PIPELINE_RETRY_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.MaxAttempts = n
		}
	}
	if v := os.Getenv("PIPELINE_RETRY_BACKOFF"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			p.BackoffBase = f
		}
	}
	return p
}

// Sleep returns the backoff duration for an attempt index.
func (p Policy) Sleep(attempt int) time.Duration {
	secs := math.Min(math.Pow(p.BackoffBase, float64(attempt)), p.BackoffMax)
	return time.Duration(secs * float64(time.Second))
}

// TransientStatus reports whether an HTTP status merits a retry. Everything
// else, including other 4xx, fails the attempt outright.
func TransientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}
