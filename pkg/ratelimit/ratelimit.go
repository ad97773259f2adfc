// Package ratelimit throttles outbound requests per remote host so parallel
// workers stay polite to upstream mirrors. Two backends share one interface:
// an in-process token bucket, and a Redis-backed bucket for fleets of
// acquire workers spread over several processes.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter gates requests per host key.
type Limiter interface {
	// Wait blocks until a request to host may proceed or ctx is done.
	Wait(ctx context.Context, host string) error
}

// Unlimited returns a limiter that never blocks.
func Unlimited() Limiter { return unlimited{} }

type unlimited struct{}

func (unlimited) Wait(context.Context, string) error { return nil }

// Local is the in-process backend: one token bucket per host.
type Local struct {
	mu       sync.Mutex
	perHost  map[string]*rate.Limiter
	ratePerS rate.Limit
	burst    int
}

// NewLocal creates a local limiter allowing requestsPerSecond per host.
func NewLocal(requestsPerSecond float64, burst int) *Local {
	if burst < 1 {
		burst = 1
	}
	return &Local{
		perHost:  map[string]*rate.Limiter{},
		ratePerS: rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (l *Local) Wait(ctx context.Context, host string) error {
	l.mu.Lock()
	lim, ok := l.perHost[host]
	if !ok {
		lim = rate.NewLimiter(l.ratePerS, l.burst)
		l.perHost[host] = lim
	}
	l.mu.Unlock()
	return lim.Wait(ctx)
}

// poll interval for the distributed backend when the bucket is empty.
const redisPollInterval = 200 * time.Millisecond
