package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter spaces out requests per host
type RateLimiter struct {
	hostLastRequest   map[string]time.Time // hostname -> last request attempt time
	hostLastRequestMu sync.Mutex
	defaultDelay      time.Duration // Used when a caller passes a non-positive delay
	log               *logrus.Entry
}

// NewRateLimiter creates a RateLimiter
func NewRateLimiter(defaultDelay time.Duration, log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		hostLastRequest: make(map[string]time.Time),
		defaultDelay:    defaultDelay,
		log:             log,
	}
}

// ApplyDelay sleeps if the time since the last request to host is less than minDelay.
// Adds +/- 10% jitter. Returns ctx.Err() if ctx ends while waiting.
func (rl *RateLimiter) ApplyDelay(ctx context.Context, host string, minDelay time.Duration) error {
	if minDelay <= 0 {
		minDelay = rl.defaultDelay
	}
	if minDelay <= 0 {
		return nil
	}

	rl.hostLastRequestMu.Lock()
	lastReqTime, exists := rl.hostLastRequest[host]
	rl.hostLastRequestMu.Unlock()

	if !exists {
		return nil
	}

	elapsed := time.Since(lastReqTime)
	if elapsed >= minDelay {
		return nil
	}
	sleepDuration := minDelay - elapsed

	var jitter time.Duration
	if jitterRange := int64(sleepDuration) / 5; jitterRange > 0 {
		jitter = time.Duration(rand.Int63n(jitterRange)) - (sleepDuration / 10)
	}
	finalSleep := sleepDuration + jitter
	if finalSleep <= 0 {
		return nil
	}

	rl.log.WithFields(logrus.Fields{
		"host": host, "sleep": finalSleep, "required_delay": minDelay, "elapsed": elapsed,
	}).Trace("Rate limit applying sleep")

	timer := time.NewTimer(finalSleep)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateLastRequestTime records now as the last request attempt time for host.
// Call it after the request attempt.
func (rl *RateLimiter) UpdateLastRequestTime(host string) {
	rl.hostLastRequestMu.Lock()
	rl.hostLastRequest[host] = time.Now()
	rl.hostLastRequestMu.Unlock()
}
