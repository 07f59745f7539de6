package gateway

import (
	"sync"
	"time"
)

// Rejection reasons returned by ClientRateLimiter.Allow.
const (
	ReasonRateLimited   = "rate limit exceeded"
	ReasonTooConcurrent = "too many concurrent requests"
)

const rateWindow = time.Minute

// ClientRateLimiter bounds chat frames per WebSocket client with a sliding
// one-minute window and a cap on runs in flight.
type ClientRateLimiter struct {
	mu            sync.Mutex
	perMinute     int
	maxConcurrent int
	started       []time.Time
	inFlight      int
	now           func() time.Time
}

// NewClientRateLimiter creates a limiter. Non-positive limits fall back to
// 30 requests per minute and 2 concurrent runs.
func NewClientRateLimiter(perMinute, maxConcurrent int) *ClientRateLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &ClientRateLimiter{
		perMinute:     perMinute,
		maxConcurrent: maxConcurrent,
		now:           time.Now,
	}
}

// Acquire admits a request and marks it in flight. On rejection it returns
// false with the reason; callers must Release only admitted requests.
func (r *ClientRateLimiter) Acquire() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight >= r.maxConcurrent {
		return false, ReasonTooConcurrent
	}

	now := r.now()
	r.prune(now)
	if len(r.started) >= r.perMinute {
		return false, ReasonRateLimited
	}

	r.started = append(r.started, now)
	r.inFlight++
	return true, ""
}

// Release ends an admitted request.
func (r *ClientRateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight > 0 {
		r.inFlight--
	}
}

// Stats returns the requests in the current window and those in flight.
func (r *ClientRateLimiter) Stats() (windowCount, inFlight int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(r.now())
	return len(r.started), r.inFlight
}

func (r *ClientRateLimiter) prune(now time.Time) {
	cutoff := now.Add(-rateWindow)
	keep := 0
	for keep < len(r.started) && !r.started[keep].After(cutoff) {
		keep++
	}
	r.started = r.started[keep:]
}
