package binance

import (
	"log"
	"sync"
	"time"
)

// Binance futures allows 2400 request weight per minute. The engine only
// issues public market-data reads, so a single shared window is enough.
const (
	weightLimitPerMinute = 2400
	weightSafetyMargin   = 0.8 // stay below 80% of the budget
)

// endpointWeights maps the endpoints the engine uses to their documented
// request weight.
var endpointWeights = map[string]int{
	"/fapi/v1/ticker/24hr":  40, // no-symbol form
	"/fapi/v1/premiumIndex": 10,
	"/fapi/v1/openInterest": 1,
	"/fapi/v1/klines":       5,
}

// RateLimiter tracks request weight over a one minute sliding window and
// blocks callers that would exceed the safety margin.
type RateLimiter struct {
	mu          sync.Mutex
	usedWeight  int
	windowStart time.Time
	bannedUntil time.Time
}

var (
	limiter     *RateLimiter
	limiterOnce sync.Once
)

// GetRateLimiter returns the process-wide limiter shared by all clients.
func GetRateLimiter() *RateLimiter {
	limiterOnce.Do(func() {
		limiter = &RateLimiter{windowStart: time.Now()}
	})
	return limiter
}

// WaitForSlot blocks until the endpoint's weight fits in the current window
// or maxWait elapses. Returns false if the request should be abandoned.
func (rl *RateLimiter) WaitForSlot(endpoint string, maxWait time.Duration) bool {
	weight, ok := endpointWeights[endpoint]
	if !ok {
		weight = 1
	}

	deadline := time.Now().Add(maxWait)
	for {
		rl.mu.Lock()
		now := time.Now()

		if now.Before(rl.bannedUntil) {
			wait := time.Until(rl.bannedUntil)
			rl.mu.Unlock()
			if now.Add(wait).After(deadline) {
				return false
			}
			time.Sleep(wait)
			continue
		}

		if now.Sub(rl.windowStart) >= time.Minute {
			rl.usedWeight = 0
			rl.windowStart = now
		}

		budget := int(float64(weightLimitPerMinute) * weightSafetyMargin)
		if rl.usedWeight+weight <= budget {
			rl.usedWeight += weight
			rl.mu.Unlock()
			return true
		}

		wait := time.Minute - now.Sub(rl.windowStart)
		rl.mu.Unlock()

		if time.Now().Add(wait).After(deadline) {
			return false
		}
		time.Sleep(wait)
	}
}

// UpdateFromHeaders syncs local accounting with the X-MBX-USED-WEIGHT-1M
// header, which is authoritative.
func (rl *RateLimiter) UpdateFromHeaders(usedWeight int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if usedWeight > rl.usedWeight {
		rl.usedWeight = usedWeight
	}
}

// RecordRateLimitError backs off after a 429/418 response.
func (rl *RateLimiter) RecordRateLimitError(banUntil time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if banUntil.IsZero() {
		banUntil = time.Now().Add(time.Minute)
	}
	if banUntil.After(rl.bannedUntil) {
		rl.bannedUntil = banUntil
		log.Printf("[BINANCE] Rate limited, backing off until %s", banUntil.Format(time.RFC3339))
	}
}
