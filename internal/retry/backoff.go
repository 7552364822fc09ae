// Package retry implements the retry coordinator (spec §4.K): the loop that
// wraps one logical client request, acquiring credentials, dispatching to
// the upstream, and deciding when a failure is safe to retry. The backoff
// formula here is grounded on digitallysavvy-go-ai's pkg/internal/retry
// package, adapted from its additive-jitter scheme to the full-jitter
// algorithm the spec requires.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// DefaultBase and DefaultCap match spec §4.K: "exponential with full
// jitter, base 250ms, cap 4s".
const (
	DefaultBase = 250 * time.Millisecond
	DefaultCap  = 4 * time.Second
)

// FullJitterDelay implements the "full jitter" backoff algorithm: a uniform
// random delay between zero and min(cap, base*2^attempt). attempt is
// 0-indexed (the delay before the first retry uses attempt=0).
func FullJitterDelay(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	expo := float64(base) * math.Pow(2, float64(attempt))
	if expo > float64(cap) {
		expo = float64(cap)
	}
	if expo <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(expo) + 1))
}
