package workqueue

import (
	"math"
	"math/rand"
	"time"
)

// calculateBackoff returns the delay before retry number attempt (1-based):
// initial * 2^(attempt-1) with ±10% jitter.
func calculateBackoff(initial time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))

	// Add jitter (±10%) to prevent thundering herd
	jitter := backoff * 0.1 * (rand.Float64()*2 - 1)

	return time.Duration(backoff + jitter)
}
