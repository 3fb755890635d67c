package dispatch

import (
	"math"
	"math/rand"
	"time"

	"github.com/cuemby/granary/pkg/config"
)

// backoff computes the retry delay before attempt (1-indexed; attempt=1 is
// the delay before the *second* try) per spec.md §4.4.1: exponential with
// jitter, `min(cap, base*2^(attempt-1)) * (1 ± jitter)`.
func backoff(cfg config.BackoffConfig, attempt int) time.Duration {
	raw := float64(cfg.Base) * math.Pow(2, float64(attempt-1))
	capped := math.Min(raw, float64(cfg.Max))

	if cfg.Jitter > 0 {
		// rand.Float64() in [0,1) -> jitter factor in [1-j, 1+j).
		factor := 1 + cfg.Jitter*(2*rand.Float64()-1)
		capped *= factor
	}
	if capped < 0 {
		capped = 0
	}
	return time.Duration(capped)
}
