package dispatch

import (
	"testing"
	"time"

	"github.com/cuemby/granary/pkg/config"
	"github.com/stretchr/testify/assert"
)

func TestBackoffNoJitter(t *testing.T) {
	cfg := config.BackoffConfig{Base: 100 * time.Millisecond, Max: time.Second, Jitter: 0}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 100 * time.Millisecond},
		{attempt: 2, want: 200 * time.Millisecond},
		{attempt: 3, want: 400 * time.Millisecond},
		{attempt: 4, want: 800 * time.Millisecond},
		{attempt: 5, want: time.Second}, // capped
		{attempt: 10, want: time.Second},
	}

	for _, tt := range tests {
		got := backoff(cfg, tt.attempt)
		assert.Equal(t, tt.want, got, "attempt %d", tt.attempt)
	}
}

func TestBackoffJitterStaysInBounds(t *testing.T) {
	cfg := config.BackoffConfig{Base: time.Second, Max: 30 * time.Second, Jitter: 0.2}

	for i := 0; i < 200; i++ {
		d := backoff(cfg, 2) // raw = 2s, so bounds are [1.6s, 2.4s]
		assert.GreaterOrEqual(t, d, 1600*time.Millisecond)
		assert.LessOrEqual(t, d, 2400*time.Millisecond)
	}
}

func TestBackoffNeverNegative(t *testing.T) {
	cfg := config.BackoffConfig{Base: time.Millisecond, Max: time.Second, Jitter: 1.0}

	for i := 0; i < 200; i++ {
		d := backoff(cfg, 1)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}
