package indexing

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBatchSize is the number of files handed to one batch.
const DefaultBatchSize = 10

// ThrottleConfig paces indexing work.
type ThrottleConfig struct {
	BatchSize int `koanf:"batch_size"`

	// BatchDelay is the minimum spacing between batch starts. Zero runs
	// batches back to back.
	BatchDelay time.Duration `koanf:"batch_delay"`
}

// Throttle runs work in batches spaced by a rate limiter. The delay only
// limits resource use; results do not depend on it.
type Throttle struct {
	size    int
	limiter *rate.Limiter
}

// NewThrottle builds a Throttle from cfg.
func NewThrottle(cfg ThrottleConfig) *Throttle {
	size := cfg.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	limit := rate.Inf
	if cfg.BatchDelay > 0 {
		limit = rate.Every(cfg.BatchDelay)
	}
	return &Throttle{size: size, limiter: rate.NewLimiter(limit, 1)}
}

// Run calls fn on consecutive batches of items. It stops at the first error
// or when ctx is cancelled while waiting between batches.
func (t *Throttle) Run(ctx context.Context, items []string, fn func(ctx context.Context, batch []string) error) error {
	for start := 0; start < len(items); start += t.size {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		end := min(start+t.size, len(items))
		if err := fn(ctx, items[start:end]); err != nil {
			return err
		}
	}
	return nil
}
