package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/scrypster/memindex/internal/storage"
)

// Embedder turns text into a vector of the store's dimension. Providers live
// outside this module; the engine only consumes the interface.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float64, error)

// Embed calls f.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float64, error) { return f(ctx, text) }

// ErrCircuitOpen is returned while the embedding provider is considered down.
var ErrCircuitOpen = errors.New("engine: embedding circuit breaker is open")

// BreakerConfig configures a BreakerEmbedder.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive transient failures that trips
	// the breaker. Default: 3
	MaxFailures uint32 `koanf:"max_failures"`

	// Timeout is how long the breaker stays open before probing again.
	// Default: 30 seconds
	Timeout time.Duration `koanf:"timeout"`

	// HalfOpenMaxSuccesses is the number of successful probes that close the
	// breaker. Default: 2
	HalfOpenMaxSuccesses uint32 `koanf:"half_open_max_successes"`
}

// DefaultBreakerConfig returns 3 failures, 30s, 2 probes.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 3, Timeout: 30 * time.Second, HalfOpenMaxSuccesses: 2}
}

// BreakerEmbedder guards an Embedder with a circuit breaker. Only errors the
// classifier reports as transient count as failures; a rejected input does
// not make the provider look unhealthy.
type BreakerEmbedder struct {
	next    Embedder
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerEmbedder wraps next. A nil classifier uses
// storage.DefaultClassifier; a nil logger discards state changes.
func NewBreakerEmbedder(next Embedder, cfg BreakerConfig, classifier storage.TransientClassifier, log *zap.Logger) *BreakerEmbedder {
	def := DefaultBreakerConfig()
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HalfOpenMaxSuccesses == 0 {
		cfg.HalfOpenMaxSuccesses = def.HalfOpenMaxSuccesses
	}
	if classifier == nil {
		classifier = storage.DefaultClassifier{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	settings := gobreaker.Settings{
		Name:        "embedder",
		MaxRequests: cfg.HalfOpenMaxSuccesses,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classifier.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("engine: embedder circuit state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &BreakerEmbedder{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Embed runs the wrapped embedder through the breaker.
func (b *BreakerEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := b.breaker.Execute(func() (interface{}, error) {
		return b.next.Embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	vec, _ := out.([]float64)
	return vec, nil
}

// State returns "closed", "open" or "half-open".
func (b *BreakerEmbedder) State() string {
	return b.breaker.State().String()
}
