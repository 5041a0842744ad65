package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/solar-dashboard-service/internal/observability"
)

// BreakerConfig holds circuit breaker parameters for one provider.
type BreakerConfig struct {
	Provider         string
	FailureThreshold int
	OpenTimeout      time.Duration
}

// Breaker wraps a gobreaker instance. A nil *Breaker passes every call through.
// An open breaker fails fast with ErrCircuitOpen; nothing is retried.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker creates a breaker that opens after FailureThreshold consecutive failures.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 60 * time.Second
	}
	threshold := uint32(cfg.FailureThreshold)
	observability.CircuitBreakerState.WithLabelValues(cfg.Provider).Set(0)
	return &Breaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Provider,
			MaxRequests: 1,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				observability.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			},
		}),
	}
}

// Do runs fn through the breaker.
func (b *Breaker) Do(fn func() error) error {
	if b == nil {
		return fn()
	}
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

// State reports the breaker state name, or "disabled" for a nil breaker.
func (b *Breaker) State() string {
	if b == nil {
		return "disabled"
	}
	return b.cb.State().String()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
