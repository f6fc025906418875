package resilience

import (
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	MinRequests      uint32
	FailureThreshold uint32
	FailureRatio     float64
}

// DefaultBreakerConfig returns settings suited to a single upstream API.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		MinRequests:      10,
		FailureThreshold: 5,
		FailureRatio:     0.6,
	}
}

// StreamingCircuitBreaker wraps gobreaker's two-step breaker. Streaming
// calls cannot report their outcome inside Execute(), so admission and
// completion are separate: Allow() admits the call and returns a done
// callback that the caller invokes once the stream finishes.
type StreamingCircuitBreaker struct {
	cb *gobreaker.TwoStepCircuitBreaker
}

// NewStreamingCircuitBreaker creates a breaker from cfg.
func NewStreamingCircuitBreaker(cfg BreakerConfig) *StreamingCircuitBreaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			if counts.ConsecutiveFailures >= cfg.FailureThreshold {
				return true
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
	}
	return &StreamingCircuitBreaker{cb: gobreaker.NewTwoStepCircuitBreaker(settings)}
}

// Allow admits a call when the circuit permits it. The returned done
// callback MUST be invoked exactly once with the call's outcome.
// Returns gobreaker.ErrOpenState when the circuit is open.
func (b *StreamingCircuitBreaker) Allow() (done func(success bool), err error) {
	return b.cb.Allow()
}

// State returns the breaker's current state.
func (b *StreamingCircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}
