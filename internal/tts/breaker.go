package tts

import (
	"errors"
	"fmt"
	"time"

	"github.com/echoglove/voice-bridge/internal/observability"
	"github.com/echoglove/voice-bridge/internal/resilience"
)

// newProviderBreaker builds the breaker guarding one provider. Only
// outages count toward opening it.
func newProviderBreaker(name string, maxFailures int, resetTimeout time.Duration) *resilience.CircuitBreaker {
	logger := observability.GetLogger().With().Str("component", "tts").Str("breaker", name).Logger()

	observability.UpdateCircuitBreakerState(name, int(resilience.StateClosed))
	return resilience.NewCircuitBreaker(resilience.BreakerOptions{
		Name:         name,
		MaxFailures:  maxFailures,
		ResetTimeout: resetTimeout,
		Counts:       IsOutage,
		OnStateChange: func(name string, from, to resilience.CircuitState) {
			observability.UpdateCircuitBreakerState(name, int(to))
			logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Synthesis circuit breaker changed state")
		},
	})
}

// synthesizeGuarded runs one provider call through cb
func synthesizeGuarded(cb *resilience.CircuitBreaker, call func() (*Result, error)) (*Result, error) {
	var result *Result
	err := cb.Call(func() error {
		var callErr error
		result, callErr = call()
		return callErr
	})

	if errors.Is(err, resilience.ErrCircuitOpen) {
		observability.RecordCircuitBreakerRejection(cb.Name())
		return nil, fmt.Errorf("%w: %s: %w", ErrProviderFailure, cb.Name(), err)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// breakerReady is the Ready answer shared by the providers
func breakerReady(cb *resilience.CircuitBreaker) (bool, error) {
	if cb.State() == resilience.StateOpen {
		return false, fmt.Errorf("%s circuit breaker is open", cb.Name())
	}
	return true, nil
}
