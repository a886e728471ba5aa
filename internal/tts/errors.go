package tts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ProviderError is a provider call that got no usable answer. Status is the
// HTTP status, or 0 when no response arrived. It matches ErrProviderFailure.
type ProviderError struct {
	Provider string
	Status   int
	Msg      string
	Err      error // transport cause when Status is 0
}

func (e *ProviderError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Msg)
}

func (e *ProviderError) Is(target error) bool { return target == ErrProviderFailure }

func (e *ProviderError) Unwrap() error { return e.Err }

// IsOutage reports whether err means the provider is unavailable: no
// response, a 5xx, or 429. Rejected input, malformed answers and calls the
// caller cancelled are not outages and must not open a circuit.
func IsOutage(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	if pe.Status == 0 {
		return pe.Err != nil && !errors.Is(pe.Err, context.Canceled)
	}
	return pe.Status >= 500 || pe.Status == http.StatusTooManyRequests
}
