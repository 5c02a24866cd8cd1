package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates an unknown number or reservation.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyReserved indicates a live reservation already exists for the number.
	ErrAlreadyReserved = errors.New("number already reserved")
	// ErrProviderUnavailable indicates a transport error or timeout talking to a carrier.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrStaleReservation indicates an operation on an already finalized or expired reservation.
	ErrStaleReservation = errors.New("reservation is no longer held")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
)

// CircuitOpenError is returned when a provider's breaker rejects a call
// without a network attempt. RetryAfter is the time until the breaker will
// admit a trial request; zero means a trial is already in flight.
type CircuitOpenError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for provider %s (retry after %s)", e.Provider, e.RetryAfter)
}

// NewValidationError wraps ErrValidation with a reason so callers can both
// match the kind and report the detail.
func NewValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
