package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
)

func newTestBreaker(clock domain.Clock, onChange StateChangeFunc) *Breaker {
	return New("carrier-a", Config{FailureThreshold: 5, RecoveryTimeout: 60 * time.Second}, clock, onChange)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := domain.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	b := newTestBreaker(clock, nil)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Allow())
		b.Record(false)
		assert.Equal(t, domain.CircuitClosed, b.State())
	}

	require.NoError(t, b.Allow())
	b.Record(false) // fifth consecutive failure trips the circuit
	assert.Equal(t, domain.CircuitOpen, b.State())

	err := b.Allow()
	var openErr *domain.CircuitOpenError
	require.True(t, errors.As(err, &openErr))
	assert.Equal(t, "carrier-a", openErr.Provider)
	assert.Equal(t, 60*time.Second, openErr.RetryAfter)
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	clock := domain.NewFakeClock(time.Unix(0, 0))
	b := newTestBreaker(clock, nil)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Allow())
		b.Record(false)
	}
	require.NoError(t, b.Allow())
	b.Record(true)

	// Four more failures must not trip after the reset.
	for i := 0; i < 4; i++ {
		require.NoError(t, b.Allow())
		b.Record(false)
	}
	assert.Equal(t, domain.CircuitClosed, b.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	clock := domain.NewFakeClock(time.Unix(0, 0))
	b := newTestBreaker(clock, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Allow())
		b.Record(false)
	}
	require.Equal(t, domain.CircuitOpen, b.State())

	clock.Advance(59 * time.Second)
	err := b.Allow()
	var openErr *domain.CircuitOpenError
	require.True(t, errors.As(err, &openErr))
	assert.Equal(t, time.Second, openErr.RetryAfter)

	clock.Advance(time.Second)
	require.NoError(t, b.Allow()) // half-open trial admitted
	assert.Equal(t, domain.CircuitHalfOpen, b.State())

	// Only one trial at a time.
	assert.Error(t, b.Allow())

	b.Record(true)
	assert.Equal(t, domain.CircuitClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := domain.NewFakeClock(time.Unix(0, 0))
	b := newTestBreaker(clock, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Allow())
		b.Record(false)
	}
	clock.Advance(61 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(false)

	assert.Equal(t, domain.CircuitOpen, b.State())

	// The failed trial restarts the recovery window.
	err := b.Allow()
	var openErr *domain.CircuitOpenError
	require.True(t, errors.As(err, &openErr))
	assert.Equal(t, 60*time.Second, openErr.RetryAfter)
}

func TestBreakerStateChangeCallback(t *testing.T) {
	clock := domain.NewFakeClock(time.Unix(0, 0))

	type change struct{ from, to domain.CircuitState }
	var changes []change
	b := newTestBreaker(clock, func(provider string, from, to domain.CircuitState) {
		assert.Equal(t, "carrier-a", provider)
		changes = append(changes, change{from, to})
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Allow())
		b.Record(false)
	}
	clock.Advance(61 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(true)

	assert.Equal(t, []change{
		{domain.CircuitClosed, domain.CircuitOpen},
		{domain.CircuitOpen, domain.CircuitHalfOpen},
		{domain.CircuitHalfOpen, domain.CircuitClosed},
	}, changes)
}

func TestBreakerReset(t *testing.T) {
	clock := domain.NewFakeClock(time.Unix(0, 0))
	b := newTestBreaker(clock, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Allow())
		b.Record(false)
	}
	require.Equal(t, domain.CircuitOpen, b.State())

	b.Reset()
	assert.Equal(t, domain.CircuitClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerSuccessRate(t *testing.T) {
	b := newTestBreaker(domain.NewFakeClock(time.Unix(0, 0)), nil)
	assert.Equal(t, 1.0, b.SuccessRate())

	require.NoError(t, b.Allow())
	b.Record(true)
	require.NoError(t, b.Allow())
	b.Record(false)
	assert.InDelta(t, 0.5, b.SuccessRate(), 1e-9)
}
