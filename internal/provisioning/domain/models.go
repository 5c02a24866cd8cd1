package domain

import (
	"strings"
	"time"
)

// NumberFeature tags a capability of a phone number.
type NumberFeature string

const (
	FeatureVoice NumberFeature = "voice"
	FeatureSMS   NumberFeature = "sms"
	FeatureMMS   NumberFeature = "mms"
	FeatureFax   NumberFeature = "fax"
)

// AvailableNumber is an immutable snapshot of inventory returned by a provider
// query. It has no lifecycle of its own.
type AvailableNumber struct {
	Number       string          `json:"number"` // E.164
	CountryCode  string          `json:"country_code"`
	AreaCode     string          `json:"area_code,omitempty"`
	City         string          `json:"city,omitempty"`
	Region       string          `json:"region,omitempty"`
	MonthlyRate  float64         `json:"monthly_rate"`
	SetupFee     float64         `json:"setup_fee"`
	Features     []NumberFeature `json:"features"`
	ProviderName string          `json:"provider_name"`
}

// HasFeatures reports whether the number carries every requested feature.
func (n AvailableNumber) HasFeatures(required []NumberFeature) bool {
	for _, want := range required {
		found := false
		for _, have := range n.Features {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ReservationState defines the lifecycle states of a reservation.
type ReservationState string

const (
	ReservationHeld      ReservationState = "held"
	ReservationActivated ReservationState = "activated"
	ReservationReleased  ReservationState = "released"
	ReservationExpired   ReservationState = "expired"
)

// Reservation is a time-bounded exclusive hold on a phone number. Only the
// reservation manager (or its expiry timer) mutates State.
type Reservation struct {
	ID            string           `json:"id"`
	Number        string           `json:"number"`
	CallerID      string           `json:"caller_id"`
	ProviderName  string           `json:"provider_name"`
	ProviderToken string           `json:"provider_token,omitempty"`
	State         ReservationState `json:"state"`
	CreatedAt     time.Time        `json:"created_at"`
	ExpiresAt     time.Time        `json:"expires_at"`
}

// Live reports whether the reservation still blocks other callers from the
// number: held (and not yet past its TTL at the given instant) or activated.
func (r *Reservation) Live(now time.Time) bool {
	switch r.State {
	case ReservationActivated:
		return true
	case ReservationHeld:
		return now.Before(r.ExpiresAt)
	default:
		return false
	}
}

// Due reports whether a held reservation has outlived its TTL.
func (r *Reservation) Due(now time.Time) bool {
	return r.State == ReservationHeld && !now.Before(r.ExpiresAt)
}

// ValidateNumber checks that a phone number is plausibly E.164: an optional
// leading plus followed by 7 to 15 digits.
func ValidateNumber(number string) error {
	digits := strings.TrimPrefix(number, "+")
	if len(digits) < 7 || len(digits) > 15 || !allDigits(digits) {
		return NewValidationError("number %q is not a valid E.164 number", number)
	}
	return nil
}

// CircuitState is the per-provider circuit breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// ProviderHealth is the read-only health snapshot exposed for status
// reporting. It never gates traffic; only breaker state does.
type ProviderHealth struct {
	State          CircuitState `json:"state"`
	Active         bool         `json:"active"`
	LastFailure    time.Time    `json:"last_failure,omitempty"`
	SuccessRate    float64      `json:"success_rate"`
	ProbeSuccesses uint64       `json:"probe_successes"`
	ProbeFailures  uint64       `json:"probe_failures"`
	LastProbeError string       `json:"last_probe_error,omitempty"`
}
