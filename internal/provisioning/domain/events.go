package domain

import "time"

// NATS subjects for provisioning lifecycle events.
const (
	SubjectReservationHeld      = "provisioning.reservation.held"
	SubjectReservationActivated = "provisioning.reservation.activated"
	SubjectReservationReleased  = "provisioning.reservation.released"
	SubjectReservationExpired   = "provisioning.reservation.expired"
	SubjectCircuitStateChanged  = "provisioning.circuit.state_changed"
)

// ReservationEvent is published on every reservation state change.
type ReservationEvent struct {
	ReservationID string           `json:"reservation_id"`
	Number        string           `json:"number"`
	CallerID      string           `json:"caller_id"`
	ProviderName  string           `json:"provider_name"`
	State         ReservationState `json:"state"`
	ExpiresAt     time.Time        `json:"expires_at"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// CircuitEvent is published when a provider breaker changes state.
type CircuitEvent struct {
	ProviderName string       `json:"provider_name"`
	From         CircuitState `json:"from"`
	To           CircuitState `json:"to"`
	OccurredAt   time.Time    `json:"occurred_at"`
}
