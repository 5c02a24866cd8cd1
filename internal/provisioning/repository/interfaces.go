package repository

import (
	"context"
	"time"

	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
)

// ReservationRepository persists reservation records and owns the atomic
// parts of the exclusivity invariant: Create is the single point of
// serialization per phone number, and Transition is a compare-and-swap so a
// timer firing concurrently with an activate resolves deterministically.
type ReservationRepository interface {
	// Create stores a new held reservation. It fails with
	// domain.ErrAlreadyReserved when a live reservation for the same number
	// already exists; two racing Creates for one number admit exactly one.
	Create(ctx context.Context, r *domain.Reservation) error

	// GetByID returns the reservation or domain.ErrNotFound.
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)

	// FindLiveByNumber returns the held or activated reservation for the
	// number, or domain.ErrNotFound when the number is free. A held record
	// past its TTL may still be returned; callers sweep it with ExpireIfDue.
	FindLiveByNumber(ctx context.Context, number string) (*domain.Reservation, error)

	// Transition atomically moves the reservation from one state to another.
	// It fails with domain.ErrStaleReservation when the current state does
	// not match from, and domain.ErrNotFound for unknown ids.
	Transition(ctx context.Context, id string, from, to domain.ReservationState) (*domain.Reservation, error)

	// ExpireIfDue marks a held reservation expired when its TTL has elapsed
	// at now. Returns the expired reservation, or nil when nothing was due.
	ExpireIfDue(ctx context.Context, id string, now time.Time) (*domain.Reservation, error)

	// Delete removes the record entirely; used by retention cleanup, not by
	// the reservation lifecycle.
	Delete(ctx context.Context, id string) error
}
