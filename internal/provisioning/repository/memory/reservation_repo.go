// Package memory provides the in-process ReservationRepository used in tests
// and single-node deployments.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/repository"
)

type reservationRepo struct {
	clock domain.Clock

	mu           sync.Mutex
	byID         map[string]*domain.Reservation
	liveByNumber map[string]string // number -> reservation id
}

// NewReservationRepository creates an empty in-memory store. The clock is
// used to treat held-but-overdue records as dead during Create.
func NewReservationRepository(clock domain.Clock) repository.ReservationRepository {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &reservationRepo{
		clock:        clock,
		byID:         make(map[string]*domain.Reservation),
		liveByNumber: make(map[string]string),
	}
}

func (s *reservationRepo) Create(_ context.Context, r *domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.liveByNumber[r.Number]; ok {
		existing := s.byID[existingID]
		if existing != nil && existing.Live(s.clock.Now()) {
			return fmt.Errorf("number %s held by reservation %s: %w", r.Number, existingID, domain.ErrAlreadyReserved)
		}
		// Held past its TTL: the expiry timer lost a race or never fired.
		// Sweep it so the number is claimable again.
		if existing != nil && existing.State == domain.ReservationHeld {
			existing.State = domain.ReservationExpired
		}
		delete(s.liveByNumber, r.Number)
	}

	cp := *r
	s.byID[r.ID] = &cp
	s.liveByNumber[r.Number] = r.ID
	return nil
}

func (s *reservationRepo) GetByID(_ context.Context, id string) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, domain.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *reservationRepo) FindLiveByNumber(_ context.Context, number string) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.liveByNumber[number]
	if !ok {
		return nil, fmt.Errorf("number %s: %w", number, domain.ErrNotFound)
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *reservationRepo) Transition(_ context.Context, id string, from, to domain.ReservationState) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, domain.ErrNotFound)
	}
	if r.State != from {
		return nil, fmt.Errorf("reservation %s is %s, not %s: %w", id, r.State, from, domain.ErrStaleReservation)
	}

	r.State = to
	if to == domain.ReservationReleased || to == domain.ReservationExpired {
		if s.liveByNumber[r.Number] == id {
			delete(s.liveByNumber, r.Number)
		}
	}
	cp := *r
	return &cp, nil
}

func (s *reservationRepo) ExpireIfDue(_ context.Context, id string, now time.Time) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, domain.ErrNotFound)
	}
	if !r.Due(now) {
		return nil, nil
	}

	r.State = domain.ReservationExpired
	if s.liveByNumber[r.Number] == id {
		delete(s.liveByNumber, r.Number)
	}
	cp := *r
	return &cp, nil
}

func (s *reservationRepo) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("reservation %s: %w", id, domain.ErrNotFound)
	}
	if s.liveByNumber[r.Number] == id {
		delete(s.liveByNumber, r.Number)
	}
	delete(s.byID, id)
	return nil
}
