package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aks-o/voxlink-sub007/internal/platform/messagebroker"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/provider"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/repository"
)

// DefaultReservationTTL is the hold window granted to a reservation before it
// expires back into inventory.
const DefaultReservationTTL = 10 * time.Minute

// expiryTimeout bounds the background work done when a TTL timer fires.
const expiryTimeout = 15 * time.Second

// ReservationManager owns the reservation lifecycle: it places holds with a
// carrier, persists them, schedules TTL expiry and resolves the races between
// expiry, activation and release through the repository's atomic transitions.
type ReservationManager struct {
	repo      repository.ReservationRepository
	registry  *provider.Registry
	clock     domain.Clock
	ttl       time.Duration
	publisher messagebroker.Publisher
	logger    *slog.Logger

	mu     sync.Mutex
	timers map[string]domain.Timer
}

func NewReservationManager(
	repo repository.ReservationRepository,
	registry *provider.Registry,
	clock domain.Clock,
	ttl time.Duration,
	publisher messagebroker.Publisher,
	logger *slog.Logger,
) *ReservationManager {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &ReservationManager{
		repo:      repo,
		registry:  registry,
		clock:     clock,
		ttl:       ttl,
		publisher: publisher,
		logger:    logger.With("component", "reservation_manager"),
		timers:    make(map[string]domain.Timer),
	}
}

// Reserve places a hold on the number with the first provider willing to take
// it and persists the reservation. At most one live reservation exists per
// number; a second caller gets domain.ErrAlreadyReserved.
func (m *ReservationManager) Reserve(ctx context.Context, number, callerID string) (*domain.Reservation, error) {
	now := m.clock.Now()

	// Fast pre-check. The repository's Create below is the authoritative
	// serialization point; this only avoids a pointless provider call and
	// sweeps a hold that died with its timer (process restart).
	existing, err := m.repo.FindLiveByNumber(ctx, number)
	switch {
	case err == nil:
		if !existing.Due(now) {
			return nil, fmt.Errorf("number %s: %w", number, domain.ErrAlreadyReserved)
		}
		swept, expErr := m.repo.ExpireIfDue(ctx, existing.ID, now)
		if expErr != nil {
			return nil, fmt.Errorf("expiring overdue hold for %s: %w", number, expErr)
		}
		if swept != nil {
			m.finalizeExpired(ctx, swept)
		}
	case errors.Is(err, domain.ErrNotFound):
		// number is free
	default:
		return nil, err
	}

	chosen, token, err := m.reserveWithProviders(ctx, number, callerID)
	if err != nil {
		return nil, err
	}

	r := &domain.Reservation{
		ID:            uuid.NewString(),
		Number:        number,
		CallerID:      callerID,
		ProviderName:  chosen.Name(),
		ProviderToken: token,
		State:         domain.ReservationHeld,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.ttl),
	}
	if err := m.repo.Create(ctx, r); err != nil {
		// Lost the race to another caller; give the carrier hold back.
		m.releaseWithProvider(ctx, chosen, token)
		if errors.Is(err, domain.ErrAlreadyReserved) {
			return nil, fmt.Errorf("number %s: %w", number, domain.ErrAlreadyReserved)
		}
		return nil, fmt.Errorf("persisting reservation: %w", err)
	}

	m.scheduleExpiry(r.ID)
	reservationOutcomeCounter.WithLabelValues(string(domain.ReservationHeld)).Inc()
	m.publishReservation(r, domain.SubjectReservationHeld)
	m.logger.InfoContext(ctx, "reservation held",
		"reservation_id", r.ID, "number", r.Number, "provider_name", r.ProviderName,
		"expires_at", r.ExpiresAt)
	return r, nil
}

// reserveWithProviders walks the active providers in registration order and
// returns the first successful hold. Providers with an open breaker are
// skipped; transport failures are charged to their breaker and the next
// provider is tried.
func (m *ReservationManager) reserveWithProviders(ctx context.Context, number, callerID string) (*provider.Provider, string, error) {
	providers := m.registry.ActiveProviders()
	if len(providers) == 0 {
		return nil, "", fmt.Errorf("no active providers: %w", domain.ErrProviderUnavailable)
	}

	var (
		sawNotFound bool
		lastErr     error
	)
	for _, p := range providers {
		if err := p.Breaker.Allow(); err != nil {
			lastErr = err
			continue
		}
		token, err := p.Adapter.Reserve(ctx, number, callerID)
		switch {
		case err == nil:
			p.Breaker.Record(true)
			return p, token, nil
		case errors.Is(err, domain.ErrNotFound):
			p.Breaker.Record(true) // the provider answered, it just does not carry the number
			sawNotFound = true
		case errors.Is(err, domain.ErrAlreadyReserved):
			p.Breaker.Record(true)
			return nil, "", fmt.Errorf("number %s held at provider %s: %w", number, p.Name(), domain.ErrAlreadyReserved)
		default:
			if ctx.Err() != nil {
				p.Breaker.Cancel()
			} else {
				p.Breaker.Record(false)
			}
			m.logger.WarnContext(ctx, "provider reserve failed",
				"provider_name", p.Name(), "number", number, "error", err)
			lastErr = err
		}
	}

	if sawNotFound {
		return nil, "", fmt.Errorf("number %s not available at any provider: %w", number, domain.ErrNotFound)
	}
	if lastErr != nil {
		return nil, "", fmt.Errorf("all providers failed for %s: %w", number, errors.Join(domain.ErrProviderUnavailable, lastErr))
	}
	return nil, "", fmt.Errorf("number %s: %w", number, domain.ErrProviderUnavailable)
}

// Activate confirms a held reservation with its carrier, making it permanent.
// Activating an already activated reservation is a no-op; a released or
// expired one fails with domain.ErrStaleReservation.
func (m *ReservationManager) Activate(ctx context.Context, id string) error {
	r, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	switch r.State {
	case domain.ReservationActivated:
		return nil
	case domain.ReservationReleased, domain.ReservationExpired:
		return fmt.Errorf("reservation %s is %s: %w", id, r.State, domain.ErrStaleReservation)
	}

	now := m.clock.Now()
	if r.Due(now) {
		// TTL elapsed but the timer has not run yet; expiry wins.
		if swept, expErr := m.repo.ExpireIfDue(ctx, id, now); expErr == nil && swept != nil {
			m.finalizeExpired(ctx, swept)
		}
		return fmt.Errorf("reservation %s expired: %w", id, domain.ErrStaleReservation)
	}

	p, ok := m.registry.Get(r.ProviderName)
	if !ok {
		return fmt.Errorf("provider %s no longer registered: %w", r.ProviderName, domain.ErrProviderUnavailable)
	}
	if err := p.Adapter.Activate(ctx, r.ProviderToken); err != nil {
		// The reservation stays held; the caller may retry until the TTL.
		return fmt.Errorf("activating with provider %s: %w", r.ProviderName, err)
	}

	if _, err := m.repo.Transition(ctx, id, domain.ReservationHeld, domain.ReservationActivated); err != nil {
		if errors.Is(err, domain.ErrStaleReservation) {
			// The expiry timer won the race after the provider call; undo the
			// carrier-side activation as best we can.
			m.releaseWithProvider(ctx, p, r.ProviderToken)
			return fmt.Errorf("reservation %s expired during activation: %w", id, domain.ErrStaleReservation)
		}
		return err
	}

	m.cancelExpiry(id)
	reservationOutcomeCounter.WithLabelValues(string(domain.ReservationActivated)).Inc()
	r.State = domain.ReservationActivated
	m.publishReservation(r, domain.SubjectReservationActivated)
	m.logger.InfoContext(ctx, "reservation activated",
		"reservation_id", id, "number", r.Number, "provider_name", r.ProviderName)
	return nil
}

// Release gives a held reservation back voluntarily, returning the number to
// inventory. Releasing an already released reservation is a no-op; an
// activated or expired one fails with domain.ErrStaleReservation.
func (m *ReservationManager) Release(ctx context.Context, id string) error {
	r, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	switch r.State {
	case domain.ReservationReleased:
		return nil
	case domain.ReservationActivated, domain.ReservationExpired:
		return fmt.Errorf("reservation %s is %s: %w", id, r.State, domain.ErrStaleReservation)
	}

	if _, err := m.repo.Transition(ctx, id, domain.ReservationHeld, domain.ReservationReleased); err != nil {
		if errors.Is(err, domain.ErrStaleReservation) {
			return fmt.Errorf("reservation %s: %w", id, domain.ErrStaleReservation)
		}
		return err
	}

	m.cancelExpiry(id)
	if p, ok := m.registry.Get(r.ProviderName); ok {
		m.releaseWithProvider(ctx, p, r.ProviderToken)
	}
	reservationOutcomeCounter.WithLabelValues(string(domain.ReservationReleased)).Inc()
	r.State = domain.ReservationReleased
	m.publishReservation(r, domain.SubjectReservationReleased)
	m.logger.InfoContext(ctx, "reservation released",
		"reservation_id", id, "number", r.Number, "provider_name", r.ProviderName)
	return nil
}

// Get returns the reservation, sweeping it to expired first when its TTL has
// already elapsed, so readers never observe an overdue hold as live.
func (m *ReservationManager) Get(ctx context.Context, id string) (*domain.Reservation, error) {
	r, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Due(m.clock.Now()) {
		if swept, expErr := m.repo.ExpireIfDue(ctx, id, m.clock.Now()); expErr == nil && swept != nil {
			m.finalizeExpired(ctx, swept)
			return swept, nil
		}
	}
	return r, nil
}

// Stop cancels all pending expiry timers. Persisted holds survive; an overdue
// hold is swept lazily on the next read or reserve attempt.
func (m *ReservationManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

// expire is the TTL timer callback. The repository transition decides the
// race against Activate and Release; when nothing was due the timer simply
// lost and there is nothing to do.
func (m *ReservationManager) expire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), expiryTimeout)
	defer cancel()

	expired, err := m.repo.ExpireIfDue(ctx, id, m.clock.Now())
	if err != nil {
		m.logger.Error("failed to expire reservation", "reservation_id", id, "error", err)
		return
	}
	m.forgetTimer(id)
	if expired == nil {
		return
	}
	m.finalizeExpired(ctx, expired)
	m.logger.Info("reservation expired",
		"reservation_id", expired.ID, "number", expired.Number, "provider_name", expired.ProviderName)
}

// finalizeExpired records metrics, publishes the event and gives the carrier
// hold back for a reservation that just transitioned to expired.
func (m *ReservationManager) finalizeExpired(ctx context.Context, r *domain.Reservation) {
	m.cancelExpiry(r.ID)
	reservationOutcomeCounter.WithLabelValues(string(domain.ReservationExpired)).Inc()
	m.publishReservation(r, domain.SubjectReservationExpired)
	if p, ok := m.registry.Get(r.ProviderName); ok {
		m.releaseWithProvider(ctx, p, r.ProviderToken)
	}
}

// releaseWithProvider is a best-effort carrier-side release; Release is
// idempotent on the provider so a duplicate attempt is harmless.
func (m *ReservationManager) releaseWithProvider(ctx context.Context, p *provider.Provider, token string) {
	if err := p.Adapter.Release(ctx, token); err != nil {
		m.logger.Warn("carrier-side release failed",
			"provider_name", p.Name(), "error", err)
	}
}

func (m *ReservationManager) scheduleExpiry(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers[id] = m.clock.AfterFunc(m.ttl, func() { m.expire(id) })
}

func (m *ReservationManager) cancelExpiry(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
}

func (m *ReservationManager) forgetTimer(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timers, id)
}

func (m *ReservationManager) publishReservation(r *domain.Reservation, subject string) {
	publishJSON(m.publisher, m.logger, subject, domain.ReservationEvent{
		ReservationID: r.ID,
		Number:        r.Number,
		CallerID:      r.CallerID,
		ProviderName:  r.ProviderName,
		State:         r.State,
		ExpiresAt:     r.ExpiresAt,
		OccurredAt:    m.clock.Now(),
	})
}
