package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
)

// Facade is the single entry point the transport layer talks to. It validates
// input at the trust boundary and delegates to the aggregator, the
// reservation manager and the health monitor.
type Facade struct {
	aggregator   *SearchAggregator
	reservations *ReservationManager
	monitor      *HealthMonitor
	logger       *slog.Logger
}

func NewFacade(aggregator *SearchAggregator, reservations *ReservationManager, monitor *HealthMonitor, logger *slog.Logger) *Facade {
	return &Facade{
		aggregator:   aggregator,
		reservations: reservations,
		monitor:      monitor,
		logger:       logger.With("component", "provisioning_facade"),
	}
}

// Search validates the criteria and fans the query out across providers.
// The boolean result reports a degraded response: no provider answered.
func (f *Facade) Search(ctx context.Context, criteria domain.SearchCriteria) ([]domain.AvailableNumber, bool, error) {
	if err := criteria.Validate(); err != nil {
		return nil, false, err
	}

	start := time.Now()
	results, degraded, err := f.aggregator.Search(ctx, criteria)
	if err != nil {
		return nil, false, err
	}
	searchesTotalCounter.WithLabelValues(boolLabel(degraded)).Inc()
	f.logger.InfoContext(ctx, "number search completed",
		"country_code", criteria.CountryCode,
		"results", len(results),
		"degraded", degraded,
		"duration_ms", time.Since(start).Milliseconds())
	return results, degraded, nil
}

// Reserve places a TTL-bounded hold on the number for the caller.
func (f *Facade) Reserve(ctx context.Context, number, callerID string) (*domain.Reservation, error) {
	if err := domain.ValidateNumber(number); err != nil {
		return nil, err
	}
	if callerID == "" {
		return nil, domain.NewValidationError("caller_id is required")
	}
	return f.reservations.Reserve(ctx, number, callerID)
}

// Activate makes a held reservation permanent.
func (f *Facade) Activate(ctx context.Context, reservationID string) error {
	if reservationID == "" {
		return domain.NewValidationError("reservation id is required")
	}
	return f.reservations.Activate(ctx, reservationID)
}

// Release returns a held reservation to inventory.
func (f *Facade) Release(ctx context.Context, reservationID string) error {
	if reservationID == "" {
		return domain.NewValidationError("reservation id is required")
	}
	return f.reservations.Release(ctx, reservationID)
}

// GetReservation returns the current state of a reservation.
func (f *Facade) GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	if reservationID == "" {
		return nil, domain.NewValidationError("reservation id is required")
	}
	return f.reservations.Get(ctx, reservationID)
}

// ProviderHealth reports the health snapshot of every registered provider.
func (f *Facade) ProviderHealth() map[string]domain.ProviderHealth {
	return f.monitor.Snapshot()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
