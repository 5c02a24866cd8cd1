package provider

import (
	"context"

	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
)

// Adapter is the uniform contract each carrier integration implements. Every
// call is bounded by the caller's context deadline; exceeding it is a failure,
// never success-with-partial-data.
type Adapter interface {
	// Name returns the stable provider identifier used as the registry key.
	Name() string

	// Search returns available inventory matching the criteria.
	Search(ctx context.Context, criteria domain.SearchCriteria) ([]domain.AvailableNumber, error)

	// Reserve places a provider-side hold on the number for the caller.
	// Fails with domain.ErrAlreadyReserved if the provider's own bookkeeping
	// shows the number taken, domain.ErrNotFound if unknown, and
	// domain.ErrProviderUnavailable on transport errors.
	Reserve(ctx context.Context, number, callerID string) (token string, err error)

	// Activate promotes a held token to a durable purchase. Idempotent:
	// activating an already activated token is a no-op success.
	Activate(ctx context.Context, token string) error

	// Release returns a held token's number to the pool. Idempotent like
	// Activate, since network retries can duplicate the call.
	Release(ctx context.Context, token string) error

	// HealthCheck is a cheap liveness probe independent of user traffic.
	HealthCheck(ctx context.Context) error
}
