package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aks-o/voxlink-sub007/internal/platform/messagebroker"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/breaker"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
)

const publishTimeout = 5 * time.Second

// publishJSON marshals an event payload and publishes it. Broker failures are
// logged and swallowed; event delivery never blocks the provisioning path.
func publishJSON(pub messagebroker.Publisher, logger *slog.Logger, subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal event", "subject", subject, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := pub.Publish(ctx, subject, data); err != nil {
		logger.Error("failed to publish event", "subject", subject, "error", err)
	}
}

// NewBreakerListener builds the state-change callback wired into every
// provider breaker: it logs the transition, keeps the circuit gauge current
// and emits a CircuitEvent on the broker.
func NewBreakerListener(logger *slog.Logger, pub messagebroker.Publisher, clock domain.Clock) breaker.StateChangeFunc {
	return func(providerName string, from, to domain.CircuitState) {
		logger.Warn("circuit breaker state changed",
			"provider_name", providerName, "from", from, "to", to)
		circuitStateGauge.WithLabelValues(providerName).Set(circuitStateValue(to))
		publishJSON(pub, logger, domain.SubjectCircuitStateChanged, domain.CircuitEvent{
			ProviderName: providerName,
			From:         from,
			To:           to,
			OccurredAt:   clock.Now(),
		})
	}
}

func circuitStateValue(s domain.CircuitState) float64 {
	switch s {
	case domain.CircuitOpen:
		return 2
	case domain.CircuitHalfOpen:
		return 1
	default:
		return 0
	}
}
