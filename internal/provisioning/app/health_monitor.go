package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/provider"
)

const (
	// DefaultProbeInterval is how often the background health loop probes
	// every registered provider.
	DefaultProbeInterval = time.Minute

	probeTimeout = 5 * time.Second
)

// HealthMonitor probes every registered provider on a fixed interval and
// feeds the results into the breakers, so a dead carrier trips its circuit
// before live traffic has to discover it, and an open circuit is closed again
// as soon as the carrier answers probes.
type HealthMonitor struct {
	registry *provider.Registry
	interval time.Duration
	logger   *slog.Logger

	stop chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	mu     sync.Mutex
	probes map[string]*probeRecord
}

type probeRecord struct {
	successes uint64
	failures  uint64
	lastError string
}

func NewHealthMonitor(registry *provider.Registry, interval time.Duration, logger *slog.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &HealthMonitor{
		registry: registry,
		interval: interval,
		logger:   logger.With("component", "health_monitor"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		probes:   make(map[string]*probeRecord),
	}
}

// Start launches the probe loop. An immediate first round runs before the
// ticker takes over.
func (m *HealthMonitor) Start() {
	m.startOnce.Do(func() {
		go m.run()
	})
}

// Stop halts the probe loop and waits for it to exit.
func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		<-m.done
	})
}

func (m *HealthMonitor) run() {
	defer close(m.done)
	m.ProbeAll(context.Background())
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.ProbeAll(context.Background())
		}
	}
}

// ProbeAll runs one probe round against every registered provider, active or
// not. Inactive providers are still probed so operators can see them recover
// before putting them back in rotation.
func (m *HealthMonitor) ProbeAll(ctx context.Context) {
	for _, p := range m.registry.All() {
		m.probe(ctx, p)
	}
}

func (m *HealthMonitor) probe(ctx context.Context, p *provider.Provider) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := p.Adapter.HealthCheck(probeCtx)

	m.mu.Lock()
	rec, ok := m.probes[p.Name()]
	if !ok {
		rec = &probeRecord{}
		m.probes[p.Name()] = rec
	}
	if err != nil {
		rec.failures++
		rec.lastError = err.Error()
	} else {
		rec.successes++
		rec.lastError = ""
	}
	m.mu.Unlock()

	if err != nil {
		healthProbesCounter.WithLabelValues(p.Name(), "failure").Inc()
		m.logger.Warn("health probe failed", "provider_name", p.Name(), "error", err)
		// Only feed failures into a closed breaker. An open one is already
		// tripped, and a half-open one belongs to its in-flight trial call.
		if p.Breaker.State() == domain.CircuitClosed {
			p.Breaker.Record(false)
		}
		return
	}

	healthProbesCounter.WithLabelValues(p.Name(), "success").Inc()
	switch p.Breaker.State() {
	case domain.CircuitOpen:
		// The carrier answers again; close the circuit without waiting for
		// the recovery timeout.
		m.logger.Info("provider recovered, resetting breaker", "provider_name", p.Name())
		p.Breaker.Reset()
	case domain.CircuitClosed:
		p.Breaker.Record(true)
	}
}

// Snapshot returns the current health view per provider, combining breaker
// state with accumulated probe statistics. It never influences routing.
func (m *HealthMonitor) Snapshot() map[string]domain.ProviderHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]domain.ProviderHealth)
	for _, p := range m.registry.All() {
		h := domain.ProviderHealth{
			State:       p.Breaker.State(),
			Active:      p.Active(),
			LastFailure: p.Breaker.LastFailure(),
			SuccessRate: p.Breaker.SuccessRate(),
		}
		if rec, ok := m.probes[p.Name()]; ok {
			h.ProbeSuccesses = rec.successes
			h.ProbeFailures = rec.failures
			h.LastProbeError = rec.lastError
		}
		out[p.Name()] = h
	}
	return out
}
