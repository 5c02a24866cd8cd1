package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/provider"
)

// DefaultSearchTimeout bounds a whole fan-out search when no explicit timeout
// is configured.
const DefaultSearchTimeout = 3 * time.Second

// SearchAggregator fans a search out to every active provider in parallel
// under a shared deadline, then merges the results. A slow or failing
// provider costs its own slice of results, never the whole search.
type SearchAggregator struct {
	registry *provider.Registry
	timeout  time.Duration
	logger   *slog.Logger
}

func NewSearchAggregator(registry *provider.Registry, timeout time.Duration, logger *slog.Logger) *SearchAggregator {
	if timeout <= 0 {
		timeout = DefaultSearchTimeout
	}
	return &SearchAggregator{
		registry: registry,
		timeout:  timeout,
		logger:   logger.With("component", "search_aggregator"),
	}
}

// Search queries all active providers and merges their inventories. The
// boolean result is true when the response is degraded: not a single provider
// answered successfully. Providers whose breaker is open are skipped without
// being called.
//
// Merge order follows provider registration order; duplicate numbers keep the
// first copy seen.
func (a *SearchAggregator) Search(ctx context.Context, criteria domain.SearchCriteria) ([]domain.AvailableNumber, bool, error) {
	providers := a.registry.ActiveProviders()
	if len(providers) == 0 {
		a.logger.WarnContext(ctx, "no active providers, returning degraded empty result")
		return []domain.AvailableNumber{}, true, nil
	}

	searchCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	results := make([][]domain.AvailableNumber, len(providers))
	succeeded := make([]bool, len(providers))

	g := new(errgroup.Group)
	for i, p := range providers {
		i, p := i, p
		g.Go(func() error {
			numbers, ok := a.searchOne(searchCtx, ctx, p, criteria)
			results[i] = numbers
			succeeded[i] = ok
			return nil
		})
	}
	g.Wait() // workers report through results/succeeded, never an error

	merged := a.merge(results, criteria)

	degraded := true
	for _, ok := range succeeded {
		if ok {
			degraded = false
			break
		}
	}
	return merged, degraded, nil
}

// searchOne runs a single provider call behind its breaker and rate budget.
// parent is the caller's context before the shared deadline was applied; a
// failure caused by the caller going away is not charged to the provider.
func (a *SearchAggregator) searchOne(ctx, parent context.Context, p *provider.Provider, criteria domain.SearchCriteria) ([]domain.AvailableNumber, bool) {
	if err := p.Breaker.Allow(); err != nil {
		var open *domain.CircuitOpenError
		if errors.As(err, &open) {
			a.logger.DebugContext(ctx, "skipping provider, circuit open",
				"provider_name", p.Name(), "retry_after", open.RetryAfter)
		}
		providerSearchSkippedCounter.WithLabelValues(p.Name(), "circuit_open").Inc()
		return nil, false
	}

	if err := p.Acquire(ctx); err != nil {
		// Never got to the provider, so there is no outcome to record.
		p.Breaker.Cancel()
		providerSearchSkippedCounter.WithLabelValues(p.Name(), "rate_budget").Inc()
		a.logger.WarnContext(ctx, "rate budget exhausted for provider",
			"provider_name", p.Name(), "error", err)
		return nil, false
	}
	defer p.Release()

	start := time.Now()
	numbers, err := p.Adapter.Search(ctx, criteria)
	elapsed := time.Since(start)

	if err != nil {
		providerSearchDurationHist.WithLabelValues(p.Name(), "error").Observe(elapsed.Seconds())
		if parent.Err() != nil {
			p.Breaker.Cancel()
		} else {
			p.Breaker.Record(false)
		}
		a.logger.WarnContext(ctx, "provider search failed",
			"provider_name", p.Name(), "duration_ms", elapsed.Milliseconds(), "error", err)
		return nil, false
	}

	providerSearchDurationHist.WithLabelValues(p.Name(), "success").Observe(elapsed.Seconds())
	p.Breaker.Record(true)
	a.logger.DebugContext(ctx, "provider search succeeded",
		"provider_name", p.Name(), "results", len(numbers), "duration_ms", elapsed.Milliseconds())
	return numbers, true
}

// merge flattens per-provider result slices in registration order, drops
// duplicates and results that do not satisfy the criteria, and truncates to
// the effective limit. Providers are not trusted to filter correctly.
func (a *SearchAggregator) merge(results [][]domain.AvailableNumber, criteria domain.SearchCriteria) []domain.AvailableNumber {
	limit := criteria.EffectiveLimit()
	seen := make(map[string]struct{})
	merged := make([]domain.AvailableNumber, 0, limit)
	for _, batch := range results {
		for _, n := range batch {
			if _, dup := seen[n.Number]; dup {
				continue
			}
			if !criteria.Matches(n) {
				continue
			}
			seen[n.Number] = struct{}{}
			merged = append(merged, n)
			if len(merged) == limit {
				return merged
			}
		}
	}
	return merged
}
