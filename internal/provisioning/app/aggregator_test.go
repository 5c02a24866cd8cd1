package app

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aks-o/voxlink-sub007/internal/provisioning/breaker"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBreaker(name string) *breaker.Breaker {
	return breaker.New(name, breaker.Config{}, domain.RealClock{}, nil)
}

func sfNumber(number, areaCode string, rate float64) domain.AvailableNumber {
	return domain.AvailableNumber{
		Number:      number,
		CountryCode: "1",
		AreaCode:    areaCode,
		City:        "San Francisco",
		MonthlyRate: rate,
		Features:    []domain.NumberFeature{domain.FeatureVoice, domain.FeatureSMS},
	}
}

// countingAdapter wraps a sim adapter and counts Search calls, so tests can
// assert that a provider behind an open circuit is never contacted.
type countingAdapter struct {
	*provider.SimProvider
	searches atomic.Int64
}

func (c *countingAdapter) Search(ctx context.Context, criteria domain.SearchCriteria) ([]domain.AvailableNumber, error) {
	c.searches.Add(1)
	return c.SimProvider.Search(ctx, criteria)
}

func TestSearchAggregatorMergesAndDeduplicates(t *testing.T) {
	carrierA := provider.NewSimProvider(testLogger(), "carrier-a")
	carrierA.AddNumbers(
		sfNumber("+14155550100", "415", 1.00),
		sfNumber("+14155550101", "415", 1.00),
	)
	carrierB := provider.NewSimProvider(testLogger(), "carrier-b")
	carrierB.AddNumbers(
		sfNumber("+14155550101", "415", 2.50), // duplicate of carrier-a's
		sfNumber("+14155550102", "415", 1.25),
	)

	registry := provider.NewRegistry()
	registry.Register(carrierA, newTestBreaker("carrier-a"), 4)
	registry.Register(carrierB, newTestBreaker("carrier-b"), 4)

	agg := NewSearchAggregator(registry, time.Second, testLogger())
	results, degraded, err := agg.Search(context.Background(), domain.SearchCriteria{CountryCode: "1"})
	require.NoError(t, err)
	assert.False(t, degraded)
	require.Len(t, results, 3)

	// Duplicate keeps the first copy in registration order.
	byNumber := make(map[string]domain.AvailableNumber)
	for _, n := range results {
		byNumber[n.Number] = n
	}
	require.Contains(t, byNumber, "+14155550101")
	assert.Equal(t, "carrier-a", byNumber["+14155550101"].ProviderName)
	assert.Equal(t, 1.00, byNumber["+14155550101"].MonthlyRate)
}

func TestSearchAggregatorPartialFailure(t *testing.T) {
	healthy := provider.NewSimProvider(testLogger(), "carrier-a")
	healthy.AddNumbers(sfNumber("+14155550100", "415", 1.00))
	broken := provider.NewSimProvider(testLogger(), "carrier-b")
	broken.Fail(domain.ErrProviderUnavailable)

	registry := provider.NewRegistry()
	registry.Register(healthy, newTestBreaker("carrier-a"), 4)
	brokenBreaker := newTestBreaker("carrier-b")
	registry.Register(broken, brokenBreaker, 4)

	agg := NewSearchAggregator(registry, time.Second, testLogger())
	results, degraded, err := agg.Search(context.Background(), domain.SearchCriteria{CountryCode: "1"})
	require.NoError(t, err)
	assert.False(t, degraded, "one healthy provider keeps the response non-degraded")
	require.Len(t, results, 1)
	assert.Equal(t, "+14155550100", results[0].Number)
}

func TestSearchAggregatorDegradedWhenAllFail(t *testing.T) {
	brokenA := provider.NewSimProvider(testLogger(), "carrier-a")
	brokenA.Fail(domain.ErrProviderUnavailable)
	brokenB := provider.NewSimProvider(testLogger(), "carrier-b")
	brokenB.Fail(domain.ErrProviderUnavailable)

	registry := provider.NewRegistry()
	registry.Register(brokenA, newTestBreaker("carrier-a"), 4)
	registry.Register(brokenB, newTestBreaker("carrier-b"), 4)

	agg := NewSearchAggregator(registry, time.Second, testLogger())
	results, degraded, err := agg.Search(context.Background(), domain.SearchCriteria{CountryCode: "1"})
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Empty(t, results)
}

func TestSearchAggregatorNoActiveProviders(t *testing.T) {
	sim := provider.NewSimProvider(testLogger(), "carrier-a")
	registry := provider.NewRegistry()
	registry.Register(sim, newTestBreaker("carrier-a"), 4)
	require.NoError(t, registry.SetActive("carrier-a", false))

	agg := NewSearchAggregator(registry, time.Second, testLogger())
	results, degraded, err := agg.Search(context.Background(), domain.SearchCriteria{CountryCode: "1"})
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Empty(t, results)
}

func TestSearchAggregatorSkipsOpenCircuit(t *testing.T) {
	sim := provider.NewSimProvider(testLogger(), "carrier-a")
	sim.AddNumbers(sfNumber("+14155550100", "415", 1.00))
	counting := &countingAdapter{SimProvider: sim}

	brk := newTestBreaker("carrier-a")
	for i := 0; i < breaker.DefaultFailureThreshold; i++ {
		brk.Record(false)
	}
	require.Equal(t, domain.CircuitOpen, brk.State())

	registry := provider.NewRegistry()
	registry.Register(counting, brk, 4)

	agg := NewSearchAggregator(registry, time.Second, testLogger())
	results, degraded, err := agg.Search(context.Background(), domain.SearchCriteria{CountryCode: "1"})
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Empty(t, results)
	assert.Zero(t, counting.searches.Load(), "open circuit must short-circuit before the adapter")
}

func TestSearchAggregatorFailuresTripBreaker(t *testing.T) {
	sim := provider.NewSimProvider(testLogger(), "carrier-a")
	sim.Fail(domain.ErrProviderUnavailable)
	brk := newTestBreaker("carrier-a")

	registry := provider.NewRegistry()
	registry.Register(sim, brk, 4)

	agg := NewSearchAggregator(registry, time.Second, testLogger())
	for i := 0; i < breaker.DefaultFailureThreshold; i++ {
		_, _, err := agg.Search(context.Background(), domain.SearchCriteria{CountryCode: "1"})
		require.NoError(t, err)
	}
	assert.Equal(t, domain.CircuitOpen, brk.State())
}

func TestSearchAggregatorSlowProviderAbsorbed(t *testing.T) {
	fast := provider.NewSimProvider(testLogger(), "carrier-a")
	fast.AddNumbers(sfNumber("+14155550100", "415", 1.00))
	slow := provider.NewSimProvider(testLogger(), "carrier-b")
	slow.AddNumbers(sfNumber("+14155550101", "415", 1.00))
	slow.SetLatency(500 * time.Millisecond)

	registry := provider.NewRegistry()
	registry.Register(fast, newTestBreaker("carrier-a"), 4)
	registry.Register(slow, newTestBreaker("carrier-b"), 4)

	agg := NewSearchAggregator(registry, 50*time.Millisecond, testLogger())
	start := time.Now()
	results, degraded, err := agg.Search(context.Background(), domain.SearchCriteria{CountryCode: "1"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond, "search must not wait out the slow provider")
	assert.False(t, degraded)
	require.Len(t, results, 1)
	assert.Equal(t, "+14155550100", results[0].Number)
}

func TestSearchAggregatorAppliesLimitAndFilters(t *testing.T) {
	sim := provider.NewSimProvider(testLogger(), "carrier-a")
	sim.AddNumbers(
		sfNumber("+14155550100", "415", 1.00),
		sfNumber("+14155550101", "415", 5.00),
		sfNumber("+14155550102", "415", 1.00),
	)

	registry := provider.NewRegistry()
	registry.Register(sim, newTestBreaker("carrier-a"), 4)

	agg := NewSearchAggregator(registry, time.Second, testLogger())
	results, degraded, err := agg.Search(context.Background(), domain.SearchCriteria{
		CountryCode: "1",
		PriceRange:  &domain.PriceRange{MaxMonthlyRate: 2.00},
		Limit:       1,
	})
	require.NoError(t, err)
	assert.False(t, degraded)
	require.Len(t, results, 1)
	assert.LessOrEqual(t, results[0].MonthlyRate, 2.00)
}
