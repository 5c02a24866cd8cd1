package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededSim(t *testing.T) *SimProvider {
	t.Helper()
	sim := NewSimProvider(testLogger(), "carrier-a")
	sim.AddNumbers(
		domain.AvailableNumber{Number: "+12125551234", CountryCode: "1", AreaCode: "212", City: "New York", MonthlyRate: 5, Features: []domain.NumberFeature{domain.FeatureVoice, domain.FeatureSMS}},
		domain.AvailableNumber{Number: "+12125555678", CountryCode: "1", AreaCode: "212", City: "New York", MonthlyRate: 7, Features: []domain.NumberFeature{domain.FeatureVoice}},
		domain.AvailableNumber{Number: "+14155550000", CountryCode: "1", AreaCode: "415", City: "San Francisco", MonthlyRate: 4, Features: []domain.NumberFeature{domain.FeatureVoice, domain.FeatureFax}},
	)
	return sim
}

func TestSimProviderSearchFilters(t *testing.T) {
	sim := seededSim(t)
	ctx := context.Background()

	results, err := sim.Search(ctx, domain.SearchCriteria{CountryCode: "1", AreaCode: "212"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	// Results are sorted by number for determinism.
	assert.Equal(t, "+12125551234", results[0].Number)
	assert.Equal(t, "carrier-a", results[0].ProviderName)

	results, err = sim.Search(ctx, domain.SearchCriteria{CountryCode: "1", Features: []domain.NumberFeature{domain.FeatureFax}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "+14155550000", results[0].Number)

	results, err = sim.Search(ctx, domain.SearchCriteria{CountryCode: "44"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSimProviderSearchHidesHeldNumbers(t *testing.T) {
	sim := seededSim(t)
	ctx := context.Background()

	_, err := sim.Reserve(ctx, "+12125551234", "user1")
	require.NoError(t, err)

	results, err := sim.Search(ctx, domain.SearchCriteria{CountryCode: "1", AreaCode: "212"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "+12125555678", results[0].Number)
}

func TestSimProviderReserveLifecycle(t *testing.T) {
	sim := seededSim(t)
	ctx := context.Background()

	token, err := sim.Reserve(ctx, "+12125551234", "user1")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.True(t, sim.Reserved("+12125551234"))

	_, err = sim.Reserve(ctx, "+12125551234", "user2")
	assert.ErrorIs(t, err, domain.ErrAlreadyReserved)

	_, err = sim.Reserve(ctx, "+19995550000", "user1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, sim.Activate(ctx, token))
	// Activating again is a no-op success.
	require.NoError(t, sim.Activate(ctx, token))

	require.NoError(t, sim.Release(ctx, token))
	require.NoError(t, sim.Release(ctx, token))
	assert.False(t, sim.Reserved("+12125551234"))

	// Released numbers are reservable again.
	_, err = sim.Reserve(ctx, "+12125551234", "user2")
	assert.NoError(t, err)
}

func TestSimProviderActivateUnknownToken(t *testing.T) {
	sim := seededSim(t)
	err := sim.Activate(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSimProviderInjectedFailure(t *testing.T) {
	sim := seededSim(t)
	ctx := context.Background()

	sim.Fail(errors.New("upstream 500"))
	_, err := sim.Search(ctx, domain.SearchCriteria{CountryCode: "1"})
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.ErrorIs(t, sim.HealthCheck(ctx), domain.ErrProviderUnavailable)

	sim.Fail(nil)
	_, err = sim.Search(ctx, domain.SearchCriteria{CountryCode: "1"})
	assert.NoError(t, err)
}

func TestSimProviderHonoursCancelledContext(t *testing.T) {
	sim := seededSim(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.Search(ctx, domain.SearchCriteria{CountryCode: "1"})
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}
