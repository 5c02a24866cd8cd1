package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/provider"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/repository"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/repository/memory"
)

// capturePublisher records published subjects in order.
type capturePublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *capturePublisher) Publish(_ context.Context, subject string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *capturePublisher) Subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subjects...)
}

type managerFixture struct {
	manager   *ReservationManager
	sim       *provider.SimProvider
	clock     *domain.FakeClock
	repo      repository.ReservationRepository
	publisher *capturePublisher
}

func newManagerFixture(t *testing.T, ttl time.Duration) *managerFixture {
	t.Helper()
	clock := domain.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	sim := provider.NewSimProvider(testLogger(), "carrier-a")
	sim.AddNumbers(sfNumber("+14155550100", "415", 1.00))

	registry := provider.NewRegistry()
	registry.Register(sim, newTestBreaker("carrier-a"), 4)

	repo := memory.NewReservationRepository(clock)
	publisher := &capturePublisher{}
	m := NewReservationManager(repo, registry, clock, ttl, publisher, testLogger())
	t.Cleanup(m.Stop)
	return &managerFixture{manager: m, sim: sim, clock: clock, repo: repo, publisher: publisher}
}

func TestReservationHoldExpiresAfterTTL(t *testing.T) {
	f := newManagerFixture(t, 600*time.Second)
	ctx := context.Background()

	r, err := f.manager.Reserve(ctx, "+14155550100", "tenant-42")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationHeld, r.State)
	assert.Equal(t, f.clock.Now().Add(600*time.Second), r.ExpiresAt)
	assert.True(t, f.sim.Reserved("+14155550100"))

	// A second caller is locked out while the hold is live.
	_, err = f.manager.Reserve(ctx, "+14155550100", "tenant-77")
	require.ErrorIs(t, err, domain.ErrAlreadyReserved)

	f.clock.Advance(601 * time.Second)

	stored, err := f.repo.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationExpired, stored.State)
	assert.False(t, f.sim.Reserved("+14155550100"), "carrier hold released on expiry")

	// The number is back in inventory.
	r2, err := f.manager.Reserve(ctx, "+14155550100", "tenant-77")
	require.NoError(t, err)
	assert.NotEqual(t, r.ID, r2.ID)
}

func TestActivateMakesReservationPermanent(t *testing.T) {
	f := newManagerFixture(t, 600*time.Second)
	ctx := context.Background()

	r, err := f.manager.Reserve(ctx, "+14155550100", "tenant-42")
	require.NoError(t, err)
	require.NoError(t, f.manager.Activate(ctx, r.ID))

	// Idempotent.
	require.NoError(t, f.manager.Activate(ctx, r.ID))

	// An activated reservation outlives the TTL.
	f.clock.Advance(2 * time.Hour)
	stored, err := f.repo.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationActivated, stored.State)

	_, err = f.manager.Reserve(ctx, "+14155550100", "tenant-77")
	assert.ErrorIs(t, err, domain.ErrAlreadyReserved)
}

func TestActivateAfterExpiryFails(t *testing.T) {
	f := newManagerFixture(t, 600*time.Second)
	ctx := context.Background()

	r, err := f.manager.Reserve(ctx, "+14155550100", "tenant-42")
	require.NoError(t, err)

	f.clock.Advance(601 * time.Second)
	err = f.manager.Activate(ctx, r.ID)
	assert.ErrorIs(t, err, domain.ErrStaleReservation)
}

func TestActivateUnknownReservation(t *testing.T) {
	f := newManagerFixture(t, 600*time.Second)
	err := f.manager.Activate(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReleaseReturnsNumberToInventory(t *testing.T) {
	f := newManagerFixture(t, 600*time.Second)
	ctx := context.Background()

	r, err := f.manager.Reserve(ctx, "+14155550100", "tenant-42")
	require.NoError(t, err)
	require.NoError(t, f.manager.Release(ctx, r.ID))
	assert.False(t, f.sim.Reserved("+14155550100"))

	// Idempotent.
	require.NoError(t, f.manager.Release(ctx, r.ID))

	// Activating a released reservation is refused.
	assert.ErrorIs(t, f.manager.Activate(ctx, r.ID), domain.ErrStaleReservation)

	_, err = f.manager.Reserve(ctx, "+14155550100", "tenant-77")
	require.NoError(t, err)
}

func TestReleaseActivatedReservationFails(t *testing.T) {
	f := newManagerFixture(t, 600*time.Second)
	ctx := context.Background()

	r, err := f.manager.Reserve(ctx, "+14155550100", "tenant-42")
	require.NoError(t, err)
	require.NoError(t, f.manager.Activate(ctx, r.ID))
	assert.ErrorIs(t, f.manager.Release(ctx, r.ID), domain.ErrStaleReservation)
}

func TestReserveFallsBackToNextProvider(t *testing.T) {
	clock := domain.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	broken := provider.NewSimProvider(testLogger(), "carrier-a")
	broken.AddNumbers(sfNumber("+14155550100", "415", 1.00))
	broken.Fail(domain.ErrProviderUnavailable)
	healthy := provider.NewSimProvider(testLogger(), "carrier-b")
	healthy.AddNumbers(sfNumber("+14155550100", "415", 1.50))

	registry := provider.NewRegistry()
	registry.Register(broken, newTestBreaker("carrier-a"), 4)
	registry.Register(healthy, newTestBreaker("carrier-b"), 4)

	m := NewReservationManager(memory.NewReservationRepository(clock), registry, clock,
		600*time.Second, &capturePublisher{}, testLogger())
	t.Cleanup(m.Stop)

	r, err := m.Reserve(context.Background(), "+14155550100", "tenant-42")
	require.NoError(t, err)
	assert.Equal(t, "carrier-b", r.ProviderName)
}

func TestReserveUnknownNumber(t *testing.T) {
	f := newManagerFixture(t, 600*time.Second)
	_, err := f.manager.Reserve(context.Background(), "+19995550000", "tenant-42")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReservationEventsPublished(t *testing.T) {
	f := newManagerFixture(t, 600*time.Second)
	ctx := context.Background()

	r, err := f.manager.Reserve(ctx, "+14155550100", "tenant-42")
	require.NoError(t, err)
	require.NoError(t, f.manager.Release(ctx, r.ID))

	r2, err := f.manager.Reserve(ctx, "+14155550100", "tenant-42")
	require.NoError(t, err)
	require.NoError(t, f.manager.Activate(ctx, r2.ID))

	assert.Equal(t, []string{
		domain.SubjectReservationHeld,
		domain.SubjectReservationReleased,
		domain.SubjectReservationHeld,
		domain.SubjectReservationActivated,
	}, f.publisher.Subjects())
}

func TestExpiredEventPublished(t *testing.T) {
	f := newManagerFixture(t, 600*time.Second)

	_, err := f.manager.Reserve(context.Background(), "+14155550100", "tenant-42")
	require.NoError(t, err)
	f.clock.Advance(601 * time.Second)

	assert.Equal(t, []string{
		domain.SubjectReservationHeld,
		domain.SubjectReservationExpired,
	}, f.publisher.Subjects())
}

func TestGetSweepsOverdueHold(t *testing.T) {
	f := newManagerFixture(t, 600*time.Second)
	ctx := context.Background()

	r, err := f.manager.Reserve(ctx, "+14155550100", "tenant-42")
	require.NoError(t, err)

	// Cancel the timer to simulate a restart, then read past the TTL.
	f.manager.Stop()
	f.clock.Advance(601 * time.Second)

	got, err := f.manager.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationExpired, got.State)
}
