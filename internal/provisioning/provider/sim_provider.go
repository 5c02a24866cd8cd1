package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
)

// SimProvider is a deterministic in-process carrier used in development and
// tests. It keeps full reserve/activate/release bookkeeping so the exclusivity
// and idempotency contracts can be exercised without a network.
type SimProvider struct {
	name   string
	logger *slog.Logger

	mu        sync.Mutex
	inventory map[string]domain.AvailableNumber
	holds     map[string]*simHold // token -> hold
	byNumber  map[string]string   // number -> holding token
	failErr   error
	latency   time.Duration
}

type simHold struct {
	number    string
	activated bool
	released  bool
}

// NewSimProvider creates an empty simulator named name.
func NewSimProvider(logger *slog.Logger, name string) *SimProvider {
	return &SimProvider{
		name:      name,
		logger:    logger.With("provider", name),
		inventory: make(map[string]domain.AvailableNumber),
		holds:     make(map[string]*simHold),
		byNumber:  make(map[string]string),
	}
}

func (p *SimProvider) Name() string { return p.name }

// AddNumbers seeds inventory. The provider name on each entry is overwritten
// with the simulator's own name.
func (p *SimProvider) AddNumbers(numbers ...domain.AvailableNumber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range numbers {
		n.ProviderName = p.name
		p.inventory[n.Number] = n
	}
}

// Fail makes every subsequent call return err until cleared with Fail(nil).
func (p *SimProvider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failErr = err
}

// SetLatency adds an artificial delay to every call.
func (p *SimProvider) SetLatency(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency = d
}

func (p *SimProvider) Search(ctx context.Context, criteria domain.SearchCriteria) ([]domain.AvailableNumber, error) {
	if err := p.simulate(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var out []domain.AvailableNumber
	for num, n := range p.inventory {
		if token, held := p.byNumber[num]; held {
			if h := p.holds[token]; h != nil && !h.released {
				continue
			}
		}
		if !matchesLocation(n, criteria) || !criteria.Matches(n) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	if limit := criteria.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}

	p.logger.DebugContext(ctx, "sim search served", "matches", len(out))
	return out, nil
}

func (p *SimProvider) Reserve(ctx context.Context, number, callerID string) (string, error) {
	if err := p.simulate(ctx); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.inventory[number]; !ok {
		return "", fmt.Errorf("number %s: %w", number, domain.ErrNotFound)
	}
	if token, held := p.byNumber[number]; held {
		if h := p.holds[token]; h != nil && !h.released {
			return "", fmt.Errorf("number %s: %w", number, domain.ErrAlreadyReserved)
		}
	}

	token := uuid.NewString()
	p.holds[token] = &simHold{number: number}
	p.byNumber[number] = token
	p.logger.DebugContext(ctx, "sim reserve placed", "number", number, "caller_id", callerID)
	return token, nil
}

func (p *SimProvider) Activate(ctx context.Context, token string) error {
	if err := p.simulate(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.holds[token]
	if !ok || h.released {
		return fmt.Errorf("reservation token: %w", domain.ErrNotFound)
	}
	h.activated = true
	return nil
}

func (p *SimProvider) Release(ctx context.Context, token string) error {
	if err := p.simulate(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.holds[token]
	if !ok || h.released {
		// Unknown or already released: retries must not error.
		return nil
	}
	h.released = true
	delete(p.byNumber, h.number)
	return nil
}

func (p *SimProvider) HealthCheck(ctx context.Context) error {
	return p.simulate(ctx)
}

// Reserved reports whether the simulator currently holds the number; used by
// tests to assert provider-side bookkeeping.
func (p *SimProvider) Reserved(number string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	token, ok := p.byNumber[number]
	if !ok {
		return false
	}
	h := p.holds[token]
	return h != nil && !h.released
}

// simulate applies injected latency and failure, honouring ctx cancellation.
func (p *SimProvider) simulate(ctx context.Context) error {
	p.mu.Lock()
	latency, failErr := p.latency, p.failErr
	p.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return fmt.Errorf("provider %s: %w: %v", p.name, domain.ErrProviderUnavailable, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("provider %s: %w: %v", p.name, domain.ErrProviderUnavailable, err)
	}
	if failErr != nil {
		return fmt.Errorf("provider %s: %w: %v", p.name, domain.ErrProviderUnavailable, failErr)
	}
	return nil
}

func matchesLocation(n domain.AvailableNumber, c domain.SearchCriteria) bool {
	if strings.TrimPrefix(c.CountryCode, "+") != n.CountryCode {
		return false
	}
	if c.AreaCode != "" && c.AreaCode != n.AreaCode {
		return false
	}
	if c.City != "" && !strings.EqualFold(c.City, n.City) {
		return false
	}
	return true
}
