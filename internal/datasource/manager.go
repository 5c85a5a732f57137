package datasource

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/mwquant/trendscan/internal/types"
)

const (
	// rateLimitDeprioritize zeroes a provider's weight once exceeded.
	rateLimitDeprioritize = 1
	// rateLimitDisable disables a provider entirely once exceeded.
	rateLimitDisable = 3
)

// ProviderStats counts outcomes per provider since the last reset.
type ProviderStats struct {
	Success     int `json:"success"`
	Fail        int `json:"fail"`
	RateLimited int `json:"rate_limited"`
}

type managedProvider struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker
	limiter  *AdaptiveLimiter
	weight   int
	enabled  bool
	stats    ProviderStats
}

// LimiterConfig tunes one provider's adaptive pacing.
type LimiterConfig struct {
	MaxPerMinute    int
	InitialInterval time.Duration
}

// Manager tries providers in priority order, skipping any whose
// breaker is open, and downgrades providers that keep hitting rate
// limits. All methods are safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	providers []*managedProvider
	log       zerolog.Logger
}

// NewManager wraps each provider with a circuit breaker and an
// adaptive limiter. Providers are ordered by ascending priority.
func NewManager(log zerolog.Logger, limits map[string]LimiterConfig, providers ...Provider) *Manager {
	m := &Manager{log: log.With().Str("component", "datasource").Logger()}
	for _, p := range providers {
		lc, ok := limits[p.Name()]
		if !ok {
			lc = LimiterConfig{MaxPerMinute: 30, InitialInterval: 100 * time.Millisecond}
		}
		st := gobreaker.Settings{Name: p.Name()}
		st.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		}
		st.Timeout = 60 * time.Second
		m.providers = append(m.providers, &managedProvider{
			provider: p,
			breaker:  gobreaker.NewCircuitBreaker(st),
			limiter:  NewAdaptiveLimiter(lc.MaxPerMinute, lc.InitialInterval),
			weight:   p.Weight(),
			enabled:  true,
		})
	}
	sort.SliceStable(m.providers, func(i, j int) bool {
		return m.providers[i].provider.Priority() < m.providers[j].provider.Priority()
	})
	return m
}

// ordered returns the enabled providers to try, preferred first if
// named, then by priority with zero-weight providers pushed last.
func (m *Manager) ordered(preferred string) []*managedProvider {
	m.mu.Lock()
	defer m.mu.Unlock()

	var head, normal, tail []*managedProvider
	for _, mp := range m.providers {
		switch {
		case !mp.enabled:
		case mp.provider.Name() == preferred:
			head = append(head, mp)
		case mp.weight == 0:
			tail = append(tail, mp)
		default:
			normal = append(normal, mp)
		}
	}
	return append(append(head, normal...), tail...)
}

// Fetch returns bars from the first provider that produces data,
// trying them in priority order. All providers exhausted yields
// ErrDataUnavailable.
func (m *Manager) Fetch(ctx context.Context, symbol, period string, endDate time.Time) ([]types.PriceBar, error) {
	return m.FetchPreferred(ctx, "", symbol, period, endDate)
}

// FetchPreferred is Fetch with one provider tried first by name.
func (m *Manager) FetchPreferred(ctx context.Context, preferred, symbol, period string, endDate time.Time) ([]types.PriceBar, error) {
	for _, mp := range m.ordered(preferred) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := mp.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		out, err := mp.breaker.Execute(func() (interface{}, error) {
			return mp.provider.Fetch(ctx, symbol, period, endDate)
		})
		if err != nil {
			m.recordFailure(mp, symbol, err)
			continue
		}
		bars, _ := out.([]types.PriceBar)
		if len(bars) == 0 {
			m.recordFailure(mp, symbol, ErrDataUnavailable)
			continue
		}
		m.recordSuccess(mp)
		return bars, nil
	}
	return nil, ErrDataUnavailable
}

func (m *Manager) recordSuccess(mp *managedProvider) {
	mp.limiter.RecordSuccess()
	m.mu.Lock()
	mp.stats.Success++
	m.mu.Unlock()
}

func (m *Manager) recordFailure(mp *managedProvider, symbol string, err error) {
	name := mp.provider.Name()

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		m.log.Debug().Str("provider", name).Msg("breaker open, provider skipped")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if errors.Is(err, ErrRateLimited) {
		mp.stats.RateLimited++
		mp.limiter.RecordRateLimit()
		switch {
		case mp.stats.RateLimited > rateLimitDisable:
			mp.enabled = false
			m.log.Warn().Str("provider", name).Int("rate_limits", mp.stats.RateLimited).
				Msg("provider disabled after repeated rate limits")
		case mp.stats.RateLimited > rateLimitDeprioritize:
			mp.weight = 0
			m.log.Warn().Str("provider", name).Int("rate_limits", mp.stats.RateLimited).
				Msg("provider deprioritized after rate limits")
		}
		return
	}

	mp.stats.Fail++
	m.log.Debug().Str("provider", name).Str("symbol", symbol).Err(err).Msg("provider fetch failed")
}

// Stats snapshots per-provider counters.
func (m *Manager) Stats() map[string]ProviderStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]ProviderStats, len(m.providers))
	for _, mp := range m.providers {
		out[mp.provider.Name()] = mp.stats
	}
	return out
}

// ResetStats zeroes counters and re-enables every provider at its
// original weight.
func (m *Manager) ResetStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mp := range m.providers {
		mp.stats = ProviderStats{}
		mp.enabled = true
		mp.weight = mp.provider.Weight()
	}
}
