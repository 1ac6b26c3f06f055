package proxypool

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/venator/internal/common"
	"github.com/ternarybob/venator/internal/models"
)

// entry pairs a proxy with its per-proxy mutation lock and politeness
// limiter. Health updates serialize per proxy; acquisition serializes
// pool-wide so two callers never pick the same best proxy under pressure.
type entry struct {
	mu      sync.Mutex
	proxy   models.Proxy
	limiter *rate.Limiter
}

// Pool owns the set of available proxies, their health scores, and
// quarantine state.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string // stable iteration order for deterministic tie-breaks
	cfg     common.ProxyPoolConfig
	logger  arbor.ILogger
	nowFn   func() time.Time
}

// New builds the pool from the run configuration. Static proxy URLs become
// one proxy each; managed mode synthesizes one gateway endpoint per
// configured group. An empty pool is valid to construct; acquire reports
// exhaustion.
func New(proxyCfg models.ProxyConfiguration, poolCfg common.ProxyPoolConfig, minSpacing time.Duration, logger arbor.ILogger) (*Pool, error) {
	p := &Pool{
		entries: make(map[string]*entry),
		cfg:     poolCfg,
		logger:  logger,
		nowFn:   time.Now,
	}

	if proxyCfg.UseManagedProxy {
		for _, group := range proxyCfg.ProxyGroups {
			raw := managedGatewayURL(group, proxyCfg.Country)
			p.add(managedProxyID(group, proxyCfg.Country), raw, group, proxyCfg.Country, minSpacing)
		}
	} else {
		for i, raw := range proxyCfg.ProxyURLs {
			if err := models.ValidateProxyURL(raw); err != nil {
				return nil, err
			}
			group := models.ProxyGroupDatacenter
			if len(proxyCfg.ProxyGroups) > 0 {
				group = proxyCfg.ProxyGroups[0]
			}
			p.add(fmt.Sprintf("proxy_%d", i+1), raw, group, proxyCfg.Country, minSpacing)
		}
	}

	logger.Info().
		Int("proxies", len(p.entries)).
		Bool("managed", proxyCfg.UseManagedProxy).
		Msg("Proxy pool initialized")

	return p, nil
}

func (p *Pool) add(id, rawURL string, group models.ProxyGroup, country string, minSpacing time.Duration) {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if minSpacing > 0 {
		limiter = rate.NewLimiter(rate.Every(minSpacing), 1)
	}

	p.entries[id] = &entry{
		proxy: models.Proxy{
			ID:          id,
			URL:         rawURL,
			Group:       group,
			Country:     country,
			HealthScore: 1.0, // new proxies start fully trusted
		},
		limiter: limiter,
	}
	p.order = append(p.order, id)
}

// Acquire returns a copy of the healthiest non-quarantined proxy outside the
// excluded set. Ties on health break toward the least recently used proxy.
// Returns models.ErrPoolExhausted when nothing is acquirable; the caller
// decides what that means for the run, the pool never retries internally.
func (p *Pool) Acquire(excluding map[string]bool) (*models.Proxy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.nowFn()
	var best *entry

	for _, id := range p.order {
		e := p.entries[id]
		if excluding[id] {
			continue
		}

		e.mu.Lock()
		candidate := e.proxy
		e.mu.Unlock()

		if candidate.Quarantined(now) {
			continue
		}

		if best == nil {
			best = e
			continue
		}

		best.mu.Lock()
		current := best.proxy
		best.mu.Unlock()

		if candidate.HealthScore > current.HealthScore ||
			(candidate.HealthScore == current.HealthScore && candidate.LastUsedAt.Before(current.LastUsedAt)) {
			best = e
		}
	}

	if best == nil {
		return nil, models.ErrPoolExhausted
	}

	best.mu.Lock()
	best.proxy.LastUsedAt = now
	selected := best.proxy
	best.mu.Unlock()

	p.logger.Debug().
		Str("proxy_id", selected.ID).
		Float64("health", selected.HealthScore).
		Msg("Proxy acquired")

	return &selected, nil
}

// Release reports the outcome of a lease back to the pool and updates the
// proxy's health via exponential moving average. On fatal outcomes the proxy
// is quarantined immediately regardless of its failure counter.
func (p *Pool) Release(proxyID string, outcome models.ProxyOutcome) {
	p.mu.Lock()
	e, ok := p.entries[proxyID]
	p.mu.Unlock()
	if !ok {
		p.logger.Warn().Str("proxy_id", proxyID).Msg("Release for unknown proxy ignored")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := p.nowFn()
	alpha := p.cfg.HealthAlpha

	score := alpha*outcome.Value() + (1-alpha)*e.proxy.HealthScore
	if score > 1.0 {
		score = 1.0
	}
	if score < 0.0 {
		score = 0.0
	}
	e.proxy.HealthScore = score

	switch outcome {
	case models.OutcomeSuccess:
		e.proxy.ConsecutiveFailures = 0
	case models.OutcomeTransientFailure:
		e.proxy.ConsecutiveFailures++
		if e.proxy.ConsecutiveFailures >= p.cfg.QuarantineThreshold {
			e.proxy.QuarantinedUntil = now.Add(p.cfg.QuarantineCooldown)
			p.logger.Warn().
				Str("proxy_id", proxyID).
				Int("consecutive_failures", e.proxy.ConsecutiveFailures).
				Str("until", e.proxy.QuarantinedUntil.Format(time.RFC3339)).
				Msg("Proxy quarantined after repeated failures")
		}
	case models.OutcomeFatalFailure:
		e.proxy.QuarantinedUntil = now.Add(p.cfg.QuarantineCooldown)
		p.logger.Warn().
			Str("proxy_id", proxyID).
			Str("until", e.proxy.QuarantinedUntil.Format(time.RFC3339)).
			Msg("Proxy quarantined after fatal failure")
	}

	p.logger.Debug().
		Str("proxy_id", proxyID).
		Str("outcome", string(outcome)).
		Float64("health", e.proxy.HealthScore).
		Msg("Proxy released")
}

// Get returns a copy of the proxy with the given id.
func (p *Pool) Get(proxyID string) (*models.Proxy, bool) {
	p.mu.Lock()
	e, ok := p.entries[proxyID]
	p.mu.Unlock()
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	proxy := e.proxy
	e.mu.Unlock()
	return &proxy, true
}

// WaitTurn blocks until the per-proxy minimum request spacing allows another
// request through, or the context is cancelled.
func (p *Pool) WaitTurn(ctx context.Context, proxyID string) error {
	p.mu.Lock()
	e, ok := p.entries[proxyID]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return e.limiter.Wait(ctx)
}

// Snapshot returns copies of all proxies, in insertion order.
func (p *Pool) Snapshot() []models.Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.Proxy, 0, len(p.order))
	for _, id := range p.order {
		e := p.entries[id]
		e.mu.Lock()
		out = append(out, e.proxy)
		e.mu.Unlock()
	}
	return out
}

// Size returns the number of configured proxies.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// managedGatewayURL builds a username-routed gateway URL for a managed proxy
// group, following the provider convention of encoding group and country in
// the credential.
func managedGatewayURL(group models.ProxyGroup, country string) string {
	user := "group-" + strings.ToLower(string(group))
	if country != "" {
		user += "-country-" + strings.ToLower(country)
	}
	u := url.URL{
		Scheme: "http",
		User:   url.User(user),
		Host:   "gateway.proxy.internal:8000",
	}
	return u.String()
}

func managedProxyID(group models.ProxyGroup, country string) string {
	id := "managed_" + strings.ToLower(string(group))
	if country != "" {
		id += "_" + strings.ToLower(country)
	}
	return id
}
