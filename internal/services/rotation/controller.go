package rotation

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venator/internal/common"
	"github.com/ternarybob/venator/internal/models"
	"github.com/ternarybob/venator/internal/services/proxypool"
	"github.com/ternarybob/venator/internal/services/sessions"
)

// Controller implements the rotation strategies on top of the proxy pool and
// session store. One controller serves all pools; state is per pool name.
type Controller struct {
	pool     *proxypool.Pool
	store    *sessions.Store
	strategy Strategy
	logger   arbor.ILogger

	mu       sync.Mutex
	bindings map[string]*lockedBinding
}

type lockedBinding struct {
	mu sync.Mutex
	b  binding
}

// NewController creates a controller with the strategy for the configured
// policy. The policy is immutable for the run.
func NewController(policy models.RotationPolicy, pool *proxypool.Pool, store *sessions.Store, poolCfg common.ProxyPoolConfig, logger arbor.ILogger) (*Controller, error) {
	c := &Controller{
		pool:     pool,
		store:    store,
		logger:   logger,
		bindings: make(map[string]*lockedBinding),
	}

	switch policy {
	case models.RotationRecommended:
		c.strategy = &recommendedStrategy{pool: pool, store: store, healthFloor: poolCfg.RebindHealthFloor, logger: logger}
	case models.RotationPerRequest:
		c.strategy = &perRequestStrategy{pool: pool, store: store, logger: logger}
	case models.RotationUntilFailure:
		c.strategy = &untilFailureStrategy{pool: pool, store: store, logger: logger}
	default:
		return nil, fmt.Errorf("unknown rotation policy: %s", policy)
	}

	logger.Info().Str("policy", string(policy)).Msg("Rotation controller initialized")
	return c, nil
}

// Policy returns the active rotation policy.
func (c *Controller) Policy() models.RotationPolicy {
	return c.strategy.Name()
}

func (c *Controller) binding(poolName string) *lockedBinding {
	c.mu.Lock()
	defer c.mu.Unlock()

	lb, ok := c.bindings[poolName]
	if !ok {
		lb = &lockedBinding{}
		c.bindings[poolName] = lb
	}
	return lb
}

// Acquire selects the proxy and session for the next task of the pool,
// according to the active strategy. Per-pool serialization happens here.
func (c *Controller) Acquire(ctx context.Context, poolName string, spec models.AuthSpec) (*models.Proxy, *models.Session, error) {
	lb := c.binding(poolName)

	lb.mu.Lock()
	defer lb.mu.Unlock()

	proxy, session, err := c.strategy.Acquire(ctx, &lb.b, poolName, spec)
	if err != nil {
		return nil, nil, err
	}

	lb.b.lastProxyID = proxy.ID
	c.store.BindProxy(ctx, poolName, proxy.ID)

	return proxy, session, nil
}

// Release reports the task outcome: the proxy's health is updated, the
// session's inactivity window refreshed on success, and the strategy's
// binding state adjusted so the next Acquire can rebind if needed.
func (c *Controller) Release(ctx context.Context, poolName, proxyID string, outcome models.ProxyOutcome) {
	c.pool.Release(proxyID, outcome)

	if outcome == models.OutcomeSuccess {
		c.store.Touch(ctx, poolName)
	}

	lb := c.binding(poolName)
	lb.mu.Lock()
	c.strategy.Observe(&lb.b, proxyID, outcome)
	lb.mu.Unlock()
}

// ForceRotate marks the pool's binding so the next Acquire picks a different
// proxy regardless of strategy. Used after a rate limit, which is tied to the
// proxy's IP rather than the session.
func (c *Controller) ForceRotate(poolName string) {
	lb := c.binding(poolName)
	lb.mu.Lock()
	lb.b.needRotate = true
	lb.mu.Unlock()

	c.logger.Debug().Str("pool", poolName).Msg("Forcing proxy rotation for pool")
}

// Invalidate drops the pool's session, forcing re-authentication on the next
// Acquire. Used when the site logged the session out.
func (c *Controller) Invalidate(ctx context.Context, poolName string) {
	c.store.Invalidate(ctx, poolName)
}
