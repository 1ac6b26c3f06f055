package rotation

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venator/internal/models"
	"github.com/ternarybob/venator/internal/services/proxypool"
	"github.com/ternarybob/venator/internal/services/sessions"
)

// perRequestStrategy acquires a fresh proxy for every task, excluding the
// one the immediately preceding task used, and forces a new authenticated
// session each time.
type perRequestStrategy struct {
	pool   *proxypool.Pool
	store  *sessions.Store
	logger arbor.ILogger
}

func (s *perRequestStrategy) Name() models.RotationPolicy {
	return models.RotationPerRequest
}

func (s *perRequestStrategy) Acquire(ctx context.Context, b *binding, poolName string, spec models.AuthSpec) (*models.Proxy, *models.Session, error) {
	var excluding map[string]bool
	if b.lastProxyID != "" && s.pool.Size() > 1 {
		excluding = map[string]bool{b.lastProxyID: true}
	}

	proxy, err := s.pool.Acquire(excluding)
	if err != nil {
		return nil, nil, err
	}
	b.needRotate = false

	// A fresh browser session per task: drop whatever exists and
	// re-authenticate.
	s.store.Invalidate(ctx, poolName)
	session, err := s.store.GetOrCreate(ctx, poolName, spec)
	if err != nil {
		return nil, nil, err
	}

	return proxy, session, nil
}

func (s *perRequestStrategy) Observe(b *binding, proxyID string, outcome models.ProxyOutcome) {
	// Every task rotates regardless of outcome.
}
