package rotation

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venator/internal/models"
	"github.com/ternarybob/venator/internal/services/proxypool"
	"github.com/ternarybob/venator/internal/services/sessions"
)

// recommendedStrategy reuses the session's bound proxy while it stays
// healthy, and rebinds to the pool's best proxy once health drops below the
// floor.
type recommendedStrategy struct {
	pool        *proxypool.Pool
	store       *sessions.Store
	healthFloor float64
	logger      arbor.ILogger
}

func (s *recommendedStrategy) Name() models.RotationPolicy {
	return models.RotationRecommended
}

func (s *recommendedStrategy) Acquire(ctx context.Context, b *binding, poolName string, spec models.AuthSpec) (*models.Proxy, *models.Session, error) {
	session, err := s.store.GetOrCreate(ctx, poolName, spec)
	if err != nil {
		return nil, nil, err
	}

	// Reuse the bound proxy only while it is healthy and acquirable; the
	// quarantine filter lives in the pool's acquire path.
	if session.BoundProxyID != "" && !b.needRotate {
		if bound, ok := s.pool.Get(session.BoundProxyID); ok && bound.HealthScore >= s.healthFloor {
			if proxy, err := s.acquireSpecific(bound.ID); err == nil {
				return proxy, session, nil
			}
		}
		s.logger.Debug().
			Str("pool", poolName).
			Str("bound_proxy", session.BoundProxyID).
			Msg("Bound proxy unhealthy, rebinding")
	}

	var excluding map[string]bool
	if b.needRotate && b.lastProxyID != "" && s.pool.Size() > 1 {
		excluding = map[string]bool{b.lastProxyID: true}
	}

	proxy, err := s.pool.Acquire(excluding)
	if err != nil {
		return nil, nil, err
	}
	b.needRotate = false
	return proxy, session, nil
}

// acquireSpecific acquires the bound proxy by excluding everything else.
func (s *recommendedStrategy) acquireSpecific(proxyID string) (*models.Proxy, error) {
	excluding := make(map[string]bool)
	for _, p := range s.pool.Snapshot() {
		if p.ID != proxyID {
			excluding[p.ID] = true
		}
	}
	return s.pool.Acquire(excluding)
}

func (s *recommendedStrategy) Observe(b *binding, proxyID string, outcome models.ProxyOutcome) {
	// Health decay alone drives rebinding; nothing to track per task.
}
