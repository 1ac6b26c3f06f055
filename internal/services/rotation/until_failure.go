package rotation

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venator/internal/models"
	"github.com/ternarybob/venator/internal/services/proxypool"
	"github.com/ternarybob/venator/internal/services/sessions"
)

// untilFailureStrategy keeps the same proxy bound to the pool until a
// failure outcome occurs, then rotates to a new proxy while keeping the
// session's cookie jar if it is still valid.
type untilFailureStrategy struct {
	pool   *proxypool.Pool
	store  *sessions.Store
	logger arbor.ILogger
}

func (s *untilFailureStrategy) Name() models.RotationPolicy {
	return models.RotationUntilFailure
}

func (s *untilFailureStrategy) Acquire(ctx context.Context, b *binding, poolName string, spec models.AuthSpec) (*models.Proxy, *models.Session, error) {
	session, err := s.store.GetOrCreate(ctx, poolName, spec)
	if err != nil {
		return nil, nil, err
	}

	// Stable binding while no failure has been observed.
	if !b.needRotate && b.lastProxyID != "" {
		if proxy, err := s.acquireSpecific(b.lastProxyID); err == nil {
			return proxy, session, nil
		}
		// Bound proxy became unacquirable (quarantined); fall through.
	}

	excluding := map[string]bool{}
	if b.lastProxyID != "" && s.pool.Size() > 1 {
		excluding[b.lastProxyID] = true
	}

	proxy, err := s.pool.Acquire(excluding)
	if err != nil {
		return nil, nil, err
	}

	if b.needRotate {
		s.logger.Info().
			Str("pool", poolName).
			Str("old_proxy", b.lastProxyID).
			Str("new_proxy", proxy.ID).
			Msg("Rotated proxy after failure, keeping session")
		b.needRotate = false
	}

	return proxy, session, nil
}

func (s *untilFailureStrategy) acquireSpecific(proxyID string) (*models.Proxy, error) {
	excluding := make(map[string]bool)
	for _, p := range s.pool.Snapshot() {
		if p.ID != proxyID {
			excluding[p.ID] = true
		}
	}
	return s.pool.Acquire(excluding)
}

func (s *untilFailureStrategy) Observe(b *binding, proxyID string, outcome models.ProxyOutcome) {
	if outcome == models.OutcomeTransientFailure || outcome == models.OutcomeFatalFailure {
		b.needRotate = true
	}
}
