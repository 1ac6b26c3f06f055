package orchestrator

import (
	"context"
	"sync"

	"github.com/ternarybob/venator/internal/models"
)

// Lease is a held (proxy, session) pair for one task. Every lease must be
// reported exactly once; Report is idempotent so a deferred call is safe
// alongside an explicit one.
type Lease struct {
	Proxy   *models.Proxy
	Session *models.Session

	poolName string
	svc      *Service
	once     sync.Once
}

// Report feeds the task outcome back into proxy health and session
// freshness. Subsequent calls are no-ops.
func (l *Lease) Report(ctx context.Context, outcome models.ProxyOutcome) {
	l.once.Do(func() {
		l.svc.rotation.Release(ctx, l.poolName, l.Proxy.ID, outcome)
	})
}
