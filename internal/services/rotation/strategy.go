package rotation

import (
	"context"

	"github.com/ternarybob/venator/internal/models"
)

// Strategy is a closed set of rotation behaviors selected once at run start.
// Each strategy decides, per task, whether the pool keeps its bound proxy and
// session or rotates to fresh ones.
type Strategy interface {
	Name() models.RotationPolicy

	// Acquire selects the (proxy, session) pair for the next task of the
	// pool. The binding is already locked by the controller, so strategies
	// read and write it freely.
	Acquire(ctx context.Context, b *binding, poolName string, spec models.AuthSpec) (*models.Proxy, *models.Session, error)

	// Observe feeds a release outcome into the binding so the next Acquire
	// can react. Called under the same per-pool lock.
	Observe(b *binding, proxyID string, outcome models.ProxyOutcome)
}

// binding is the per-pool rotation state. Bind and rebind decisions for one
// pool observe a total order because the controller holds the binding lock
// across each decision; two tasks never rotate the same pool on stale state.
type binding struct {
	lastProxyID string // proxy used by the immediately preceding task
	needRotate  bool   // set when a failure or rate limit demands a new proxy
}
