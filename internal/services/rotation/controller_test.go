package rotation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venator/internal/common"
	"github.com/ternarybob/venator/internal/models"
	"github.com/ternarybob/venator/internal/services/proxypool"
	"github.com/ternarybob/venator/internal/services/sessions"
)

type memSessionStorage struct {
	mu      sync.Mutex
	records map[string]*models.SessionRecord
}

func (m *memSessionStorage) GetRecord(ctx context.Context, poolName string) (*models.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[poolName]
	if !ok {
		return nil, models.ErrNoSession
	}
	copied := *record
	return &copied, nil
}

func (m *memSessionStorage) PutRecord(ctx context.Context, record *models.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *record
	m.records[record.PoolName] = &copied
	return nil
}

func (m *memSessionStorage) DeleteRecord(ctx context.Context, poolName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, poolName)
	return nil
}

type countingAuthenticator struct {
	calls int32
}

func (a *countingAuthenticator) Authenticate(ctx context.Context, poolName string, spec models.AuthSpec) (*models.Session, error) {
	n := atomic.AddInt32(&a.calls, 1)
	now := time.Now()
	return &models.Session{
		PoolName:   poolName,
		CookieJar:  []*network.Cookie{{Name: "li_at", Value: "jar", Expires: float64(n)}},
		AuthMode:   spec.Mode,
		CreatedAt:  now,
		LastUsedAt: now,
	}, nil
}

func newFixture(t *testing.T, policy models.RotationPolicy, proxyURLs ...string) (*Controller, *proxypool.Pool, *countingAuthenticator) {
	t.Helper()

	poolCfg := common.ProxyPoolConfig{
		HealthAlpha:         0.3,
		QuarantineThreshold: 3,
		QuarantineCooldown:  5 * time.Minute,
		RebindHealthFloor:   0.5,
	}
	pool, err := proxypool.New(models.ProxyConfiguration{ProxyURLs: proxyURLs}, poolCfg, 0, arbor.NewLogger())
	require.NoError(t, err)

	auth := &countingAuthenticator{}
	store := sessions.NewStore(&memSessionStorage{records: make(map[string]*models.SessionRecord)}, auth, arbor.NewLogger())

	ctrl, err := NewController(policy, pool, store, poolCfg, arbor.NewLogger())
	require.NoError(t, err)
	return ctrl, pool, auth
}

func spec() models.AuthSpec {
	return models.AuthSpec{Mode: models.AuthModeCookie, Cookie: "abcdefghijklmnopqrstuvwxyz"}
}

func TestNewController_UnknownPolicy(t *testing.T) {
	pool, err := proxypool.New(models.ProxyConfiguration{ProxyURLs: []string{"http://p1.example:8080"}}, common.ProxyPoolConfig{}, 0, arbor.NewLogger())
	require.NoError(t, err)
	store := sessions.NewStore(&memSessionStorage{records: make(map[string]*models.SessionRecord)}, &countingAuthenticator{}, arbor.NewLogger())

	_, err = NewController("SOMETIMES", pool, store, common.ProxyPoolConfig{}, arbor.NewLogger())
	assert.Error(t, err)
}

func TestRecommended_ReusesBoundProxyWhileHealthy(t *testing.T) {
	ctrl, _, auth := newFixture(t, models.RotationRecommended,
		"http://p1.example:8080", "http://p2.example:8080")
	ctx := context.Background()

	proxy1, _, err := ctrl.Acquire(ctx, "default", spec())
	require.NoError(t, err)
	ctrl.Release(ctx, "default", proxy1.ID, models.OutcomeSuccess)

	for i := 0; i < 5; i++ {
		proxy, _, err := ctrl.Acquire(ctx, "default", spec())
		require.NoError(t, err)
		assert.Equal(t, proxy1.ID, proxy.ID, "healthy bound proxy must be reused")
		ctrl.Release(ctx, "default", proxy.ID, models.OutcomeSuccess)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&auth.calls), "session survives across tasks")
}

func TestRecommended_RebindsBelowHealthFloor(t *testing.T) {
	ctrl, pool, _ := newFixture(t, models.RotationRecommended,
		"http://p1.example:8080", "http://p2.example:8080")
	ctx := context.Background()

	bound, _, err := ctrl.Acquire(ctx, "default", spec())
	require.NoError(t, err)
	ctrl.Release(ctx, "default", bound.ID, models.OutcomeSuccess)

	// Grind the bound proxy's health below the floor without tripping the
	// quarantine counter: pairs of failures with a success between pairs so
	// the consecutive counter never reaches three.
	for {
		pool.Release(bound.ID, models.OutcomeTransientFailure)
		pool.Release(bound.ID, models.OutcomeTransientFailure)
		p, ok := pool.Get(bound.ID)
		require.True(t, ok)
		if p.HealthScore < 0.5 {
			break
		}
		pool.Release(bound.ID, models.OutcomeSuccess)
	}

	proxy, _, err := ctrl.Acquire(ctx, "default", spec())
	require.NoError(t, err)
	assert.NotEqual(t, bound.ID, proxy.ID, "unhealthy bound proxy must be replaced")
}

func TestPerRequest_RotatesEveryTask(t *testing.T) {
	ctrl, _, auth := newFixture(t, models.RotationPerRequest,
		"http://p1.example:8080", "http://p2.example:8080", "http://p3.example:8080")
	ctx := context.Background()

	var previous string
	for i := 0; i < 6; i++ {
		proxy, _, err := ctrl.Acquire(ctx, "default", spec())
		require.NoError(t, err)
		if previous != "" {
			assert.NotEqual(t, previous, proxy.ID, "consecutive tasks must not share a proxy")
		}
		previous = proxy.ID
		ctrl.Release(ctx, "default", proxy.ID, models.OutcomeSuccess)
	}

	assert.Equal(t, int32(6), atomic.LoadInt32(&auth.calls), "each task gets a fresh session")
}

func TestPerRequest_SingleProxyPoolStillWorks(t *testing.T) {
	ctrl, _, _ := newFixture(t, models.RotationPerRequest, "http://p1.example:8080")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		proxy, _, err := ctrl.Acquire(ctx, "default", spec())
		require.NoError(t, err)
		assert.Equal(t, "proxy_1", proxy.ID)
		ctrl.Release(ctx, "default", proxy.ID, models.OutcomeSuccess)
	}
}

func TestUntilFailure_StableAcrossSuccesses(t *testing.T) {
	ctrl, _, auth := newFixture(t, models.RotationUntilFailure,
		"http://p1.example:8080", "http://p2.example:8080")
	ctx := context.Background()

	first, _, err := ctrl.Acquire(ctx, "default", spec())
	require.NoError(t, err)
	ctrl.Release(ctx, "default", first.ID, models.OutcomeSuccess)

	for i := 0; i < 5; i++ {
		proxy, _, err := ctrl.Acquire(ctx, "default", spec())
		require.NoError(t, err)
		assert.Equal(t, first.ID, proxy.ID)
		ctrl.Release(ctx, "default", proxy.ID, models.OutcomeSuccess)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&auth.calls))
}

func TestUntilFailure_RotatesAfterFailureKeepsSession(t *testing.T) {
	ctrl, _, auth := newFixture(t, models.RotationUntilFailure,
		"http://p1.example:8080", "http://p2.example:8080")
	ctx := context.Background()

	first, session1, err := ctrl.Acquire(ctx, "default", spec())
	require.NoError(t, err)
	ctrl.Release(ctx, "default", first.ID, models.OutcomeTransientFailure)

	second, session2, err := ctrl.Acquire(ctx, "default", spec())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "failure must rotate the proxy")
	assert.Equal(t, session1.CookieJar[0].Expires, session2.CookieJar[0].Expires, "cookie jar survives the rotation")
	assert.Equal(t, int32(1), atomic.LoadInt32(&auth.calls))
}

func TestForceRotate_NextAcquireAvoidsBoundProxy(t *testing.T) {
	ctrl, _, _ := newFixture(t, models.RotationRecommended,
		"http://p1.example:8080", "http://p2.example:8080")
	ctx := context.Background()

	bound, _, err := ctrl.Acquire(ctx, "default", spec())
	require.NoError(t, err)
	ctrl.Release(ctx, "default", bound.ID, models.OutcomeSuccess)

	ctrl.ForceRotate("default")

	proxy, _, err := ctrl.Acquire(ctx, "default", spec())
	require.NoError(t, err)
	assert.NotEqual(t, bound.ID, proxy.ID)
}
