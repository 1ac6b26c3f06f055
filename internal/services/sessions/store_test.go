package sessions

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

	"github.com/ternarybob/venator/internal/models"
)

// memSessionStorage is an in-memory stand-in for the badger-backed storage.
type memSessionStorage struct {
	mu      sync.Mutex
	records map[string]*models.SessionRecord
	putErr  error
}

func newMemSessionStorage() *memSessionStorage {
	return &memSessionStorage{records: make(map[string]*models.SessionRecord)}
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
	if m.putErr != nil {
		return m.putErr
	}
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

// stubAuthenticator counts login flows and hands out sessions with a fresh
// cookie jar each time.
type stubAuthenticator struct {
	calls int32
	err   error
	delay time.Duration
	nowFn func() time.Time
}

func (a *stubAuthenticator) Authenticate(ctx context.Context, poolName string, spec models.AuthSpec) (*models.Session, error) {
	n := atomic.AddInt32(&a.calls, 1)
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if a.err != nil {
		return nil, a.err
	}
	now := time.Now()
	if a.nowFn != nil {
		now = a.nowFn()
	}
	return &models.Session{
		PoolName:   poolName,
		CookieJar:  []*network.Cookie{{Name: "li_at", Value: "jar", Expires: float64(n)}},
		AuthMode:   spec.Mode,
		CreatedAt:  now,
		LastUsedAt: now,
	}, nil
}

func cookieSpec() models.AuthSpec {
	return models.AuthSpec{Mode: models.AuthModeCookie, Cookie: "abcdefghijklmnopqrstuvwxyz"}
}

func TestGetOrCreate_AuthenticatesOnce(t *testing.T) {
	auth := &stubAuthenticator{}
	store := NewStore(newMemSessionStorage(), auth, arbor.NewLogger())

	first, err := store.GetOrCreate(context.Background(), "default", cookieSpec())
	require.NoError(t, err)

	second, err := store.GetOrCreate(context.Background(), "default", cookieSpec())
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&auth.calls))
	assert.Equal(t, first.CookieJar[0].Expires, second.CookieJar[0].Expires, "same jar must be reused")
}

func TestGetOrCreate_ReusesWithinInactivityWindow(t *testing.T) {
	auth := &stubAuthenticator{}
	store := NewStore(newMemSessionStorage(), auth, arbor.NewLogger())

	base := time.Now()
	auth.nowFn = func() time.Time { return base }
	store.nowFn = func() time.Time { return base }

	_, err := store.GetOrCreate(context.Background(), "default", cookieSpec())
	require.NoError(t, err)

	// One hour later the session is still inside its 24h window.
	store.nowFn = func() time.Time { return base.Add(time.Hour) }
	_, err = store.GetOrCreate(context.Background(), "default", cookieSpec())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&auth.calls))
}

func TestGetOrCreate_ExpiresAfterInactivity(t *testing.T) {
	auth := &stubAuthenticator{}
	store := NewStore(newMemSessionStorage(), auth, arbor.NewLogger())

	base := time.Now()
	auth.nowFn = func() time.Time { return base }
	store.nowFn = func() time.Time { return base }

	_, err := store.GetOrCreate(context.Background(), "default", cookieSpec())
	require.NoError(t, err)

	// Twenty-five hours of inactivity crosses the 24h expiry.
	store.nowFn = func() time.Time { return base.Add(25 * time.Hour) }
	auth.nowFn = store.nowFn
	_, err = store.GetOrCreate(context.Background(), "default", cookieSpec())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&auth.calls), "expired session must trigger re-authentication")
}

func TestGetOrCreate_TouchExtendsWindow(t *testing.T) {
	auth := &stubAuthenticator{}
	store := NewStore(newMemSessionStorage(), auth, arbor.NewLogger())

	base := time.Now()
	auth.nowFn = func() time.Time { return base }
	store.nowFn = func() time.Time { return base }

	_, err := store.GetOrCreate(context.Background(), "default", cookieSpec())
	require.NoError(t, err)

	// Used again at hour 23; expiry slides to hour 47.
	store.nowFn = func() time.Time { return base.Add(23 * time.Hour) }
	store.Touch(context.Background(), "default")

	store.nowFn = func() time.Time { return base.Add(46 * time.Hour) }
	_, err = store.GetOrCreate(context.Background(), "default", cookieSpec())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&auth.calls))
}

func TestGetOrCreate_RestoresFromStorage(t *testing.T) {
	storage := newMemSessionStorage()
	now := time.Now()
	storage.records["default"] = &models.SessionRecord{
		PoolName:   "default",
		CookieJar:  []*network.Cookie{{Name: "li_at", Value: "stored"}},
		AuthMode:   models.AuthModeCookie,
		CreatedAt:  now.Add(-time.Hour),
		LastUsedAt: now.Add(-time.Hour),
	}

	auth := &stubAuthenticator{}
	store := NewStore(storage, auth, arbor.NewLogger())

	session, err := store.GetOrCreate(context.Background(), "default", cookieSpec())
	require.NoError(t, err)
	assert.Equal(t, "stored", session.CookieJar[0].Value)
	assert.Equal(t, int32(0), atomic.LoadInt32(&auth.calls), "valid stored session must not re-authenticate")
}

func TestGetOrCreate_ExpiredStoredRecordDeleted(t *testing.T) {
	storage := newMemSessionStorage()
	storage.records["default"] = &models.SessionRecord{
		PoolName:   "default",
		CookieJar:  []*network.Cookie{{Name: "li_at", Value: "stale"}},
		AuthMode:   models.AuthModeCookie,
		LastUsedAt: time.Now().Add(-30 * time.Hour),
	}

	auth := &stubAuthenticator{}
	store := NewStore(storage, auth, arbor.NewLogger())

	session, err := store.GetOrCreate(context.Background(), "default", cookieSpec())
	require.NoError(t, err)
	assert.NotEqual(t, "stale", session.CookieJar[0].Value)
	assert.Equal(t, int32(1), atomic.LoadInt32(&auth.calls))
}

func TestGetOrCreate_SingleLoginUnderConcurrency(t *testing.T) {
	auth := &stubAuthenticator{delay: 20 * time.Millisecond}
	store := NewStore(newMemSessionStorage(), auth, arbor.NewLogger())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.GetOrCreate(context.Background(), "default", cookieSpec())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&auth.calls), "concurrent callers must share one login flow")
}

func TestGetOrCreate_IndependentPools(t *testing.T) {
	auth := &stubAuthenticator{}
	store := NewStore(newMemSessionStorage(), auth, arbor.NewLogger())

	_, err := store.GetOrCreate(context.Background(), "pool_a", cookieSpec())
	require.NoError(t, err)
	_, err = store.GetOrCreate(context.Background(), "pool_b", cookieSpec())
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&auth.calls))
}

func TestInvalidate_ForcesReauth(t *testing.T) {
	storage := newMemSessionStorage()
	auth := &stubAuthenticator{}
	store := NewStore(storage, auth, arbor.NewLogger())

	_, err := store.GetOrCreate(context.Background(), "default", cookieSpec())
	require.NoError(t, err)

	store.Invalidate(context.Background(), "default")
	_, ok := storage.records["default"]
	assert.False(t, ok, "invalidate must drop the durable record")

	_, err = store.GetOrCreate(context.Background(), "default", cookieSpec())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&auth.calls))
}

func TestGetOrCreate_PersistenceFailureIsNotFatal(t *testing.T) {
	storage := newMemSessionStorage()
	storage.putErr = assert.AnError

	store := NewStore(storage, &stubAuthenticator{}, arbor.NewLogger())

	session, err := store.GetOrCreate(context.Background(), "default", cookieSpec())
	require.NoError(t, err)
	assert.NotNil(t, session)
}

func TestBindProxy_Persisted(t *testing.T) {
	storage := newMemSessionStorage()
	store := NewStore(storage, &stubAuthenticator{}, arbor.NewLogger())

	_, err := store.GetOrCreate(context.Background(), "default", cookieSpec())
	require.NoError(t, err)

	store.BindProxy(context.Background(), "default", "proxy_2")

	record := storage.records["default"]
	require.NotNil(t, record)
	assert.Equal(t, "proxy_2", record.BoundProxyID)
}
