package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venator/internal/interfaces"
	"github.com/ternarybob/venator/internal/models"
)

// Authenticator establishes a logged-in session. Implemented by the
// authentication manager; narrowed here so the store stays testable.
type Authenticator interface {
	Authenticate(ctx context.Context, poolName string, spec models.AuthSpec) (*models.Session, error)
}

// poolState serializes authentication per pool name. Concurrent getOrCreate
// calls for the same pool block on the same mutex, so at most one login flow
// runs per pool and the rest receive the freshly created session.
type poolState struct {
	mu      sync.Mutex
	session *models.Session
}

// Store owns the in-memory session cache and expiry logic. The storage
// collaborator owns durability; the store never assumes a record survives
// between runs.
type Store struct {
	mu            sync.Mutex
	pools         map[string]*poolState
	storage       interfaces.SessionStorage
	authenticator Authenticator
	logger        arbor.ILogger
	nowFn         func() time.Time
}

// NewStore creates a session store over the given durable storage.
func NewStore(storage interfaces.SessionStorage, authenticator Authenticator, logger arbor.ILogger) *Store {
	return &Store{
		pools:         make(map[string]*poolState),
		storage:       storage,
		authenticator: authenticator,
		logger:        logger,
		nowFn:         time.Now,
	}
}

func (s *Store) pool(poolName string) *poolState {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.pools[poolName]
	if !ok {
		ps = &poolState{}
		s.pools[poolName] = ps
	}
	return ps
}

// GetOrCreate returns an unexpired session for the pool, creating one
// through the authenticator when the cache and durable record both miss or
// are expired. The per-pool lock bounds how many login flows can be in
// flight: exactly one.
func (s *Store) GetOrCreate(ctx context.Context, poolName string, spec models.AuthSpec) (*models.Session, error) {
	ps := s.pool(poolName)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := s.nowFn()

	// In-memory cache first
	if ps.session != nil && !ps.session.Expired(now) {
		return cloneSession(ps.session), nil
	}
	if ps.session != nil {
		s.logger.Info().
			Str("pool", poolName).
			Str("expired_at", ps.session.ExpiresAt().Format(time.RFC3339)).
			Msg("Cached session expired, discarding")
		ps.session = nil
	}

	// Durable record next
	record, err := s.storage.GetRecord(ctx, poolName)
	if err == nil {
		session := record.ToSession()
		if !session.Expired(now) {
			ps.session = session
			s.logger.Info().
				Str("pool", poolName).
				Str("auth_mode", string(session.AuthMode)).
				Msg("Session restored from storage")
			return cloneSession(session), nil
		}
		s.logger.Info().Str("pool", poolName).Msg("Stored session expired, re-authenticating")
		if err := s.storage.DeleteRecord(ctx, poolName); err != nil {
			s.logger.Warn().Str("pool", poolName).Err(err).Msg("Failed to delete expired session record")
		}
	} else if !errors.Is(err, models.ErrNoSession) {
		return nil, err
	}

	// Create fresh
	session, err := s.authenticator.Authenticate(ctx, poolName, spec)
	if err != nil {
		return nil, err
	}

	ps.session = session
	if err := s.persist(ctx, session); err != nil {
		// The session works even if persistence is degraded; the next run
		// will just authenticate again.
		s.logger.Warn().Str("pool", poolName).Err(err).Msg("Failed to persist new session")
	}

	s.logger.Info().
		Str("pool", poolName).
		Str("auth_mode", string(session.AuthMode)).
		Msg("New session created")

	return cloneSession(session), nil
}

// Touch refreshes the session's inactivity window after a successful use and
// persists the updated record.
func (s *Store) Touch(ctx context.Context, poolName string) {
	ps := s.pool(poolName)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.session == nil {
		return
	}
	ps.session.Touch(s.nowFn())
	if err := s.persist(ctx, ps.session); err != nil {
		s.logger.Warn().Str("pool", poolName).Err(err).Msg("Failed to persist session touch")
	}
}

// BindProxy records which proxy the pool's session is bound to.
func (s *Store) BindProxy(ctx context.Context, poolName, proxyID string) {
	ps := s.pool(poolName)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.session == nil || ps.session.BoundProxyID == proxyID {
		return
	}
	ps.session.BoundProxyID = proxyID
	if err := s.persist(ctx, ps.session); err != nil {
		s.logger.Warn().Str("pool", poolName).Err(err).Msg("Failed to persist proxy binding")
	}
}

// Invalidate drops the cached and stored session so the next GetOrCreate
// re-authenticates. Used when the remote site rejects the session.
func (s *Store) Invalidate(ctx context.Context, poolName string) {
	ps := s.pool(poolName)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.session = nil
	if err := s.storage.DeleteRecord(ctx, poolName); err != nil {
		s.logger.Warn().Str("pool", poolName).Err(err).Msg("Failed to delete session record on invalidate")
	}

	s.logger.Info().Str("pool", poolName).Msg("Session invalidated, next acquire re-authenticates")
}

func (s *Store) persist(ctx context.Context, session *models.Session) error {
	return s.storage.PutRecord(ctx, session.ToRecord())
}

func cloneSession(session *models.Session) *models.Session {
	clone := *session
	return &clone
}
