package badger

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/venator/internal/interfaces"
	"github.com/ternarybob/venator/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SessionStorage implements the SessionStorage interface for Badger.
// Records are keyed by normalized pool name so "Lead-Gen" and "lead-gen"
// share one durable session.
type SessionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSessionStorage creates a new SessionStorage instance
func NewSessionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SessionStorage {
	return &SessionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SessionStorage) normalizeKey(poolName string) string {
	return strings.ToLower(strings.TrimSpace(poolName))
}

// GetRecord retrieves a session record by pool name. A missing record and a
// record that fails to decode both report models.ErrNoSession: a corrupt
// entry means re-authenticate, never abort the run.
func (s *SessionStorage) GetRecord(ctx context.Context, poolName string) (*models.SessionRecord, error) {
	key := s.normalizeKey(poolName)

	var record models.SessionRecord
	err := s.db.Store().Get(key, &record)
	if err == badgerhold.ErrNotFound {
		return nil, models.ErrNoSession
	}
	if err != nil {
		s.logger.Warn().
			Str("pool", key).
			Err(err).
			Msg("Session record unreadable, treating as absent")
		return nil, models.ErrNoSession
	}

	if record.PoolName == "" || len(record.CookieJar) == 0 {
		s.logger.Warn().Str("pool", key).Msg("Session record incomplete, treating as absent")
		return nil, models.ErrNoSession
	}

	return &record, nil
}

// PutRecord inserts or updates the session record for its pool name.
func (s *SessionStorage) PutRecord(ctx context.Context, record *models.SessionRecord) error {
	key := s.normalizeKey(record.PoolName)

	if err := s.db.Store().Upsert(key, record); err != nil {
		return fmt.Errorf("failed to persist session record: %w", err)
	}

	s.logger.Debug().
		Str("pool", key).
		Str("auth_mode", string(record.AuthMode)).
		Str("bound_proxy", record.BoundProxyID).
		Msg("Session record persisted")

	return nil
}

// DeleteRecord removes the record for a pool name. Deleting an absent record
// is not an error.
func (s *SessionStorage) DeleteRecord(ctx context.Context, poolName string) error {
	key := s.normalizeKey(poolName)

	err := s.db.Store().Delete(key, &models.SessionRecord{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete session record: %w", err)
	}
	return nil
}
