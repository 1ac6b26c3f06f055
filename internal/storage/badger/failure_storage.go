package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/venator/internal/interfaces"
	"github.com/ternarybob/venator/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// FailureStorage implements the append-only failure log on Badger.
type FailureStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewFailureStorage creates a new FailureStorage instance
func NewFailureStorage(db *BadgerDB, logger arbor.ILogger) interfaces.FailureStorage {
	return &FailureStorage{
		db:     db,
		logger: logger,
	}
}

// Append stores one failure record. Records are never updated afterwards.
func (s *FailureStorage) Append(ctx context.Context, record *models.FailureRecord) error {
	if err := s.db.Store().Insert(badgerhold.NextSequence(), record); err != nil {
		return fmt.Errorf("failed to append failure record: %w", err)
	}
	return nil
}

// ListByProxy returns the recorded failures attributed to one proxy,
// oldest first.
func (s *FailureStorage) ListByProxy(ctx context.Context, proxyID string) ([]models.FailureRecord, error) {
	var records []models.FailureRecord
	err := s.db.Store().Find(&records, badgerhold.Where("ProxyID").Eq(proxyID).SortBy("Timestamp"))
	if err != nil {
		return nil, fmt.Errorf("failed to list failure records: %w", err)
	}
	return records, nil
}

// PruneBefore deletes records older than the cutoff and returns the count.
func (s *FailureStorage) PruneBefore(ctx context.Context, cutoffUnixNano int64) (int, error) {
	var stale []models.FailureRecord
	err := s.db.Store().Find(&stale, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to scan failure records for pruning: %w", err)
	}

	pruned := 0
	for _, record := range stale {
		if record.Timestamp.UnixNano() >= cutoffUnixNano {
			continue
		}
		if err := s.db.Store().Delete(record.ID, &models.FailureRecord{}); err != nil {
			s.logger.Warn().Int64("id", int64(record.ID)).Err(err).Msg("Failed to prune failure record")
			continue
		}
		pruned++
	}

	if pruned > 0 {
		s.logger.Debug().Int("count", pruned).Msg("Pruned aged failure records")
	}
	return pruned, nil
}
