package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/venator/internal/interfaces"
	"github.com/ternarybob/venator/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

const progressKey = "run_progress"

// ResultStorage persists extracted records, task failures, and run progress.
type ResultStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewResultStorage creates a new ResultStorage instance
func NewResultStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ResultStorage {
	return &ResultStorage{
		db:     db,
		logger: logger,
	}
}

// SaveResult stores one extracted record.
func (s *ResultStorage) SaveResult(ctx context.Context, result *models.Result) error {
	if err := s.db.Store().Upsert(result.ID, result); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	s.logger.Debug().
		Str("result_id", result.ID).
		Str("type", string(result.Type)).
		Str("target", result.Target).
		Msg("Result persisted")

	return nil
}

// SaveFailure stores the structured failure for a task that will not be
// retried again.
func (s *ResultStorage) SaveFailure(ctx context.Context, failure *models.TaskFailure) error {
	if err := s.db.Store().Upsert(failure.TaskID, failure); err != nil {
		return fmt.Errorf("failed to save task failure: %w", err)
	}
	return nil
}

// SaveProgress overwrites the run progress record.
func (s *ResultStorage) SaveProgress(ctx context.Context, progress *models.RunProgress) error {
	if err := s.db.Store().Upsert(progressKey, progress); err != nil {
		return fmt.Errorf("failed to save run progress: %w", err)
	}
	return nil
}

// ListResults returns stored results, optionally filtered by task id.
func (s *ResultStorage) ListResults(ctx context.Context, taskIDs ...string) ([]models.Result, error) {
	var results []models.Result

	var query *badgerhold.Query
	if len(taskIDs) > 0 {
		keys := make([]interface{}, len(taskIDs))
		for i, id := range taskIDs {
			keys[i] = id
		}
		query = badgerhold.Where("TaskID").In(keys...)
	}

	if err := s.db.Store().Find(&results, query); err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	return results, nil
}
