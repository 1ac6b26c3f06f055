package interfaces

import (
	"context"

	"github.com/ternarybob/venator/internal/models"
)

// SessionStorage persists session-pool records in the durable key-value
// store, keyed by pool name. Implementations must return models.ErrNoSession
// for missing or corrupt records rather than failing the run.
type SessionStorage interface {
	GetRecord(ctx context.Context, poolName string) (*models.SessionRecord, error)
	PutRecord(ctx context.Context, record *models.SessionRecord) error
	DeleteRecord(ctx context.Context, poolName string) error
}

// FailureStorage is the append-only log of failed attempts consumed by the
// health tracker. PruneBefore removes records older than the cutoff.
type FailureStorage interface {
	Append(ctx context.Context, record *models.FailureRecord) error
	ListByProxy(ctx context.Context, proxyID string) ([]models.FailureRecord, error)
	PruneBefore(ctx context.Context, cutoffUnixNano int64) (int, error)
}

// ResultStorage persists extracted records, structured task failures, and run
// progress.
type ResultStorage interface {
	SaveResult(ctx context.Context, result *models.Result) error
	SaveFailure(ctx context.Context, failure *models.TaskFailure) error
	SaveProgress(ctx context.Context, progress *models.RunProgress) error
	ListResults(ctx context.Context, taskIDs ...string) ([]models.Result, error)
}

// StorageManager aggregates the storage services backed by one database
// connection.
type StorageManager interface {
	SessionStorage() SessionStorage
	FailureStorage() FailureStorage
	ResultStorage() ResultStorage
	Close() error
}
