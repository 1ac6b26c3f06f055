package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venator/internal/interfaces"
)

// Service runs scheduled storage maintenance: failure records older than the
// retention window are pruned so the badger store does not grow without
// bound across runs.
type Service struct {
	failures  interfaces.FailureStorage
	retention time.Duration
	logger    arbor.ILogger

	mu      sync.Mutex
	cron    *cron.Cron
	cronID  cron.EntryID
	running bool
}

// NewService creates a sweeper over the failure storage.
func NewService(failures interfaces.FailureStorage, retention time.Duration, logger arbor.ILogger) *Service {
	return &Service{
		failures:  failures,
		retention: retention,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start schedules the sweep with the given cron expression.
func (s *Service) Start(cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper already running")
	}
	if cronExpr == "" {
		cronExpr = "0 * * * *" // Default: hourly
	}

	id, err := s.cron.AddFunc(cronExpr, s.sweep)
	if err != nil {
		return fmt.Errorf("failed to add sweep job: %w", err)
	}
	s.cronID = id

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("cron_expr", cronExpr).
		Dur("retention", s.retention).
		Msg("Sweeper started")

	return nil
}

// Stop halts the schedule. A sweep in flight finishes.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false

	s.logger.Info().Msg("Sweeper stopped")
}

// sweep prunes failure records older than the retention window.
func (s *Service) sweep() {
	cutoff := time.Now().Add(-s.retention)

	pruned, err := s.failures.PruneBefore(context.Background(), cutoff.UnixNano())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failure record prune failed")
		return
	}

	if pruned > 0 {
		s.logger.Info().
			Int("pruned", pruned).
			Str("cutoff", cutoff.Format(time.RFC3339)).
			Msg("Pruned old failure records")
	}
}
