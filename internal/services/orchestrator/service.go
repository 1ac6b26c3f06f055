package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venator/internal/common"
	"github.com/ternarybob/venator/internal/interfaces"
	"github.com/ternarybob/venator/internal/models"
	"github.com/ternarybob/venator/internal/queue"
	"github.com/ternarybob/venator/internal/services/proxypool"
	"github.com/ternarybob/venator/internal/services/retry"
	"github.com/ternarybob/venator/internal/services/rotation"
)

const jobSearchURL = "https://www.linkedin.com/jobs/search/"

// Service is the run facade: it expands the input document into tasks,
// drives the worker loop over the queue, and pairs every issued lease with
// exactly one outcome report.
type Service struct {
	tasks     *queue.TaskQueue
	pool      *proxypool.Pool
	rotation  *rotation.Controller
	retry     *retry.Controller
	browser   interfaces.BrowserAutomation
	extractor interfaces.Extractor
	results   interfaces.ResultStorage
	failures  interfaces.FailureStorage
	delayer   *Delayer
	authSpec  models.AuthSpec
	workers   common.WorkersConfig
	poolName  string
	logger    arbor.ILogger

	progressMu sync.Mutex
	progress   models.RunProgress

	// Completion is scoped to the run's own task IDs. The durable queue can
	// hold tasks left behind by an earlier cancelled run; those are adopted
	// into the set at run start so a worker picking one up settles it here
	// rather than mis-settling a counter sized to this run's input.
	runMu   sync.Mutex
	pending map[string]bool
	runDone chan struct{}
}

// Deps collects the collaborators the orchestrator wires together.
type Deps struct {
	Tasks     *queue.TaskQueue
	Pool      *proxypool.Pool
	Rotation  *rotation.Controller
	Retry     *retry.Controller
	Browser   interfaces.BrowserAutomation
	Extractor interfaces.Extractor
	Results   interfaces.ResultStorage
	Failures  interfaces.FailureStorage
	Delayer   *Delayer
	AuthSpec  models.AuthSpec
	Workers   common.WorkersConfig
	PoolName  string
	Logger    arbor.ILogger
}

// NewService creates the orchestration service.
func NewService(deps Deps) *Service {
	if deps.Workers.Concurrency <= 0 {
		deps.Workers.Concurrency = 1
	}
	if deps.Workers.PollInterval <= 0 {
		deps.Workers.PollInterval = 500 * time.Millisecond
	}

	s := &Service{
		tasks:     deps.Tasks,
		pool:      deps.Pool,
		rotation:  deps.Rotation,
		retry:     deps.Retry,
		browser:   deps.Browser,
		extractor: deps.Extractor,
		results:   deps.Results,
		failures:  deps.Failures,
		delayer:   deps.Delayer,
		authSpec:  deps.AuthSpec,
		workers:   deps.Workers,
		poolName:  deps.PoolName,
		logger:    deps.Logger,
	}
	s.tasks.SetDropHandler(s.taskDropped)
	return s
}

// Acquire leases a (proxy, session) pair for the task according to the
// active rotation strategy, then waits out the proxy's request spacing. The
// caller must Report the lease exactly once.
func (s *Service) Acquire(ctx context.Context, task *models.Task) (*Lease, error) {
	acquireCtx := ctx
	if s.workers.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, s.workers.AcquireTimeout)
		defer cancel()
	}

	proxy, session, err := s.rotation.Acquire(acquireCtx, task.SessionPoolName, s.authSpec)
	if err != nil {
		return nil, err
	}

	if err := s.pool.WaitTurn(ctx, proxy.ID); err != nil {
		// Shutdown while pacing. No request went out, so the lease is
		// discarded without a health report in either direction.
		return nil, err
	}

	return &Lease{
		Proxy:    proxy,
		Session:  session,
		poolName: task.SessionPoolName,
		svc:      s,
	}, nil
}

// Run executes the input document to completion: expand, enqueue, work,
// summarize. Cancelling the context stops new acquisitions; tasks already in
// flight finish and report their outcomes before Run returns.
func (s *Service) Run(ctx context.Context, input *models.TaskInput) (*models.RunProgress, error) {
	tasks, err := s.expandInput(input)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, errors.New("input produced no tasks")
	}

	runID := common.NewRunID()

	// Adopt tasks a previous run left in the queue, so their completion is
	// tracked alongside this run's instead of corrupting its accounting.
	leftover, err := s.tasks.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect task queue: %w", err)
	}

	pending := make(map[string]bool, len(leftover)+len(tasks))
	for _, lt := range leftover {
		pending[lt.ID] = true
	}
	if len(leftover) > 0 {
		s.logger.Info().
			Str("run_id", runID).
			Int("tasks", len(leftover)).
			Msg("Adopting tasks left from a previous run")
	}

	for _, task := range tasks {
		if err := s.tasks.Enqueue(ctx, task); err != nil {
			return nil, fmt.Errorf("failed to enqueue task %s: %w", task.ID, err)
		}
		pending[task.ID] = true
	}

	done := make(chan struct{})
	s.runMu.Lock()
	s.pending = pending
	s.runDone = done
	s.runMu.Unlock()

	s.progressMu.Lock()
	s.progress = models.RunProgress{
		RunID:      runID,
		ScrapeType: input.ScrapeType,
		Total:      len(pending),
		Status:     "running",
		UpdatedAt:  time.Now(),
	}
	s.progressMu.Unlock()

	s.logger.Info().
		Str("run_id", runID).
		Str("type", string(input.ScrapeType)).
		Int("tasks", len(pending)).
		Int("workers", s.workers.Concurrency).
		Msg("Run started")

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for i := 0; i < s.workers.Concurrency; i++ {
		wg.Add(1)
		id := i
		common.SafeGo(s.logger, fmt.Sprintf("worker-%d", id), func() {
			defer wg.Done()
			s.worker(workerCtx, id)
		})
	}

	// done closes once every tracked task has reached a terminal state.
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Str("run_id", runID).Msg("Run cancelled, draining in-flight tasks")
	}
	cancelWorkers()
	wg.Wait()

	s.progressMu.Lock()
	if ctx.Err() != nil {
		s.progress.Status = "cancelled"
	} else {
		s.progress.Status = "completed"
	}
	s.progress.UpdatedAt = time.Now()
	final := s.progress
	s.progressMu.Unlock()

	s.saveProgress(context.Background())

	s.logger.Info().
		Str("run_id", runID).
		Int("completed", final.Completed).
		Int("failed", final.Failed).
		Str("status", final.Status).
		Msg("Run finished")

	return &final, nil
}

// worker polls the queue and processes tasks until the context ends.
func (s *Service) worker(ctx context.Context, workerID int) {
	// Stagger worker starts so they do not contend on the same head task.
	stagger := (s.workers.PollInterval / time.Duration(s.workers.Concurrency)) * time.Duration(workerID)
	select {
	case <-ctx.Done():
		return
	case <-time.After(stagger):
	}

	ticker := time.NewTicker(s.workers.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task, doneFn, err := s.tasks.Receive(ctx)
			if err != nil {
				if !errors.Is(err, queue.ErrNoTask) && ctx.Err() == nil {
					s.logger.Warn().Int("worker_id", workerID).Err(err).Msg("Failed to receive task")
				}
				continue
			}
			s.processTask(ctx, workerID, task, doneFn)
		}
	}
}

// processTask runs one task attempt end to end. Terminal outcomes (success,
// fatal failure, exhausted retries) delete the task and settle the run
// counter; retryable outcomes requeue with backoff.
func (s *Service) processTask(ctx context.Context, workerID int, task *models.Task, doneFn func() error) {
	if err := s.delayer.Wait(ctx); err != nil {
		// Shutdown while pacing. The task stays queued and redelivers.
		return
	}

	lease, err := s.Acquire(ctx, task)
	if err != nil {
		s.handleAcquireFailure(ctx, task, err, doneFn)
		return
	}

	html, err := s.browser.FetchPage(ctx, lease.Proxy, lease.Session, task.Target)
	if err != nil {
		if errors.Is(err, models.ErrSessionExpired) {
			// The site logged the session out. Not the proxy's fault and not
			// the task's: re-authenticate and redeliver without burning an
			// attempt.
			lease.Report(ctx, models.OutcomeSuccess)
			s.rotation.Invalidate(ctx, task.SessionPoolName)
			s.requeue(ctx, task, task.Attempt, time.Second, doneFn)
			s.logger.Info().
				Str("task_id", task.ID).
				Str("pool", task.SessionPoolName).
				Msg("Session invalidated by site, re-authenticating")
			return
		}
		s.handleTaskFailure(ctx, task, lease, err, doneFn)
		return
	}

	result, err := s.extractor.Extract(ctx, task, html)
	if err != nil {
		s.handleCollateralFailure(ctx, task, lease, err, doneFn)
		return
	}

	if err := s.results.SaveResult(ctx, result); err != nil {
		s.handleCollateralFailure(ctx, task, lease, err, doneFn)
		return
	}

	lease.Report(ctx, models.OutcomeSuccess)
	s.settle(ctx, task, doneFn, true)

	s.logger.Info().
		Int("worker_id", workerID).
		Str("task_id", task.ID).
		Str("type", string(task.ScrapeType)).
		Int("attempt", task.Attempt+1).
		Msg("Task completed")
}

// handleAcquireFailure settles or retries a task that never obtained a
// lease. Pool exhaustion and authentication failures are terminal; other
// acquisition errors retry with backoff.
func (s *Service) handleAcquireFailure(ctx context.Context, task *models.Task, err error, doneFn func() error) {
	if ctx.Err() != nil {
		// Shutdown race. The task stays queued for the next run.
		return
	}

	decision := s.retry.Decide(task.Attempt, err)
	s.appendFailure(ctx, task, "", decision.Kind)

	if decision.Retry {
		s.requeue(ctx, task, task.Attempt+1, decision.Delay, doneFn)
		return
	}

	s.recordTerminalFailure(ctx, task, err)
	s.settle(ctx, task, doneFn, false)
}

// handleTaskFailure reports the lease outcome, then retries or settles per
// the retry decision.
func (s *Service) handleTaskFailure(ctx context.Context, task *models.Task, lease *Lease, err error, doneFn func() error) {
	decision := s.retry.Decide(task.Attempt, err)
	s.appendFailure(ctx, task, lease.Proxy.ID, decision.Kind)

	switch decision.Kind {
	case models.FailureFatal:
		lease.Report(ctx, models.OutcomeFatalFailure)
	default:
		lease.Report(ctx, models.OutcomeTransientFailure)
	}

	if decision.RotateProxy {
		s.rotation.ForceRotate(task.SessionPoolName)
	}

	if decision.Retry {
		s.requeue(ctx, task, task.Attempt+1, decision.Delay, doneFn)
		return
	}

	s.recordTerminalFailure(ctx, task, err)
	s.settle(ctx, task, doneFn, false)
}

// handleCollateralFailure settles or retries a task whose fetch succeeded but
// whose extraction or persistence step failed. The proxy and session did
// their job, so the lease reports success and no rotation is forced.
func (s *Service) handleCollateralFailure(ctx context.Context, task *models.Task, lease *Lease, err error, doneFn func() error) {
	lease.Report(ctx, models.OutcomeSuccess)

	decision := s.retry.Decide(task.Attempt, err)
	s.appendFailure(ctx, task, "", decision.Kind)

	if decision.Retry {
		s.requeue(ctx, task, task.Attempt+1, decision.Delay, doneFn)
		return
	}

	s.recordTerminalFailure(ctx, task, err)
	s.settle(ctx, task, doneFn, false)
}

// requeue schedules the task's next attempt after the backoff delay. The
// delay lives in the queue's visibility index, so no worker sleeps on it.
func (s *Service) requeue(ctx context.Context, task *models.Task, attempt int, delay time.Duration, doneFn func() error) {
	next := *task
	next.Attempt = attempt

	if err := s.tasks.EnqueueAfter(ctx, &next, delay); err != nil {
		s.logger.Error().Str("task_id", task.ID).Err(err).Msg("Failed to requeue task")
		s.recordTerminalFailure(ctx, task, err)
		s.settle(ctx, task, doneFn, false)
		return
	}

	if err := doneFn(); err != nil {
		s.logger.Warn().Str("task_id", task.ID).Err(err).Msg("Failed to ack received task")
	}
}

// settle deletes the task from the queue and marks it terminal for the run.
func (s *Service) settle(ctx context.Context, task *models.Task, doneFn func() error, succeeded bool) {
	if err := doneFn(); err != nil {
		s.logger.Warn().Str("task_id", task.ID).Err(err).Msg("Failed to ack received task")
	}
	s.finish(ctx, task, succeeded)
}

// finish crosses the task off the run's pending set and updates progress.
// A task that is not tracked (already settled, or no run active) is a no-op,
// so a redelivered duplicate cannot settle the run twice.
func (s *Service) finish(ctx context.Context, task *models.Task, succeeded bool) {
	s.runMu.Lock()
	tracked := s.pending[task.ID]
	if tracked {
		delete(s.pending, task.ID)
		if len(s.pending) == 0 {
			close(s.runDone)
		}
	}
	s.runMu.Unlock()

	if !tracked {
		return
	}

	s.progressMu.Lock()
	if succeeded {
		s.progress.Completed++
	} else {
		s.progress.Failed++
	}
	s.progress.UpdatedAt = time.Now()
	s.progressMu.Unlock()

	s.saveProgress(ctx)
}

// taskDropped is the queue's drop callback: a task redelivered past the max
// receive count is deleted by the queue, so the run records it as a terminal
// failure instead of waiting on it forever.
func (s *Service) taskDropped(task models.Task) {
	ctx := context.Background()
	s.recordTerminalFailure(ctx, &task, errors.New("task redelivered too many times without completing"))
	s.finish(ctx, &task, false)
}

func (s *Service) saveProgress(ctx context.Context) {
	s.progressMu.Lock()
	snapshot := s.progress
	s.progressMu.Unlock()

	if snapshot.RunID == "" {
		return
	}
	if err := s.results.SaveProgress(ctx, &snapshot); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist run progress")
	}
}

func (s *Service) appendFailure(ctx context.Context, task *models.Task, proxyID string, kind models.FailureKind) {
	record := &models.FailureRecord{
		TaskID:    task.ID,
		Kind:      kind,
		Attempt:   task.Attempt + 1,
		ProxyID:   proxyID,
		Timestamp: time.Now(),
	}
	if err := s.failures.Append(ctx, record); err != nil {
		s.logger.Warn().Str("task_id", task.ID).Err(err).Msg("Failed to append failure record")
	}
}

func (s *Service) recordTerminalFailure(ctx context.Context, task *models.Task, cause error) {
	failure := &models.TaskFailure{
		TaskID:   task.ID,
		Type:     task.ScrapeType,
		Target:   task.Target,
		Error:    cause.Error(),
		Attempts: task.Attempt + 1,
		FailedAt: time.Now(),
	}
	if err := s.results.SaveFailure(ctx, failure); err != nil {
		s.logger.Warn().Str("task_id", task.ID).Err(err).Msg("Failed to persist task failure")
	}

	s.logger.Warn().
		Str("task_id", task.ID).
		Str("target", task.Target).
		Int("attempts", failure.Attempts).
		Err(cause).
		Msg("Task failed terminally")
}

// expandInput turns the run input into individual tasks. URL-based types get
// one task per normalized URL; job_search gets one task per results page up
// to MaxResults.
func (s *Service) expandInput(input *models.TaskInput) ([]*models.Task, error) {
	now := time.Now()

	if input.ScrapeType == models.ScrapeTypeJobSearch {
		if input.JobSearchTerm == "" {
			return nil, errors.New("job_search input requires jobSearchTerm")
		}
		pages := 1
		if input.MaxResults > 25 {
			pages = (input.MaxResults + 24) / 25 // 25 listings per results page
		}
		tasks := make([]*models.Task, 0, pages)
		for page := 0; page < pages; page++ {
			tasks = append(tasks, &models.Task{
				ID:              common.NewTaskID(),
				ScrapeType:      input.ScrapeType,
				Target:          jobSearchPageURL(input.JobSearchTerm, page),
				SearchTerm:      input.JobSearchTerm,
				SessionPoolName: s.poolName,
				EnqueuedAt:      now,
			})
		}
		return tasks, nil
	}

	if len(input.URLs) == 0 {
		return nil, fmt.Errorf("%s input requires urls", input.ScrapeType)
	}

	tasks := make([]*models.Task, 0, len(input.URLs))
	seen := make(map[string]bool)
	for _, raw := range input.URLs {
		target, err := common.NormalizeTargetURL(raw)
		if err != nil {
			return nil, err
		}
		if err := common.ValidateTargetURL(input.ScrapeType, target); err != nil {
			return nil, err
		}
		if seen[target] {
			continue
		}
		seen[target] = true

		tasks = append(tasks, &models.Task{
			ID:              common.NewTaskID(),
			ScrapeType:      input.ScrapeType,
			Target:          target,
			SessionPoolName: s.poolName,
			GetContacts:     input.GetContacts,
			GetEmployees:    input.GetEmployees,
			EnqueuedAt:      now,
		})
	}
	return tasks, nil
}

func jobSearchPageURL(term string, page int) string {
	v := url.Values{}
	v.Set("keywords", term)
	if page > 0 {
		v.Set("start", fmt.Sprintf("%d", page*25))
	}
	return jobSearchURL + "?" + v.Encode()
}
