package app

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venator/internal/browser"
	"github.com/ternarybob/venator/internal/common"
	"github.com/ternarybob/venator/internal/interfaces"
	"github.com/ternarybob/venator/internal/queue"
	"github.com/ternarybob/venator/internal/services/auth"
	"github.com/ternarybob/venator/internal/services/extract"
	"github.com/ternarybob/venator/internal/services/orchestrator"
	"github.com/ternarybob/venator/internal/services/proxypool"
	"github.com/ternarybob/venator/internal/services/retry"
	"github.com/ternarybob/venator/internal/services/rotation"
	"github.com/ternarybob/venator/internal/services/sessions"
	"github.com/ternarybob/venator/internal/services/sweeper"
	"github.com/ternarybob/venator/internal/storage"
	badgerstore "github.com/ternarybob/venator/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager *badgerstore.Manager
	TaskQueue      *queue.TaskQueue

	ProxyPool    *proxypool.Pool
	SessionStore *sessions.Store
	AuthManager  *auth.Manager
	Rotation     *rotation.Controller
	Retry        *retry.Controller
	Browser      interfaces.BrowserAutomation
	Extractor    interfaces.Extractor
	Orchestrator *orchestrator.Service
	Sweeper      *sweeper.Service
}

// New initializes the application components in dependency order.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	storageManager, err := storage.NewStorageManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	taskQueue, err := queue.NewTaskQueue(
		storageManager.Badger(),
		config.Workers.QueueName,
		config.Workers.VisibilityTimeout,
		config.Retry.MaxAttempts+1,
		logger,
	)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize task queue: %w", err)
	}
	a.TaskQueue = taskQueue

	pool, err := proxypool.New(config.Proxy, config.ProxyPool, config.Politeness.MinDelay, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to build proxy pool: %w", err)
	}
	a.ProxyPool = pool

	a.Browser = browser.NewDriver(config.Browser, logger)
	a.AuthManager = auth.NewManager(a.Browser, pool, logger)
	a.SessionStore = sessions.NewStore(storageManager.SessionStorage(), a.AuthManager, logger)

	rotationCtrl, err := rotation.NewController(
		config.Rotation.Policy,
		pool,
		a.SessionStore,
		config.ProxyPool,
		logger,
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize rotation controller: %w", err)
	}
	a.Rotation = rotationCtrl

	a.Retry = retry.NewController(config.Retry.Policy(), logger)
	a.Extractor = extract.NewService(logger)

	a.Orchestrator = orchestrator.NewService(orchestrator.Deps{
		Tasks:     taskQueue,
		Pool:      pool,
		Rotation:  rotationCtrl,
		Retry:     a.Retry,
		Browser:   a.Browser,
		Extractor: a.Extractor,
		Results:   storageManager.ResultStorage(),
		Failures:  storageManager.FailureStorage(),
		Delayer:   orchestrator.NewDelayer(config.Politeness, logger),
		AuthSpec:  config.Auth.Spec(),
		Workers:   config.Workers,
		PoolName:  config.Rotation.SessionPoolName,
		Logger:    logger,
	})

	a.Sweeper = sweeper.NewService(storageManager.FailureStorage(), config.FailureRetention(), logger)
	if config.Sweeper.Enabled {
		if err := a.Sweeper.Start(config.Sweeper.Schedule); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to start sweeper: %w", err)
		}
	}

	logger.Info().
		Str("rotation_policy", string(config.Rotation.Policy)).
		Int("proxies", pool.Size()).
		Int("workers", config.Workers.Concurrency).
		Msg("Application initialized")

	return a, nil
}

// Close releases application resources in reverse initialization order.
func (a *App) Close() error {
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.Browser != nil {
		if err := a.Browser.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Browser shutdown failed")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage shutdown failed")
			return err
		}
	}
	return nil
}
