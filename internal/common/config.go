package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/ternarybob/venator/internal/models"
)

// Config represents the application configuration
type Config struct {
	Environment string                    `toml:"environment"` // "development" or "production"
	Storage     StorageConfig             `toml:"storage"`
	Logging     LoggingConfig             `toml:"logging"`
	Proxy       models.ProxyConfiguration `toml:"proxy"`
	ProxyPool   ProxyPoolConfig           `toml:"proxy_pool"`
	Rotation    RotationConfig            `toml:"rotation"`
	Retry       RetryConfig               `toml:"retry"`
	Auth        AuthConfig                `toml:"auth"`
	Browser     BrowserConfig             `toml:"browser"`
	Workers     WorkersConfig             `toml:"workers"`
	Politeness  PolitenessConfig          `toml:"politeness"`
	Sweeper     SweeperConfig             `toml:"sweeper"`
	Input       InputConfig               `toml:"input"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// ProxyPoolConfig holds the health-tracking knobs of the proxy pool. The
// defaults are deliberate choices, not values the target site dictates, so
// they stay configurable.
type ProxyPoolConfig struct {
	HealthAlpha         float64       `toml:"health_alpha" validate:"gt=0,lte=1"` // EMA smoothing factor
	QuarantineThreshold int           `toml:"quarantine_threshold" validate:"min=1"`
	QuarantineCooldown  time.Duration `toml:"quarantine_cooldown"`
	RebindHealthFloor   float64       `toml:"rebind_health_floor" validate:"gte=0,lte=1"` // RECOMMENDED strategy threshold
}

// RotationConfig selects the rotation strategy for the run
type RotationConfig struct {
	Policy          models.RotationPolicy `toml:"policy" validate:"oneof=RECOMMENDED PER_REQUEST UNTIL_FAILURE"`
	SessionPoolName string                `toml:"session_pool_name" validate:"required"`
}

// RetryConfig mirrors the retry policy input
type RetryConfig struct {
	MaxAttempts       int           `toml:"max_attempts" validate:"min=1"`
	BaseBackoff       time.Duration `toml:"base_backoff"`
	BackoffMultiplier float64       `toml:"backoff_multiplier" validate:"gte=1"`
	MaxBackoff        time.Duration `toml:"max_backoff"`
	JitterRatio       float64       `toml:"jitter_ratio" validate:"gte=0,lte=1"`
}

// Policy converts the config section into the run-constant retry policy.
func (c RetryConfig) Policy() models.RetryPolicy {
	return models.RetryPolicy{
		MaxAttempts:       c.MaxAttempts,
		BaseBackoff:       c.BaseBackoff,
		BackoffMultiplier: c.BackoffMultiplier,
		MaxBackoff:        c.MaxBackoff,
		JitterRatio:       c.JitterRatio,
	}
}

// AuthConfig carries the authentication spec for the run. Cookie and
// email/password are mutually exclusive paths.
type AuthConfig struct {
	Mode     string `toml:"mode" validate:"oneof=COOKIE CREDENTIALS"`
	Cookie   string `toml:"cookie"`
	Email    string `toml:"email"`
	Password string `toml:"password"`
}

// Spec converts the config section to the auth spec consumed by the core.
func (c AuthConfig) Spec() models.AuthSpec {
	return models.AuthSpec{
		Mode:     models.AuthMode(c.Mode),
		Cookie:   c.Cookie,
		Email:    c.Email,
		Password: c.Password,
	}
}

// BrowserConfig configures the chromedp driver
type BrowserConfig struct {
	Headless       bool          `toml:"headless"`
	DisableGPU     bool          `toml:"disable_gpu"`
	NoSandbox      bool          `toml:"no_sandbox"`
	UserAgents     []string      `toml:"user_agents"` // rotated per browser instance
	PageTimeout    time.Duration `toml:"page_timeout"`
	LoginTimeout   time.Duration `toml:"login_timeout"`
	RenderWaitTime time.Duration `toml:"render_wait_time"` // settle time after navigation
}

// WorkersConfig bounds parallelism. Each worker may hold a browser page, so
// concurrency is memory-bound.
type WorkersConfig struct {
	Concurrency       int           `toml:"concurrency" validate:"min=1"`
	PollInterval      time.Duration `toml:"poll_interval"`
	VisibilityTimeout time.Duration `toml:"visibility_timeout"` // task redelivery window
	QueueName         string        `toml:"queue_name"`
	AcquireTimeout    time.Duration `toml:"acquire_timeout"` // bound on blocking behind an in-flight auth
}

// PolitenessConfig reproduces the actor's randomized inter-request delays
type PolitenessConfig struct {
	MinDelay       time.Duration `toml:"min_delay"`
	MaxDelay       time.Duration `toml:"max_delay"`
	LongPauseEvery int           `toml:"long_pause_every"` // take a longer break every N requests
	LongPauseMin   time.Duration `toml:"long_pause_min"`
	LongPauseMax   time.Duration `toml:"long_pause_max"`
}

// SweeperConfig drives scheduled maintenance
type SweeperConfig struct {
	Enabled          bool   `toml:"enabled"`
	Schedule         string `toml:"schedule"`          // cron format
	FailureRetention string `toml:"failure_retention"` // prune failure records older than this
}

// InputConfig locates the task input document
type InputConfig struct {
	Path string `toml:"path"` // task input file (.json or .yaml)
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability; only
// user-facing settings belong in venator.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Proxy: models.ProxyConfiguration{
			UseManagedProxy: false,
			ProxyGroups:     []models.ProxyGroup{models.ProxyGroupResidential},
		},
		ProxyPool: ProxyPoolConfig{
			HealthAlpha:         0.3, // smooths noisy single failures, still penalizes sustained degradation
			QuarantineThreshold: 3,
			QuarantineCooldown:  5 * time.Minute,
			RebindHealthFloor:   0.5,
		},
		Rotation: RotationConfig{
			Policy:          models.RotationRecommended,
			SessionPoolName: "default",
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			BaseBackoff:       time.Second,
			BackoffMultiplier: 2.0,
			MaxBackoff:        30 * time.Second,
			JitterRatio:       0.25,
		},
		Auth: AuthConfig{
			Mode: string(models.AuthModeCookie),
		},
		Browser: BrowserConfig{
			Headless:   true,
			DisableGPU: true,
			NoSandbox:  true,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
			PageTimeout:    60 * time.Second,
			LoginTimeout:   90 * time.Second,
			RenderWaitTime: 3 * time.Second,
		},
		Workers: WorkersConfig{
			Concurrency:       3, // each worker can hold a browser page
			PollInterval:      time.Second,
			VisibilityTimeout: 5 * time.Minute,
			QueueName:         "venator_tasks",
			AcquireTimeout:    2 * time.Minute,
		},
		Politeness: PolitenessConfig{
			MinDelay:       2 * time.Second,
			MaxDelay:       5 * time.Second,
			LongPauseEvery: 10,
			LongPauseMin:   10 * time.Second,
			LongPauseMax:   20 * time.Second,
		},
		Sweeper: SweeperConfig{
			Enabled:          true,
			Schedule:         "*/10 * * * *", // every 10 minutes
			FailureRetention: "24h",
		},
		Input: InputConfig{
			Path: "./tasks.json",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files. Later files override
// earlier files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks structural constraints plus the proxy URL list.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if !c.Proxy.UseManagedProxy {
		for _, raw := range c.Proxy.ProxyURLs {
			if err := models.ValidateProxyURL(raw); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
		}
	}

	if c.Auth.Mode == string(models.AuthModeCookie) && c.Auth.Cookie == "" &&
		c.Auth.Email == "" && c.Auth.Password == "" {
		return fmt.Errorf("invalid configuration: either a cookie or email/password must be provided")
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("VENATOR_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if badgerPath := os.Getenv("VENATOR_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if level := os.Getenv("VENATOR_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("VENATOR_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if policy := os.Getenv("VENATOR_ROTATION_POLICY"); policy != "" {
		config.Rotation.Policy = models.RotationPolicy(policy)
	}
	if pool := os.Getenv("VENATOR_SESSION_POOL"); pool != "" {
		config.Rotation.SessionPoolName = pool
	}

	if cookie := os.Getenv("VENATOR_AUTH_COOKIE"); cookie != "" {
		config.Auth.Mode = string(models.AuthModeCookie)
		config.Auth.Cookie = cookie
	}
	if email := os.Getenv("VENATOR_AUTH_EMAIL"); email != "" {
		config.Auth.Mode = string(models.AuthModeCredentials)
		config.Auth.Email = email
	}
	if password := os.Getenv("VENATOR_AUTH_PASSWORD"); password != "" {
		config.Auth.Password = password
	}

	if urls := os.Getenv("VENATOR_PROXY_URLS"); urls != "" {
		list := []string{}
		for _, u := range strings.Split(urls, ",") {
			if trimmed := strings.TrimSpace(u); trimmed != "" {
				list = append(list, trimmed)
			}
		}
		config.Proxy.ProxyURLs = list
	}

	if concurrency := os.Getenv("VENATOR_WORKERS"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil && c > 0 {
			config.Workers.Concurrency = c
		}
	}

	if attempts := os.Getenv("VENATOR_RETRY_MAX_ATTEMPTS"); attempts != "" {
		if a, err := strconv.Atoi(attempts); err == nil && a > 0 {
			config.Retry.MaxAttempts = a
		}
	}

	if input := os.Getenv("VENATOR_INPUT"); input != "" {
		config.Input.Path = input
	}
}

// FailureRetention parses the sweeper retention window, falling back to 24h.
func (c *Config) FailureRetention() time.Duration {
	d, err := time.ParseDuration(c.Sweeper.FailureRetention)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}
