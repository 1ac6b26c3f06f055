package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/venator/internal/app"
	"github.com/ternarybob/venator/internal/common"
	"github.com/ternarybob/venator/internal/models"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	inputPath    = flag.String("input", "", "Task input file, .json or .yaml (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Venator version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner
	var err error

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("venator.toml"); err == nil {
			configFiles = append(configFiles, "venator.toml")
		}
	}

	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration files")
		os.Exit(1)
	}

	if *inputPath != "" {
		config.Input.Path = *inputPath
	}

	logger = common.InitLogger(config)
	common.PrintBanner(common.GetFullVersion())
	common.InstallCrashHandler(filepath.Dir(common.GetLogFilePath(logger)))

	if err := config.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
		os.Exit(1)
	}

	input, err := loadTaskInput(config.Input.Path)
	if err != nil {
		logger.Fatal().Str("path", config.Input.Path).Err(err).Msg("Failed to load task input")
		os.Exit(1)
	}

	logger.Info().
		Strs("config_files", configFiles).
		Str("input", config.Input.Path).
		Str("scrape_type", string(input.ScrapeType)).
		Int("urls", len(input.URLs)).
		Msg("Application configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}
	defer application.Close()

	// Cancel the run on interrupt; in-flight tasks drain before exit.
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	common.SafeGo(logger, "signal-watcher", func() {
		<-sigChan
		logger.Info().Msg("Interrupt signal received, cancelling run")
		cancel()
	})

	progress, err := application.Orchestrator.Run(ctx, input)
	if err != nil {
		logger.Fatal().Err(err).Msg("Run failed")
		os.Exit(1)
	}

	logger.Info().
		Str("run_id", progress.RunID).
		Int("total", progress.Total).
		Int("completed", progress.Completed).
		Int("failed", progress.Failed).
		Str("status", progress.Status).
		Msg("Run summary")

	if progress.Failed > 0 && progress.Completed == 0 {
		os.Exit(1)
	}
}

// loadTaskInput reads the run input document. The extension picks the
// decoder: .yaml/.yml or .json.
func loadTaskInput(path string) (*models.TaskInput, error) {
	if path == "" {
		return nil, fmt.Errorf("no input file configured (set input.path or -input)")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}

	var input models.TaskInput
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &input); err != nil {
			return nil, fmt.Errorf("failed to parse yaml input: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &input); err != nil {
			return nil, fmt.Errorf("failed to parse json input: %w", err)
		}
	}

	if input.ScrapeType == "" {
		return nil, fmt.Errorf("input is missing scrapeType")
	}

	return &input, nil
}
