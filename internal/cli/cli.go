package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/studiowebux/kohaload/internal/browser"
	"github.com/studiowebux/kohaload/internal/check"
	"github.com/studiowebux/kohaload/internal/config"
	"github.com/studiowebux/kohaload/internal/koha"
	"github.com/studiowebux/kohaload/internal/loadtest"
	"github.com/studiowebux/kohaload/internal/logging"
	"github.com/studiowebux/kohaload/internal/metrics"
	"github.com/studiowebux/kohaload/internal/report"
	"github.com/studiowebux/kohaload/internal/scenario"
	"github.com/studiowebux/kohaload/internal/stub"
	"github.com/studiowebux/kohaload/internal/tui"
	"github.com/studiowebux/kohaload/internal/types"
)

// ErrThresholdsFailed is returned when a run finished but a threshold did not hold
var ErrThresholdsFailed = errors.New("thresholds failed")

// RunOptions contains options for a load test run
type RunOptions struct {
	Settings   *config.Settings
	ConfigName string // load a saved configuration by name
	Pick       bool   // choose a saved configuration interactively
	SaveConfig bool   // store the effective configuration under Settings.Name
	TUI        bool   // live progress view instead of log output
	// Explicit lists settings keys set on the command line; a saved
	// configuration does not override them
	Explicit []string

	Report report.Options

	// Pages overrides the Chromium page factory
	Pages  browser.Factory
	Stdout io.Writer
	Stderr io.Writer
}

func (o *RunOptions) defaults() {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
}

// NewLogger builds the sanitized logger for settings. With the TUI active
// logs go to kohaload.log next to the database so they do not tear the screen.
func NewLogger(settings *config.Settings, stderr io.Writer, tuiActive bool) (*slog.Logger, io.Closer, error) {
	if !tuiActive {
		logger, err := logging.New(stderr, settings.LogLevel, settings.LogFormat)
		return logger, io.NopCloser(nil), err
	}

	path := filepath.Join(filepath.Dir(settings.Database), "kohaload.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, config.FilePermissions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger, err := logging.New(f, settings.LogLevel, settings.LogFormat)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return logger, f, nil
}

// NewClient builds the REST client for settings
func NewClient(settings *config.Settings, checks *check.Recorder, collector *metrics.Collector, logger *slog.Logger) (*koha.Client, error) {
	httpClient, err := koha.BuildHTTPClient(settings.VUs, settings.RequestTimeout, &settings.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP client: %w", err)
	}
	return koha.NewClient(
		settings.Scenario.StaffURL,
		settings.Scenario.User,
		settings.Scenario.Pass,
		koha.WithHTTPClient(httpClient),
		koha.WithChecks(checks),
		koha.WithMetrics(collector),
		koha.WithLogger(logger),
	)
}

// Run executes the Koha scenario under load, prints the report and returns
// the finished run. A run whose thresholds failed returns ErrThresholdsFailed.
func Run(ctx context.Context, opts RunOptions) (*loadtest.Run, error) {
	opts.defaults()
	settings := opts.Settings

	logger, closer, err := NewLogger(settings, opts.Stderr, opts.TUI)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	manager, err := loadtest.NewManager(settings.Database)
	if err != nil {
		return nil, err
	}
	defer manager.Close()

	if err := resolveConfig(manager, &opts); err != nil {
		return nil, err
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg := settings.LoadTestConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if opts.SaveConfig {
		if existing, err := manager.GetConfigByName(cfg.Name); err == nil {
			cfg.ID = existing.ID
		}
		if err := manager.SaveConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to save configuration: %w", err)
		}
		logger.Info("saved configuration", "name", cfg.Name, "id", cfg.ID)
	}

	if settings.Scenario.Pass == "" && isInteractive() {
		pass, err := promptForVariable("staff password")
		if err != nil {
			return nil, err
		}
		settings.Scenario.Pass = pass
	}

	collector := metrics.New()
	checks := check.NewRecorder()
	checks.SetObserver(collector.ObserveCheck)

	if settings.MetricsAddr != "" {
		go func() {
			if err := collector.Serve(ctx, settings.MetricsAddr, logger); err != nil {
				logger.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	client, err := NewClient(settings, checks, collector, logger)
	if err != nil {
		return nil, err
	}

	words := stub.DefaultWords()
	if settings.WordsFile != "" {
		if words, err = stub.LoadWords(settings.WordsFile); err != nil {
			return nil, err
		}
	}

	pages := opts.Pages
	if pages == nil {
		b, err := browser.Launch(ctx, settings.Browser, logger)
		if err != nil {
			return nil, err
		}
		defer b.Close()
		pages = b
	}

	sc := scenario.New(settings.Scenario, client, pages, stub.NewGenerator(words), checks, logger)
	if _, err := sc.Setup(ctx); err != nil {
		return nil, fmt.Errorf("setup failed: %w", err)
	}

	executor, err := loadtest.NewExecutor(ctx, &loadtest.ExecutionConfig{
		Config:  cfg,
		Iterate: sc.Iterate,
		Checks:  checks,
		Metrics: collector,
		Logger:  logger,
	}, manager)
	if err != nil {
		return nil, err
	}

	executor.Start()
	if opts.TUI {
		if err := tui.Run(executor, "Koha load test - "+cfg.Name); err != nil {
			logger.Error("progress view failed", "error", err)
		}
	}
	if err := executor.Wait(); err != nil {
		return executor.GetRun(), err
	}

	run := executor.GetRun()
	doc, err := report.Load(manager, run.ID)
	if err != nil {
		return run, err
	}
	if err := report.Render(opts.Stdout, doc, opts.Report); err != nil {
		return run, err
	}

	if !run.ThresholdsPassed {
		return run, ErrThresholdsFailed
	}
	return run, nil
}

// resolveConfig applies a saved configuration chosen by name or prompt
func resolveConfig(manager *loadtest.Manager, opts *RunOptions) error {
	name := opts.ConfigName
	if opts.Pick {
		configs, err := manager.ListConfigs()
		if err != nil {
			return err
		}
		if len(configs) == 0 {
			return errors.New("no saved configurations to pick from")
		}
		picked, err := promptForConfig(configs)
		if err != nil {
			return err
		}
		name = picked
	}
	if name == "" {
		return nil
	}

	saved, err := manager.GetConfigByName(name)
	if err != nil {
		return fmt.Errorf("configuration %q not found: %w", name, err)
	}
	opts.Settings.ApplyLoadTestConfig(saved, opts.Explicit...)
	return nil
}

// Setup loads the reference data the scenario depends on and returns it,
// a quick connectivity and credentials check before a real run.
func Setup(ctx context.Context, settings *config.Settings, logger *slog.Logger) (*types.ReferenceData, error) {
	checks := check.NewRecorder()
	client, err := NewClient(settings, checks, nil, logger)
	if err != nil {
		return nil, err
	}
	ref, err := client.LoadReferenceData(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := ref.PatronCategoryID(); err != nil {
		return ref, err
	}
	if _, err := ref.LibraryID(); err != nil {
		return ref, err
	}
	if _, err := ref.ItemTypeID(); err != nil {
		return ref, err
	}
	return ref, nil
}

// isInteractive checks if stdin is a terminal (not piped)
func isInteractive() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
