// Package app assembles the report service from configuration. Both the
// service binary and the maintenance CLI build on it so they share the same
// engine seat and ledger.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/izavyalov-dev/reportd/admission"
	"github.com/izavyalov-dev/reportd/artifacts"
	"github.com/izavyalov-dev/reportd/engine"
	"github.com/izavyalov-dev/reportd/engine/simulated"
	"github.com/izavyalov-dev/reportd/internal/config"
	"github.com/izavyalov-dev/reportd/internal/observability"
	"github.com/izavyalov-dev/reportd/lock"
	"github.com/izavyalov-dev/reportd/orchestrator"
	"github.com/izavyalov-dev/reportd/registry"
	"github.com/izavyalov-dev/reportd/state"
)

// App holds the wired components of one process.
type App struct {
	Config     config.Config
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	Registry   *registry.Registry
	Store      *state.Store
	Whitelist  *admission.Whitelist
	Gate       *admission.Gate
	Locks      *lock.Layer
	Automation engine.Automation
	Sweeper    engine.Sweeper
	Runner     *engine.Runner
	Pipeline   *orchestrator.Pipeline
	Service    *orchestrator.Service
}

// Options adjusts assembly for tests and tools.
type Options struct {
	Registerer prometheus.Registerer
	// Automation overrides the engine selected by the config.
	Automation engine.Automation
	Sweeper    engine.Sweeper
}

// Build wires every component. The returned App must be closed.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = observability.NewLogger("reportd")
	}
	a := &App{Config: cfg, Logger: logger, Metrics: observability.NewMetrics(opts.Registerer)}

	reg, err := loadRegistry(cfg.ReportsFile)
	if err != nil {
		return nil, err
	}
	a.Registry = reg

	var recorder orchestrator.Recorder = orchestrator.NopRecorder{}
	var whitelistSource admission.WhitelistSource = admission.StaticWhitelist(cfg.Whitelist)
	if cfg.DatabaseURL != "" {
		store, err := state.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		if err := store.ApplyMigrations(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrate ledger: %w", err)
		}
		a.Store = store
		recorder = store
		whitelistSource = admission.MergedWhitelist{admission.StaticWhitelist(cfg.Whitelist), store}
	}

	a.Whitelist = admission.NewWhitelist(whitelistSource, admission.DefaultWhitelistTTL, time.Now, logger.With("component", "admission.whitelist"))
	var verifier *admission.InitDataVerifier
	if cfg.BotToken != "" {
		verifier = admission.NewInitDataVerifier(cfg.BotToken, admission.DefaultMaxAge, time.Now)
	}
	a.Gate = admission.NewGate(admission.GateConfig{
		Verifier:  verifier,
		Whitelist: a.Whitelist,
		Kinds:     reg,
		Logger:    logger.With("component", "admission"),
		Metrics:   a.Metrics,
	})

	a.Locks = lock.NewLayer(lock.Config{Path: cfg.LockPath, Timeout: cfg.LockTimeout}, logger.With("component", "lock"))

	a.Automation, a.Sweeper = opts.Automation, opts.Sweeper
	if a.Automation == nil {
		a.Automation, a.Sweeper = selectEngine(cfg, logger)
	}
	driver := engine.NewDriver(a.Automation, engine.DriverConfig{
		SourcePath:   cfg.SourcePath,
		WorkDir:      cfg.WorkDir,
		ReadyTimeout: cfg.ReadyTimeout,
	}, logger.With("component", "engine.driver"))
	a.Runner = engine.NewRunner(driver, a.Sweeper, engine.DefaultPolicy, logger.With("component", "engine.runner"), a.Metrics)

	var archiver orchestrator.Archiver
	if cfg.Archive.Enabled() {
		s3, err := artifacts.NewS3Archiver(ctx, artifacts.S3Config{
			Bucket:   cfg.Archive.Bucket,
			Prefix:   cfg.Archive.Prefix,
			Region:   cfg.Archive.Region,
			Endpoint: cfg.Archive.Endpoint,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("archive: %w", err)
		}
		archiver = s3
	}

	a.Pipeline = orchestrator.NewPipeline(orchestrator.PipelineConfig{
		SourcePath: cfg.SourcePath,
		Timeout:    cfg.PipelineTimeout,
	}, orchestrator.PipelineDeps{
		Kinds:    reg,
		Bindings: registry.NewInspector(),
		Locks:    a.Locks,
		Executor: a.Runner,
		Recorder: recorder,
		Archiver: archiver,
		Logger:   logger.With("component", "orchestrator.pipeline"),
		Metrics:  a.Metrics,
	})
	a.Service = orchestrator.NewService(orchestrator.ServiceConfig{
		Gate:     a.Gate,
		Pipeline: a.Pipeline,
		Logger:   logger.With("component", "orchestrator"),
	})
	return a, nil
}

// Close releases the ledger connection.
func (a *App) Close() error {
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

func loadRegistry(path string) (*registry.Registry, error) {
	if path == "" {
		return registry.Default()
	}
	reg, err := registry.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load reports: %w", err)
	}
	return reg, nil
}

func selectEngine(cfg config.Config, logger *slog.Logger) (engine.Automation, engine.Sweeper) {
	if cfg.EngineKind == config.EngineSimulated {
		sim := simulated.New(cfg.OutputDir)
		return sim, sim
	}
	return engine.NewCOMAutomation(), engine.DefaultSweeper(logger.With("component", "engine.sweeper"))
}
