package bootstrap

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"appboot/config"
	"appboot/metrics"
	"appboot/migrate"
	"appboot/server"
	"appboot/static"
)

// execProcess replaces the current process image. Indirected so the
// sequence can be exercised in tests without exec'ing.
var execProcess = syscall.Exec

// Step is one stage of the bootstrap sequence. Critical steps abort the
// sequence on failure regardless of startup mode.
type Step struct {
	Name     string
	Critical bool
	Run      func(ctx context.Context) error
}

// App represents the bootstrap sequencer with its configuration and
// ordered steps.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	steps []Step
}

// NewApp initializes logging, loads and validates configuration, runs
// pre-flight checks and resolves database credentials. Any error here
// means no step runs.
func NewApp(ctx context.Context) (*App, error) {
	logger, sugar, err := InitLogger(os.Getenv("APPBOOT_LOG_LEVEL"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	sugar.Info("appboot starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}

	// Re-open logging with the configured level and access/error targets
	_ = logger.Sync()
	logger, sugar, err = LoggerFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure log targets: %w", err)
	}

	sugar.Info("Running pre-flight checks...")
	if err := EnsureDirectories(cfg, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	if err := config.ResolveDatabaseCredentials(cfg); err != nil {
		return nil, fmt.Errorf("failed to resolve database credentials: %w", err)
	}

	app := &App{
		Config: cfg,
		Logger: logger,
		Sugar:  sugar,
	}
	app.steps = app.defaultSteps()
	return app, nil
}

// defaultSteps returns the fixed bootstrap sequence: migrate, collect
// static assets, start the serving process.
func (a *App) defaultSteps() []Step {
	return []Step{
		{Name: "migrate", Critical: true, Run: a.runMigrations},
		{Name: "collectstatic", Critical: false, Run: a.collectStatic},
		{Name: "serve", Critical: true, Run: a.startServer},
	}
}

// Run executes the steps in order, failing fast: a failed step aborts the
// sequence and later steps never run. Under startup_mode=graceful a
// non-critical step failure logs a warning and the sequence continues.
// In production mode Run does not return on success — the final step
// replaces the process image with the serving process.
func (a *App) Run(ctx context.Context) error {
	for _, step := range a.steps {
		start := time.Now()
		a.Sugar.Infow("Step starting", "step", step.Name)

		err := step.Run(ctx)
		metrics.BootStepDuration.WithLabelValues(step.Name).Observe(time.Since(start).Seconds())

		if err != nil {
			if !step.Critical && a.Config.StartupMode == config.StartupModeGraceful {
				a.Sugar.Warnw("Step failed, continuing (graceful startup mode)",
					"step", step.Name, "error", err)
				continue
			}
			return fmt.Errorf("step %s failed: %w", step.Name, err)
		}

		a.Sugar.Infow("Step completed",
			"step", step.Name,
			"duration_ms", time.Since(start).Milliseconds())
	}
	return nil
}

// runMigrations applies all pending schema migrations. Running with no
// pending migrations is a no-op success.
func (a *App) runMigrations(ctx context.Context) error {
	db, err := migrate.Open(ctx, a.Config, a.Sugar)
	if err != nil {
		addr := fmt.Sprintf("%s:%d", a.Config.Database.Host, a.Config.Database.Port)
		a.Sugar.Error(ClassifyConnectionError(err, a.Config.Database.Driver, addr))
		return err
	}
	defer db.Close()

	runner, err := migrate.NewAppRunner(db, a.Config.Database.Driver, a.Sugar)
	if err != nil {
		return err
	}
	return runner.Run()
}

// collectStatic gathers static assets into the serving root.
func (a *App) collectStatic(ctx context.Context) error {
	collector := static.NewCollector(
		a.Config.Static.SourceDirs,
		a.Config.Static.Root,
		a.Config.Static.Manifest,
		a.Sugar,
	)
	_, err := collector.Collect()
	return err
}

// startServer hands control to the serving process. In production mode the
// process image is replaced via exec so the server becomes the
// signal-receiving process; in development mode a single-process server
// runs in place and this returns when it stops.
func (a *App) startServer(ctx context.Context) error {
	if a.Config.Mode == config.ModeDevelopment {
		dev := server.NewDevServer(server.OptionsFromConfig(a.Config), a.Sugar)
		return dev.Run(ctx)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable: %w", err)
	}

	a.Sugar.Infow("Replacing process image with serving process",
		"bind", a.Config.Server.Bind,
		"workers", a.Config.Server.Workers)
	_ = a.Logger.Sync()

	if err := execProcess(exe, []string{exe, "serve"}, os.Environ()); err != nil {
		return fmt.Errorf("failed to exec serving process: %w", err)
	}
	return nil // unreachable: exec does not return on success
}
