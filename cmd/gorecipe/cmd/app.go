package cmd

import (
	"context"
	"fmt"

	"github.com/dbsmedya/gorecipe/internal/config"
	"github.com/dbsmedya/gorecipe/internal/connector"
	"github.com/dbsmedya/gorecipe/internal/database"
	"github.com/dbsmedya/gorecipe/internal/dataset"
	"github.com/dbsmedya/gorecipe/internal/engine"
	"github.com/dbsmedya/gorecipe/internal/jobs"
	"github.com/dbsmedya/gorecipe/internal/logger"
	"github.com/dbsmedya/gorecipe/internal/project"
	"github.com/dbsmedya/gorecipe/internal/recipe"
	"github.com/dbsmedya/gorecipe/internal/staging"
	"github.com/dbsmedya/gorecipe/internal/steps"
)

// app is the wired engine shared by the commands.
type app struct {
	cfg        *config.Config
	log        *logger.Logger
	db         *database.Manager
	connectors *connector.Registry
	datasets   *dataset.Registry
	exec       *engine.Executor
	views      *engine.Views
}

// loadConfig reads the config file and applies the CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	o := GetCLIOverrides()
	cfg.ApplyOverrides(o.LogLevel, o.LogFormat, o.MaxWorkers)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp loads the configuration, wires the engine and loads the datasets.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	stepReg, err := steps.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to register steps: %w", err)
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		db:       database.NewManager(cfg.Connections),
		datasets: dataset.NewRegistry(),
		exec:     engine.NewExecutor(stepReg, log),
	}
	a.connectors = connector.NewDefaultRegistry(a.db, log)
	a.views = engine.NewViews(a.datasets, a.exec, cfg.Engine, log)

	if err := a.loadDatasets(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// loadDatasets loads the project file first, then the configured datasets
// the project does not already define.
func (a *app) loadDatasets(ctx context.Context) error {
	if projectFile != "" {
		if _, err := project.Load(ctx, projectFile, a.connectors, a.datasets, a.log); err != nil {
			return err
		}
	}
	for _, name := range a.cfg.ListDatasets() {
		if a.datasets.Has(name) {
			a.log.Debugw("Dataset defined by project, skipping config entry", "dataset", name)
			continue
		}
		ds := a.cfg.Datasets[name]
		meta, err := a.connectors.Load(ctx, ds.Loader, ds.Params)
		if err != nil {
			return fmt.Errorf("failed to load dataset %q: %w", name, err)
		}
		if err := a.datasets.Add(name, meta); err != nil {
			return err
		}
		if ds.Recipe == "" {
			continue
		}
		rc, err := recipe.LoadFile(ds.Recipe)
		if err != nil {
			return fmt.Errorf("dataset %q: %w", name, err)
		}
		if err := a.datasets.SetRecipe(name, rc); err != nil {
			return err
		}
	}
	a.log.Debugw("Datasets loaded", "count", len(a.datasets.Names()))
	return nil
}

// recipeOf returns the stored recipe of a loaded dataset.
func (a *app) recipeOf(name string) (recipe.Recipe, error) {
	rc, ok := a.datasets.Recipe(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", engine.ErrDatasetNotFound, name)
	}
	return rc, nil
}

// stagingManager opens the staging root and drops expired entries.
func (a *app) stagingManager() (*staging.Manager, error) {
	stage, err := staging.NewManager(a.cfg.Staging.Dir, a.log)
	if err != nil {
		return nil, err
	}
	if a.cfg.Staging.MaxAgeHours > 0 {
		if _, err := stage.Cleanup(a.cfg.Staging.MaxAge()); err != nil {
			a.log.Warnw("Staging cleanup incomplete", "error", err)
		}
	}
	return stage, nil
}

// historyStore opens the job history database. It returns nil when no
// history DSN is configured.
func (a *app) historyStore(ctx context.Context) (*jobs.SQLStore, error) {
	if a.cfg.Jobs.HistoryDSN == "" {
		return nil, nil
	}
	db, err := a.db.GetDSN(ctx, a.cfg.Jobs.HistoryDriver, a.cfg.Jobs.HistoryDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open job history: %w", err)
	}
	store, err := jobs.NewSQLStore(db, a.cfg.Jobs.HistoryDriver, a.log)
	if err != nil {
		return nil, err
	}
	if err := store.InitializeTables(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Close releases database connections and flushes the logger.
func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.Warnw("Failed to close database connections", "error", err)
	}
	_ = a.log.Sync()
}
