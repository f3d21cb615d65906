package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/afero"

	"pibackup/internal/api"
	"pibackup/internal/backup"
	"pibackup/internal/config"
	"pibackup/internal/database"
	"pibackup/internal/events"
	"pibackup/internal/fs"
	"pibackup/internal/metrics"
	"pibackup/internal/watch"
)

// App is the application layer between the CLI and backup.Service.
// It constructs all dependencies from config and releases them on Close.
type App struct {
	cfg     *config.Config
	op      *Operation
	clock   backup.Clock
	logger  backup.Logger
	logFile io.Closer
	db      *database.SQLiteDatabase
	broker  *events.Broker
	metrics *metrics.Collector
	service *backup.Service
}

// New creates a fully wired App from the given config.
// command identifies the CLI command being run (e.g. "backup", "serve").
// The caller must call Close when done.
func New(cfg *config.Config, command string) (*App, error) {
	return newApp(cfg, command, os.Stderr)
}

func newApp(cfg *config.Config, command string, stderr io.Writer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clock := backup.RealClock{}
	op := NewOperation(command, clock.Now())

	slogger, logFile, err := newLogger(cfg.LogDir, op.RunID, cfg.LogLevel, stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	// Only the server reclaims rows left running by a previous crash.
	if command == "serve" {
		n, err := db.MarkInterrupted(clock.Now())
		if err != nil {
			logger.Warn("marking interrupted jobs", "error", err)
		} else if n > 0 {
			logger.Warn("marked interrupted jobs as failed", "count", n)
		}
	}

	hasher, err := fs.NewTreeHasher(cfg.Backup.HashAlgorithm, append([]string{
		cfg.Mounts.SourceMarker,
		cfg.Mounts.DestinationMarker,
	}, cfg.Backup.Exclude...))
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating tree hasher: %w", err)
	}

	osfs := afero.NewOsFs()
	broker := events.NewBroker(clock, logger)
	collector := metrics.New()

	registry := backup.NewRegistry(osfs, backup.RegistryConfig{
		MountBaseDir:      cfg.Mounts.BaseDir,
		SourceMarker:      cfg.Mounts.SourceMarker,
		DestinationMarker: cfg.Mounts.DestinationMarker,
		IdentityMarker:    cfg.Mounts.IdentityMarker,
	}, fs.NewSpaceProber(), fs.NewLocator(cfg.Mounts.BaseDir, cfg.Backup.SnapshotPrefix, logger), broker, logger)

	catalog := backup.NewCatalog(osfs, backup.CatalogConfig{
		MountBaseDir:      cfg.Mounts.BaseDir,
		SnapshotPrefix:    cfg.Backup.SnapshotPrefix,
		FilebrowserPrefix: cfg.Server.FilebrowserPrefix,
	}, logger)

	engine := backup.NewEngine(osfs, fs.NewTreeCopier(logger), hasher, clock, logger, cfg.Backup.SnapshotPrefix)

	svc := backup.NewService(backup.ServiceDeps{
		Registry:  registry,
		Catalog:   catalog,
		Engine:    engine,
		Pool:      backup.NewPool(cfg.Backup.Workers, logger),
		History:   db,
		Metrics:   collector,
		Notifier:  broker,
		Unmounter: fs.NewUnmounter(),
		Clock:     clock,
		IDGen:     backup.UUIDGenerator{},
		Logger:    logger,
	})

	a := &App{
		cfg:     cfg,
		op:      op,
		clock:   clock,
		logger:  logger,
		logFile: logFile,
		db:      db,
		broker:  broker,
		metrics: collector,
		service: svc,
	}

	if err := svc.Init(); err != nil {
		a.Close()
		return nil, fmt.Errorf("initializing service: %w", err)
	}

	logger.Info("operation started", "command", command, "host_id", cfg.HostID)
	return a, nil
}

// Service returns the backup service.
func (a *App) Service() *backup.Service {
	return a.service
}

// Config returns the effective configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Serve runs the HTTP API and the mount watcher until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	watcher := watch.NewMountWatcher(a.cfg.Mounts.BaseDir, watch.DefaultDebounce, a.cfg.Mounts.RescanInterval(), func() {
		if err := a.service.RefreshVolumes(true); err != nil {
			a.logger.Warn("scheduling volume refresh", "error", err)
		}
	}, a.logger)
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("starting mount watcher: %w", err)
	}
	defer watcher.Stop()

	srv := api.NewServer(a.service, a.broker, a.metrics, api.Options{
		AllowedOrigins:  a.cfg.Server.AllowedOrigins,
		FilebrowserPort: a.cfg.Server.FilebrowserPort,
		Config:          a.cfg,
	}, a.logger)
	return srv.Serve(ctx, a.cfg.Server.Listen)
}

// Close waits for queued work, then closes the history database and log.
func (a *App) Close() error {
	var errs []error

	if err := a.service.Close(); err != nil {
		errs = append(errs, fmt.Errorf("stopping worker pool: %w", err))
	}
	a.broker.Close()

	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}

	a.logger.Info("operation finished", "command", a.op.Command, "elapsed", a.op.Elapsed(a.clock.Now()).Round(time.Millisecond))
	if err := a.logFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing log file: %w", err))
	}

	return errors.Join(errs...)
}
