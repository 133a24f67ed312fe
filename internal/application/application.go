// Package application wires configuration into a running import stack:
// the record/job/log backend, upload storage and the import service.
// Both the HTTP server and the command line tool start from here.
package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/tabimport/internal/config"
	"github.com/JonMunkholm/tabimport/internal/importer"
	"github.com/JonMunkholm/tabimport/internal/schema"
	_ "github.com/JonMunkholm/tabimport/internal/schema/models" // Register bundled models
	"github.com/JonMunkholm/tabimport/internal/storage"
	"github.com/JonMunkholm/tabimport/internal/store"
	"github.com/JonMunkholm/tabimport/internal/store/postgres"
	"github.com/JonMunkholm/tabimport/internal/store/sqlite"
)

// Backend persists records, jobs and run logs.
type Backend interface {
	store.Store
	store.JobStore
	store.LogStore
}

// App is an opened import stack.
type App struct {
	Config  *config.Config
	Store   Backend
	Files   *storage.FileStorage
	Service *importer.Service

	close func()
}

// Open connects the configured database, creates missing tables for every
// registered model and builds the import service. ctx bounds async runs.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend, closeFn, err := openBackend(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	if err := bootstrap(ctx, backend, schema.All()); err != nil {
		closeFn()
		return nil, err
	}

	files, err := storage.New(cfg.Import.StorageRoot, cfg.Import.UploadTo)
	if err != nil {
		closeFn()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	svc := importer.NewService(ctx, importer.Deps{
		Jobs:    backend,
		Logs:    backend,
		Records: backend,
		Uploads: files,
		Logger:  logger,
	}, Settings(cfg.Import))

	logger.Info("import stack ready",
		"driver", cfg.Database.Driver(),
		"models", len(svc.Models()),
		"sync", cfg.Import.Sync,
	)

	return &App{
		Config:  cfg,
		Store:   backend,
		Files:   files,
		Service: svc,
		close:   closeFn,
	}, nil
}

// Close releases the database. Drain async runs with Service.Wait first.
func (a *App) Close() {
	if a.close != nil {
		a.close()
	}
}

// Settings maps import configuration onto service settings.
func Settings(ic config.ImportConfig) importer.Settings {
	return importer.Settings{
		Sync:          ic.Sync,
		RowsReport:    ic.RowsReport,
		Models:        ic.Models,
		Except:        ic.Except,
		MaxConcurrent: ic.MaxConcurrent,
		MaxWait:       ic.MaxWaitTime,
		RunTimeout:    ic.RunTimeout,
		LookupCache:   ic.LookupCache,
	}
}

type bootstrapper interface {
	Bootstrap(ctx context.Context, models []*schema.Model) error
}

func bootstrap(ctx context.Context, backend Backend, models []*schema.Model) error {
	b, ok := backend.(bootstrapper)
	if !ok {
		return nil
	}
	if err := b.Bootstrap(ctx, models); err != nil {
		return fmt.Errorf("bootstrap tables: %w", err)
	}
	return nil
}

func openBackend(ctx context.Context, db config.DatabaseConfig) (Backend, func(), error) {
	switch db.Driver() {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, db.URL, postgres.PoolConfig{
			MaxConns:        db.MaxConns,
			MinConns:        db.MinConns,
			MaxConnLifetime: db.MaxConnLifetime,
			MaxConnIdleTime: db.MaxConnIdleTime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		s := postgres.New(pool)
		return s, s.Close, nil

	case config.DriverSQLite:
		s, err := sqlite.Open(db.SQLitePath())
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database URL scheme")
	}
}
