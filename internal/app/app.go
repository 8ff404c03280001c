// Package app wires the database, registry and services for the CLI and the
// HTTP server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"gateflow/internal/advisory"
	"gateflow/internal/config"
	"gateflow/internal/db"
	"gateflow/internal/engine"
	"gateflow/internal/migrate"
	"gateflow/internal/notify"
	"gateflow/internal/queue"
	"gateflow/internal/registry"
	"gateflow/internal/sla"
)

type Options struct {
	Workspace    string
	Driver       string
	DSN          string
	RegistryFile string
	RegistryID   string
	OpenAIAPIKey string
	Logger       *slog.Logger
}

type App struct {
	DB       *sql.DB
	Dialect  db.Dialect
	Config   *config.Config
	Registry *registry.Registry
	Engine   engine.Engine
	Sweeper  sla.Sweeper
	Queue    queue.Projector
	Notifier *notify.Dispatcher
	Logger   *slog.Logger
}

// Open connects, migrates and resolves the registry.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conn, dialect, err := db.Open(db.Config{Workspace: opts.Workspace, Driver: opts.Driver, DSN: opts.DSN})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a, err := build(ctx, conn, dialect, opts, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, conn *sql.DB, dialect db.Dialect, opts Options, logger *slog.Logger) (*App, error) {
	eng := engine.New(conn, dialect, nil, nil, logger)
	cfg, err := ResolveRegistry(ctx, eng.Repo, opts.Workspace, opts.RegistryFile, opts.RegistryID)
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(cfg)
	if err != nil {
		return nil, err
	}
	hook := advisory.NewHook(cfg.Advisory, opts.OpenAIAPIKey, logger)
	eng = engine.New(conn, dialect, reg, hook, logger)
	return &App{
		DB:       conn,
		Dialect:  dialect,
		Config:   cfg,
		Registry: reg,
		Engine:   eng,
		Sweeper:  sla.New(conn, dialect, reg, logger),
		Queue:    queue.Projector{Repo: eng.Repo, Registry: reg},
		Notifier: notify.NewDispatcher(eng.Repo, cfg.Notifications, logger),
		Logger:   logger,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
