// Package app wires the decision core together once at startup.
package app

import (
	"context"
	"fmt"

	"github.com/headline-goat/popup-goat/internal/assign"
	"github.com/headline-goat/popup-goat/internal/config"
	"github.com/headline-goat/popup-goat/internal/eligibility"
	"github.com/headline-goat/popup-goat/internal/ledger"
	"github.com/headline-goat/popup-goat/internal/lifecycle"
	"github.com/headline-goat/popup-goat/internal/logger"
	"github.com/headline-goat/popup-goat/internal/metrics"
	"github.com/headline-goat/popup-goat/internal/store"
	"github.com/headline-goat/popup-goat/internal/store/redisstore"
)

// App is the registry of long-lived components. It is built once and passed
// to the server and CLI commands that need it.
type App struct {
	Config     config.Config
	Store      store.Store
	SQLite     *store.SQLiteStore
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
	Ledger     *ledger.Ledger
	Engine     *assign.Engine
	Controller *lifecycle.Controller
	Service    *eligibility.Service
}

// New opens the stores named by cfg and builds every component on top of them.
func New(ctx context.Context, cfg config.Config, log *logger.Logger) (*App, error) {
	sqlite, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var st store.Store = sqlite
	if cfg.RedisAddr != "" {
		r, err := redisstore.Dial(ctx, cfg.RedisAddr)
		if err != nil {
			sqlite.Close()
			return nil, err
		}
		st = redisstore.NewLayered(sqlite, r)
		log.Info("Using Redis for assignments and frequency records", "addr", cfg.RedisAddr)
	}

	return build(cfg, sqlite, st, log), nil
}

func build(cfg config.Config, sqlite *store.SQLiteStore, st store.Store, log *logger.Logger) *App {
	m := metrics.New()
	l := ledger.New(st)
	engine := assign.New(st, m, log.With("component", "assign"))
	ctrl := lifecycle.New(st, lifecycle.StatusPauser{Campaigns: st}, lifecycle.Options{
		Lookback:    cfg.Lookback,
		Concurrency: cfg.LifecycleConcurrency,
	}, m, log.With("component", "lifecycle"))

	svc := eligibility.New(eligibility.Deps{
		Store:      st,
		Ledger:     l,
		Engine:     engine,
		Controller: ctrl,
		Metrics:    m,
		Logger:     log.With("component", "eligibility"),
	})

	return &App{
		Config:     cfg,
		Store:      st,
		SQLite:     sqlite,
		Metrics:    m,
		Logger:     log,
		Ledger:     l,
		Engine:     engine,
		Controller: ctrl,
		Service:    svc,
	}
}

func (a *App) Close() error {
	return a.Store.Close()
}
