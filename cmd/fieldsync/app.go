package main

import (
	"context"
	"fmt"
	"os"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/config"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/connectivity"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/db"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/logging"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/remote"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/repository"
	syncpkg "github.com/radclaudiu/ProductivaWorking-sub000/internal/sync"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/sync/conflict"
)

// app holds the collaborators every data command needs.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	db       *db.DB
	monitor  *connectivity.Monitor
	prober   *connectivity.Prober
	registry *repository.Registry
}

// openApp loads configuration and opens the local store. onPending, when set, receives
// pending-count changes from every repository.
func openApp(ctx context.Context, opts *rootOptions, onPending func(entity string, pending int)) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &app{cfg: cfg, logger: newLogger(cfg.Log)}
	logging.SetGlobal(a.logger)

	a.db, err = db.OpenMigrated(cfg.DataDir)
	if err != nil {
		a.logger.Close()
		return nil, err
	}

	a.monitor = connectivity.NewMonitor(!opts.offline)
	if cfg.Connectivity.ProbeURL != "" && !opts.offline {
		a.prober = connectivity.NewProber(a.monitor, cfg.Connectivity.ProbeURL, cfg.Connectivity.ProbeInterval)
		a.prober.Probe(ctx)
	}

	client := remote.NewClient(cfg.Server.BaseURL,
		remote.WithToken(cfg.Server.Token),
		remote.WithScope(cfg.ScopeID),
		remote.WithTimeout(cfg.Server.Timeout),
	)

	a.registry, err = repository.NewRegistry(repository.Deps{
		DB:     a.db.DB,
		Client: client,
		Oracle: a.monitor,
		Engine: syncpkg.Options{
			ScopeID:     cfg.ScopeID,
			SkipEmpty:   cfg.Sync.SkipEmptyEnabled(),
			BackoffBase: cfg.Sync.BackoffBase,
			BackoffMax:  cfg.Sync.BackoffMax,
			Detector:    conflict.NewDetector(),
		},
		Options: repository.Options{
			CacheTTL:        cfg.Cache.TTL,
			OnPendingChange: onPending,
		},
	}, cfg.EnabledEntities())
	if err != nil {
		a.db.Close()
		a.logger.Close()
		return nil, err
	}
	return a, nil
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	if opts.configPath != "" {
		config.SetPath(opts.configPath)
		defer config.SetPath("")
	}
	cfg, err := config.Load()
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config file %s not found (run 'fieldsync init')", config.Path())
	}
	return cfg, err
}

func newLogger(cfg config.LogConfig) *logging.Logger {
	level := logging.ParseLevel(cfg.Level)
	if cfg.File != "" {
		return logging.NewFile(logging.FileOptions{Path: cfg.File}, level, false)
	}
	return logging.New(os.Stderr, level)
}

// handle returns the repository for entity or an error naming the enabled ones.
func (a *app) handle(entity string) (repository.Handle, error) {
	h, ok := a.registry.Handle(entity)
	if !ok {
		return nil, fmt.Errorf("entity %q is not enabled (enabled: %v)", entity, a.cfg.EnabledEntities())
	}
	return h, nil
}

func (a *app) Close() error {
	a.registry.Close()
	err := a.db.Close()
	a.logger.Close()
	return err
}
