// Package app builds the engine shared by the CLI commands from the configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackadi-io/netbatch/internal/config"
	"github.com/jackadi-io/netbatch/internal/executor"
	"github.com/jackadi-io/netbatch/internal/intent"
	"github.com/jackadi-io/netbatch/internal/inventory"
	"github.com/jackadi-io/netbatch/internal/pipeline"
	"github.com/jackadi-io/netbatch/internal/pool"
	"github.com/jackadi-io/netbatch/internal/service"
	"github.com/jackadi-io/netbatch/internal/sink"
	"github.com/jackadi-io/netbatch/internal/transport/ssh"
)

type Options struct {
	// Persist opens the result store and starts the background pipeline.
	Persist bool
	// Dialer replaces the SSH dialer.
	Dialer pool.Dialer
}

type App struct {
	Config   *config.Config
	Service  *service.Service
	Pool     *pool.Pool
	Store    *sink.Store
	Pipeline *pipeline.Processor

	cancel context.CancelFunc
}

// New wires inventory, intents, pool, executor, and optionally the result store, from cfg.
//
// A result store which cannot be opened (e.g. locked by `netbatch serve`) only disables persistence.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	inv, err := inventory.Load(cfg.InventoryFile)
	if err != nil {
		return nil, err
	}

	catalog, err := LoadCatalog(cfg.IntentsFile)
	if err != nil {
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer, err = ssh.NewDialer(cfg.SSH)
		if err != nil {
			return nil, fmt.Errorf("invalid ssh configuration: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	a := &App{
		Config: cfg,
		Pool:   pool.New(dialer, pool.Options{IdleEviction: cfg.Pool.IdleEviction, DialTimeout: cfg.Pool.DialTimeout}),
		cancel: cancel,
	}
	go a.Pool.RunReaper(ctx, config.PoolReapInterval)

	// a nil *Processor must not reach the service as a non-nil interface.
	var submitter service.Submitter
	if opts.Persist {
		store, err := sink.Open(cfg.DatabaseDir, sink.Options{TTL: cfg.Results.TTL})
		if err != nil {
			slog.Warn("result store unavailable, results will not be persisted", "error", err)
		} else {
			a.Store = store
			go store.RunGC(ctx)

			a.Pipeline = pipeline.New(store, pipeline.Options{QueueSize: cfg.Results.QueueSize}, pipeline.SummaryAnalyzer{})
			a.Pipeline.Start(ctx)
			submitter = a.Pipeline
		}
	}

	a.Service = service.New(inv, executor.New(a.Pool), submitter, catalog, Defaults(cfg))
	return a, nil
}

// Defaults returns the executor options configured in cfg.
func Defaults(cfg *config.Config) executor.Options {
	return executor.Options{
		MaxConcurrency:     cfg.Execution.MaxConcurrency,
		CommandTimeout:     cfg.Execution.CommandTimeout,
		StopOnFirstFailure: cfg.Execution.StopOnFirstFailure,
		AcquireRetries:     cfg.Execution.AcquireRetries,
	}
}

// LoadCatalog reads the intent catalog, the built-in one is used when path does not exist.
func LoadCatalog(path string) (*intent.Catalog, error) {
	if path == "" {
		return intent.Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Debug("no intent catalog, using built-in intents", "path", path)
		return intent.Default(), nil
	}
	return intent.Load(path)
}

// ReloadInventory reads the inventory file again and swaps it in the service.
func (a *App) ReloadInventory() error {
	inv, err := inventory.Load(a.Config.InventoryFile)
	if err != nil {
		return err
	}
	a.Service.SetInventory(inv)
	return nil
}

// Close drains the pipeline then closes every connection and the store.
func (a *App) Close() error {
	if a.Pipeline != nil {
		a.Pipeline.Close()
		stats := a.Pipeline.Stats()
		slog.Debug("pipeline stopped", "persisted", stats.Persisted, "failed", stats.Failed, "dropped", stats.Dropped)
	}
	a.cancel()

	errs := []error{a.Pool.CloseAll()}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
