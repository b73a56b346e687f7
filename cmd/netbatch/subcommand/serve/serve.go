package serve

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackadi-io/netbatch/cmd/netbatch/app"
	"github.com/jackadi-io/netbatch/cmd/netbatch/option"
	"github.com/jackadi-io/netbatch/cmd/netbatch/style"
	"github.com/jackadi-io/netbatch/internal/api"
	"github.com/spf13/cobra"
)

func Command() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Serve the HTTP API, SIGHUP reloads the inventory",
		Args:    cobra.NoArgs,
		GroupID: "operations",
		Run: func(cmd *cobra.Command, args []string) {
			if err := run(cmd); err != nil {
				style.Fatal(err)
			}
		},
	}
}

func run(cmd *cobra.Command) error {
	cfg, err := option.LoadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, app.Options{Persist: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	}()

	go reloadOnHangup(ctx, a)

	opts := api.Options{
		Pool:         a.Pool,
		BatchTimeout: cfg.Execution.BatchTimeout,
	}
	// a nil *sink.Store must not reach the API as a non-nil interface.
	if a.Store != nil {
		opts.Store = a.Store
	}

	slog.Info("netbatch API", "devices", a.Service.Inventory().Len(), "persistence", a.Store != nil)
	err = api.Serve(ctx, cfg, a.Service, opts)
	slog.Warn("shutdown")
	return err
}

func reloadOnHangup(ctx context.Context, a *app.App) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			if err := a.ReloadInventory(); err != nil {
				slog.Error("inventory not reloaded", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
