package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/regsync/internal/api"
	"github.com/roach88/regsync/internal/app"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Admin bool

	// AppOptions are passed to app.New (for testing).
	AppOptions []app.Option
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the registration engine",
		Long: `Start the regsync engine.

Opens the store (creating it if needed), stores the configured device
settings, enqueues the app-start registration and processes tasks until
interrupted. An update-registration task is enqueued every registration
interval. Tasks submitted by other regsync commands are picked up on the
next poll.

Example:
  regsync run --config regsync.toml
  regsync run --config regsync.toml --admin --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Admin, "admin", false, "serve the admin HTTP API (overrides admin.enabled)")

	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	setupLogging(cfg, opts.Verbose, cmd.ErrOrStderr())

	slog.Info("opening store", "backend", cfg.Database.Backend, "path", cfg.Database.Path)
	backend, err := app.OpenStore(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			slog.Error("error closing store", "error", closeErr)
		}
	}()

	a, err := app.New(cfg, backend, opts.AppOptions...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build engine", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if opts.Admin || cfg.Admin.Enabled {
		handler := api.NewServer(a,
			api.WithGatherer(a.Registry()),
			api.WithMiddlewares(api.LoggingMiddleware),
		)
		go func() {
			if err := api.Serve(ctx, cfg.Admin.Addr, handler); err != nil {
				slog.Error("admin server failed", "addr", cfg.Admin.Addr, "error", err)
			}
		}()
	}

	slog.Info("engine starting", "device_type", cfg.Device.Type, "directory", cfg.Directory.BaseURL)
	fmt.Fprintln(cmd.OutOrStdout(), "Engine started. Press Ctrl-C to stop.")

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	slog.Info("engine stopped gracefully")
	return nil
}
