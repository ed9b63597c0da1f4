package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/roach88/regsync/internal/app"
	"github.com/roach88/regsync/internal/config"
	"github.com/roach88/regsync/internal/model"
)

// loadConfig loads the .env file (when present) and then the config file
// with environment overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, WrapExitError(ExitCommandError, "failed to load env file", err)
		}
	}
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// setupLogging installs the default slog logger. --verbose forces debug.
func setupLogging(cfg *config.Config, verbose bool, w io.Writer) {
	level := cfg.LogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

// openOffline opens the configured store for a one-shot command. The
// returned close function must be called when done.
func openOffline(cfg *config.Config) (*app.Control, func(), error) {
	backend, err := app.OpenStore(cfg.Database)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	closeFn := func() {
		if err := backend.Close(); err != nil {
			slog.Error("error closing store", "error", err)
		}
	}
	return app.NewOfflineControl(backend), closeFn, nil
}

// prepare loads config, sets up logging on the command's error stream and
// opens the store. Failures are also reported through out.
func prepare(opts *RootOptions, cmd *cobra.Command, out *Printer) (*app.Control, func(), error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		out.Fail(ErrCodeConfig, err, map[string]string{"config": opts.Config, "env_file": opts.EnvFile})
		return nil, nil, err
	}
	setupLogging(cfg, opts.Verbose, cmd.ErrOrStderr())
	ctl, closeFn, err := openOffline(cfg)
	if err != nil {
		out.Fail(ErrCodeStore, err, map[string]string{"backend": cfg.Database.Backend, "path": cfg.Database.Path})
		return nil, nil, err
	}
	return ctl, closeFn, nil
}

func printer(opts *RootOptions, cmd *cobra.Command) *Printer {
	return &Printer{
		JSON:    opts.Format == "json",
		Out:     cmd.OutOrStdout(),
		Err:     cmd.ErrOrStderr(),
		Verbose: opts.Verbose,
	}
}

// requestError reports a rejected change request and maps it to an exit
// code. Invalid requests are command errors; anything else is a failure.
func requestError(out *Printer, err error) error {
	code := ExitFailure
	if errors.Is(err, app.ErrInvalidRequest) || errors.Is(err, model.ErrUnknownAction) {
		code = ExitCommandError
	}
	out.Fail(ErrCodeRequest, err, nil)
	return WrapExitError(code, "request rejected", err)
}

// parseTagArgs parses group=tag1,tag2 arguments. Repeating a group adds to
// it.
func parseTagArgs(args []string) (model.TagGroups, error) {
	groups := model.TagGroups{}
	for _, arg := range args {
		group, tags, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(group) == "" {
			return nil, fmt.Errorf("invalid tag argument %q: want group=tag1,tag2", arg)
		}
		for _, tag := range strings.Split(tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				groups.Add(strings.TrimSpace(group), tag)
			}
		}
	}
	return groups, nil
}

// silenceLogs discards log output.
func silenceLogs() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}
