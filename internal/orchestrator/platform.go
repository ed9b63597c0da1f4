package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/regsync/internal/backoff"
	"github.com/roach88/regsync/internal/model"
	"github.com/roach88/regsync/internal/platform"
)

// startRegistration runs platform token registration when it is allowed
// and the stored token is stale, otherwise goes straight to channel
// registration. A request while a registration is outstanding is dropped;
// the in-flight attempt covers it.
func (o *Orchestrator) startRegistration(ctx context.Context) error {
	if o.registering {
		slog.Debug("platform registration already in progress")
		return nil
	}

	needed, err := o.needsPlatformRegistration(ctx)
	if err != nil {
		return err
	}
	if !needed {
		return o.performChannelRegistration(ctx)
	}
	return o.registerPlatform(ctx)
}

func (o *Orchestrator) needsPlatformRegistration(ctx context.Context) (bool, error) {
	if !o.cfg.Platform.Allowed() {
		return false, nil
	}
	stored, found, err := o.state.PlatformRegistration(ctx)
	if err != nil {
		return false, err
	}
	return platform.NeedsRegistration(stored, found, o.cfg.Fingerprint), nil
}

// registerPlatform asks the registrar for a token. On success the token is
// stored and platform-registration-finished is chained; the in-flight flag
// stays set until that task runs.
func (o *Orchestrator) registerPlatform(ctx context.Context) error {
	if o.registrar == nil {
		slog.Error("no platform registrar configured, registering without a token")
		o.resetBackoff(backoff.PlatformRegistration)
		return o.performChannelRegistration(ctx)
	}

	o.registering = true
	slog.Info("starting platform registration", "transport", o.cfg.Fingerprint.Transport)

	token, err := o.registrar.Register(ctx, o.cfg.Fingerprint.SenderIDs)
	switch {
	case errors.Is(err, platform.ErrUnavailable):
		slog.Error("platform registration unavailable", "error", err)
		o.registering = false
		o.resetBackoff(backoff.PlatformRegistration)
		return o.performChannelRegistration(ctx)

	case err != nil:
		slog.Error("platform registration failed, will retry", "error", err)
		o.registering = false
		o.scheduleRetry(ctx, backoff.PlatformRegistration, model.NewRetryTask(model.ActionRetryPlatformRegistration, 0))
		return nil
	}

	if err := o.state.SetPlatformRegistration(ctx, o.cfg.Fingerprint.Record(token)); err != nil {
		o.registering = false
		return err
	}
	o.resetBackoff(backoff.PlatformRegistration)
	slog.Info("platform registration succeeded")
	o.chain(model.ActionPlatformRegistrationFinished)
	return nil
}

// pushToken returns the stored platform token, or "" when platform
// registration is not allowed.
func (o *Orchestrator) pushToken(ctx context.Context) (string, error) {
	if !o.cfg.Platform.Allowed() {
		return "", nil
	}
	reg, _, err := o.state.PlatformRegistration(ctx)
	if err != nil {
		return "", err
	}
	return reg.Token, nil
}
