package orchestrator

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/roach88/regsync/internal/backoff"
	"github.com/roach88/regsync/internal/directory"
	"github.com/roach88/regsync/internal/model"
)

// updateNamedUser pushes the locally requested named-user association.
//
// A 403 resets backoff without recording the change token, so the change
// stays pending until the id is set again. Nothing re-checks it before then.
func (o *Orchestrator) updateNamedUser(ctx context.Context) error {
	nu, err := o.state.NamedUser(ctx)
	if err != nil {
		return err
	}
	if nu.NeverRequested() {
		slog.Debug("named user never set, skipping")
		return nil
	}
	if nu.InSync() {
		slog.Debug("named user already up to date")
		return nil
	}

	ch, err := o.state.Channel(ctx)
	if err != nil {
		return err
	}
	if ch.ID == "" {
		slog.Info("no channel yet, named user update deferred until channel creation")
		return nil
	}

	var resp directory.Response
	if nu.ID != nil {
		resp, err = o.directory.AssociateNamedUser(ctx, *nu.ID, ch.ID)
	} else {
		resp, err = o.directory.DisassociateNamedUser(ctx, ch.ID)
	}

	switch {
	case err != nil || resp.ServerError():
		slog.Info("named user update failed, will retry", "status", resp.Status, "error", err)
		o.scheduleRetry(ctx, backoff.NamedUser, model.NewRetryTask(model.ActionRetryUpdateNamedUser, 0))
		return nil

	case resp.Success():
		if err := o.state.SetLastUpdatedToken(ctx, nu.ChangeToken); err != nil {
			return err
		}
		slog.Info("named user updated", "status", resp.Status, "associated", nu.ID != nil)
		o.resetBackoff(backoff.NamedUser)
		o.chain(model.ActionUpdateNamedUserTags)
		return nil

	case resp.Status == http.StatusForbidden:
		slog.Info("named user update forbidden for this app configuration", "status", resp.Status)
		o.resetBackoff(backoff.NamedUser)
		return nil

	default:
		slog.Info("named user update rejected", "status", resp.Status)
		o.resetBackoff(backoff.NamedUser)
		return nil
	}
}
