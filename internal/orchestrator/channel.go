package orchestrator

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/roach88/regsync/internal/backoff"
	"github.com/roach88/regsync/internal/identity"
	"github.com/roach88/regsync/internal/model"
)

// NextPayload builds the channel payload from the stored device settings
// and platform token.
func (o *Orchestrator) NextPayload(ctx context.Context) (model.ChannelPayload, error) {
	settings, _, err := o.state.Settings(ctx)
	if err != nil {
		return model.ChannelPayload{}, err
	}
	token, err := o.pushToken(ctx)
	if err != nil {
		return model.ChannelPayload{}, err
	}
	return identity.BuildPayload(o.cfg.DeviceType, settings, token), nil
}

// performChannelRegistration creates or updates the channel unless the
// directory already has this exact payload and it was sent recently.
func (o *Orchestrator) performChannelRegistration(ctx context.Context) error {
	payload, err := o.NextPayload(ctx)
	if err != nil {
		return err
	}

	upToDate, err := o.upToDate(ctx, payload)
	if err != nil {
		return err
	}
	if upToDate {
		slog.Debug("channel already up to date")
		return nil
	}

	ch, err := o.state.Channel(ctx)
	if err != nil {
		return err
	}
	if ch.Exists() {
		return o.updateChannel(ctx, ch, payload)
	}
	return o.createChannel(ctx, payload)
}

// upToDate reports whether payload matches the snapshot and the snapshot is
// younger than the re-registration interval.
func (o *Orchestrator) upToDate(ctx context.Context, payload model.ChannelPayload) (bool, error) {
	snap, ok, err := o.state.Snapshot(ctx)
	if err != nil || !ok {
		return false, err
	}
	if snap.Age(o.clock.Now()) >= o.cfg.ReregistrationInterval {
		return false, nil
	}
	return snap.Payload.Equal(payload), nil
}

func (o *Orchestrator) updateChannel(ctx context.Context, ch identity.Channel, payload model.ChannelPayload) error {
	resp, err := o.directory.UpdateChannel(ctx, ch.Location, payload)

	switch {
	case err != nil || resp.ServerError():
		slog.Error("channel update failed, will retry", "status", resp.Status, "error", err)
		o.scheduleRetry(ctx, backoff.ChannelRegistration, model.NewRetryTask(model.ActionRetryChannelRegistration, 0))
		return nil

	case resp.Success():
		slog.Info("channel update succeeded", "status", resp.Status, "channel_id", ch.ID)
		snap := identity.Snapshot{Payload: payload, At: o.clock.Now()}
		if err := o.state.SetSnapshot(ctx, snap); err != nil {
			return err
		}
		o.notify(ctx, Result{Success: true, ChannelID: ch.ID, Status: resp.Status})
		o.resetBackoff(backoff.ChannelRegistration)
		return nil

	case resp.Status == http.StatusConflict:
		// The directory no longer knows this channel. Start over as a
		// create within this task.
		slog.Warn("channel conflict, recreating", "channel_id", ch.ID)
		if err := o.state.ClearChannel(ctx); err != nil {
			return err
		}
		return o.createChannel(ctx, payload)

	default:
		slog.Error("channel update rejected", "status", resp.Status, "channel_id", ch.ID)
		o.notify(ctx, Result{ChannelID: ch.ID, Status: resp.Status})
		o.resetBackoff(backoff.ChannelRegistration)
		return nil
	}
}

func (o *Orchestrator) createChannel(ctx context.Context, payload model.ChannelPayload) error {
	resp, err := o.directory.CreateChannel(ctx, payload)

	switch {
	case err != nil || resp.ServerError():
		slog.Error("channel create failed, will retry", "status", resp.Status, "error", err)
		o.scheduleRetry(ctx, backoff.ChannelRegistration, model.NewRetryTask(model.ActionRetryChannelRegistration, 0))
		return nil

	case resp.Status == http.StatusOK || resp.Status == http.StatusCreated:
		if resp.ChannelID == "" || resp.Location == "" {
			slog.Error("channel create returned no identity",
				"status", resp.Status, "channel_id", resp.ChannelID, "channel_location", resp.Location)
			o.notify(ctx, Result{Status: resp.Status})
			o.resetBackoff(backoff.ChannelRegistration)
			return nil
		}

		ch := identity.Channel{ID: resp.ChannelID, Location: resp.Location}
		snap := identity.Snapshot{Payload: payload, At: o.clock.Now()}
		if err := o.state.RecordChannel(ctx, ch, snap); err != nil {
			return err
		}
		slog.Info("channel created", "status", resp.Status, "channel_id", ch.ID)
		o.notify(ctx, Result{Success: true, ChannelID: ch.ID, Status: resp.Status})
		o.resetBackoff(backoff.ChannelRegistration)

		// 200 means the channel already existed, so a named user from a
		// previous install may still be attached to it.
		if resp.Status == http.StatusOK && o.cfg.ClearNamedUserOnReinstall {
			forced, err := o.state.ForceDisassociateIfNil(ctx)
			if err != nil {
				return err
			}
			if forced {
				slog.Info("existing channel found, disassociating named user")
			}
		}

		o.chain(model.ActionUpdateNamedUser)
		o.chain(model.ActionUpdateChannelTagGroups)
		return nil

	default:
		slog.Error("channel create rejected", "status", resp.Status)
		o.notify(ctx, Result{Status: resp.Status})
		o.resetBackoff(backoff.ChannelRegistration)
		return nil
	}
}
