package orchestrator

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/roach88/regsync/internal/backoff"
	"github.com/roach88/regsync/internal/directory"
	"github.com/roach88/regsync/internal/identity"
	"github.com/roach88/regsync/internal/model"
)

// tagFacet binds one tag group owner to its storage, backoff and retry.
type tagFacet struct {
	pending identity.TagFacet
	backoff backoff.Facet
	retry   model.Action
	owner   directory.OwnerKind
}

var (
	channelTags = tagFacet{
		pending: identity.ChannelTags,
		backoff: backoff.ChannelTags,
		retry:   model.ActionRetryUpdateChannelTagGroups,
		owner:   directory.OwnerChannel,
	}
	namedUserTags = tagFacet{
		pending: identity.NamedUserTags,
		backoff: backoff.NamedUserTags,
		retry:   model.ActionRetryUpdateNamedUserTags,
		owner:   directory.OwnerNamedUser,
	}
)

// updateTagGroups merges the task's delta into the facet's pending delta
// and sends the whole pending delta once the owner is known.
func (o *Orchestrator) updateTagGroups(ctx context.Context, f tagFacet, task model.Task) error {
	pending, err := o.state.MergePendingTags(ctx, f.pending, task.Add, task.Remove)
	if err != nil {
		return err
	}
	o.deltaStored = true

	ownerID, err := o.tagOwner(ctx, f)
	if err != nil {
		return err
	}
	if ownerID == "" {
		slog.Debug("tag group owner unknown, delta kept pending", "facet", f.pending)
		return nil
	}
	if pending.IsEmpty() {
		return nil
	}

	owner := directory.Owner{Kind: f.owner, ID: ownerID}
	resp, err := o.directory.UpdateTagGroups(ctx, owner, pending.Add, pending.Remove)

	switch {
	case err != nil || resp.ServerError():
		// The merged delta is already stored; the retry resends it.
		slog.Info("tag group update failed, will retry", "facet", f.pending, "status", resp.Status, "error", err)
		o.scheduleRetry(ctx, f.backoff, model.NewRetryTask(f.retry, 0))
		return nil

	case resp.Success():
		if err := o.state.ClearPendingTags(ctx, f.pending); err != nil {
			return err
		}
		slog.Info("tag groups updated", "facet", f.pending, "status", resp.Status)
		o.resetBackoff(f.backoff)
		logTagIssues(f, resp)
		return nil

	default:
		slog.Info("tag group update rejected", "facet", f.pending, "status", resp.Status)
		o.resetBackoff(f.backoff)
		logTagIssues(f, resp)
		if resp.Status == http.StatusBadRequest || resp.Status == http.StatusForbidden {
			return o.state.ClearPendingTags(ctx, f.pending)
		}
		// Stored delta stays for the next tag update.
		return nil
	}
}

func (o *Orchestrator) tagOwner(ctx context.Context, f tagFacet) (string, error) {
	if f.owner == directory.OwnerNamedUser {
		nu, err := o.state.NamedUser(ctx)
		if err != nil || nu.ID == nil {
			return "", err
		}
		return *nu.ID, nil
	}
	ch, err := o.state.Channel(ctx)
	if err != nil {
		return "", err
	}
	return ch.ID, nil
}

func logTagIssues(f tagFacet, resp directory.Response) {
	warnings, errMsg := resp.Issues()
	for _, w := range warnings {
		slog.Info("tag group warning", "facet", f.pending, "warning", w)
	}
	if errMsg != "" {
		slog.Info("tag group error", "facet", f.pending, "error", errMsg)
	}
}
