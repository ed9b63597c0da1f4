package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/regsync/internal/engine"
	"github.com/roach88/regsync/internal/identity"
	"github.com/roach88/regsync/internal/model"
	"github.com/roach88/regsync/internal/store"
)

// Control performs identity change requests and reads state.
type Control struct {
	state  *identity.State
	tasks  store.TaskStore
	submit Submitter
	clock  engine.Clock
}

// NewControl creates a Control that submits tasks through submit.
func NewControl(state *identity.State, tasks store.TaskStore, submit Submitter, clock engine.Clock) *Control {
	if clock == nil {
		clock = engine.SystemClock{}
	}
	return &Control{state: state, tasks: tasks, submit: submit, clock: clock}
}

// NewOfflineControl creates a Control over backend for use while the
// engine runs in another process.
func NewOfflineControl(backend store.Backend) *Control {
	clock := engine.SystemClock{}
	return NewControl(
		identity.New(backend, identity.UUIDv7Tokens{}),
		backend,
		StoreSubmitter{Tasks: backend, Clock: clock},
		clock,
	)
}

// State returns the identity state.
func (c *Control) State() *identity.State {
	return c.state
}

// SetNamedUser requests association with id. An empty id (after trimming)
// requests disassociation. Nothing is submitted when the id is unchanged.
// Pending named-user tag deltas belonged to the previous user and are
// cleared before the update runs.
func (c *Control) SetNamedUser(ctx context.Context, id string) (bool, error) {
	changed, err := c.state.SetNamedUserID(ctx, id, false)
	if err != nil {
		return false, err
	}
	if !changed {
		slog.Debug("named user unchanged", "named_user_id", id)
		return false, nil
	}
	if err := c.submit.Submit(ctx, model.NewTask(model.ActionClearPendingNamedUserTags)); err != nil {
		return true, err
	}
	if err := c.submit.Submit(ctx, model.NewTask(model.ActionUpdateNamedUser)); err != nil {
		return true, err
	}
	return true, nil
}

// ClearNamedUser requests disassociation.
func (c *Control) ClearNamedUser(ctx context.Context) (bool, error) {
	return c.SetNamedUser(ctx, "")
}

// EditTags submits a tag group delta for facet.
func (c *Control) EditTags(ctx context.Context, facet identity.TagFacet, add, remove model.TagGroups) error {
	add, remove = add.Normalize(), remove.Normalize()
	if add.IsEmpty() && remove.IsEmpty() {
		return fmt.Errorf("%w: tag delta is empty", ErrInvalidRequest)
	}
	action := model.ActionUpdateChannelTagGroups
	if facet == identity.NamedUserTags {
		action = model.ActionUpdateNamedUserTags
	}
	return c.submit.Submit(ctx, model.NewTagTask(action, add, remove))
}

// Enqueue submits a task for action. Only tag actions may carry a delta.
func (c *Control) Enqueue(ctx context.Context, action model.Action, add, remove model.TagGroups) error {
	if !action.CarriesTags() && (!add.IsEmpty() || !remove.IsEmpty()) {
		return fmt.Errorf("%w: action %s does not take tags", ErrInvalidRequest, action)
	}
	return c.submit.Submit(ctx, model.NewTagTask(action, add.Normalize(), remove.Normalize()))
}

// Status is a point-in-time view of the persisted identity.
type Status struct {
	Channel     identity.Channel                         `json:"channel"`
	Snapshot    *SnapshotStatus                          `json:"snapshot,omitempty"`
	NamedUser   NamedUserStatus                          `json:"named_user"`
	Platform    *PlatformStatus                          `json:"platform,omitempty"`
	PendingTags map[identity.TagFacet]model.PendingDelta `json:"pending_tags"`
	Scheduled   []ScheduledStatus                        `json:"scheduled"`
	// Backoff is only known to a running engine.
	Backoff map[string]string `json:"backoff,omitempty"`
}

// SnapshotStatus describes the last accepted registration.
type SnapshotStatus struct {
	Digest string    `json:"digest"`
	At     time.Time `json:"at"`
	Age    string    `json:"age"`
}

// NamedUserStatus describes the named-user association.
type NamedUserStatus struct {
	ID               *string `json:"id"`
	ChangeToken      string  `json:"change_token,omitempty"`
	LastUpdatedToken string  `json:"last_updated_token,omitempty"`
	InSync           bool    `json:"in_sync"`
}

// PlatformStatus describes the stored platform registration without
// exposing the token.
type PlatformStatus struct {
	HasToken   bool   `json:"has_token"`
	AppVersion string `json:"app_version"`
	Transport  string `json:"transport,omitempty"`
}

// ScheduledStatus describes one delayed task.
type ScheduledStatus struct {
	ID      int64        `json:"id"`
	Action  model.Action `json:"action"`
	FireAt  time.Time    `json:"fire_at"`
	BackOff string       `json:"backoff,omitempty"`
}

// Status reads the persisted identity and scheduled tasks.
func (c *Control) Status(ctx context.Context) (Status, error) {
	var st Status
	var err error

	if st.Channel, err = c.state.Channel(ctx); err != nil {
		return Status{}, err
	}

	snap, ok, err := c.state.Snapshot(ctx)
	if err != nil {
		return Status{}, err
	}
	if ok {
		digest, err := snap.Payload.Digest()
		if err != nil {
			return Status{}, err
		}
		st.Snapshot = &SnapshotStatus{
			Digest: digest,
			At:     snap.At.UTC(),
			Age:    snap.Age(c.clock.Now()).Truncate(time.Second).String(),
		}
	}

	nu, err := c.state.NamedUser(ctx)
	if err != nil {
		return Status{}, err
	}
	st.NamedUser = NamedUserStatus{
		ID:               nu.ID,
		ChangeToken:      nu.ChangeToken,
		LastUpdatedToken: nu.LastUpdatedToken,
		InSync:           nu.InSync(),
	}

	reg, found, err := c.state.PlatformRegistration(ctx)
	if err != nil {
		return Status{}, err
	}
	if found {
		st.Platform = &PlatformStatus{HasToken: reg.Token != "", AppVersion: reg.AppVersion, Transport: reg.Transport}
	}

	st.PendingTags = make(map[identity.TagFacet]model.PendingDelta, 2)
	for _, f := range []identity.TagFacet{identity.ChannelTags, identity.NamedUserTags} {
		d, err := c.state.PendingTags(ctx, f)
		if err != nil {
			return Status{}, err
		}
		st.PendingTags[f] = d
	}

	scheduled, err := c.tasks.ListScheduled(ctx)
	if err != nil {
		return Status{}, err
	}
	st.Scheduled = make([]ScheduledStatus, 0, len(scheduled))
	for _, s := range scheduled {
		ss := ScheduledStatus{ID: s.ID, Action: s.Task.Action, FireAt: s.FireAt.UTC()}
		if s.Task.BackOff != nil {
			ss.BackOff = s.Task.BackOff.String()
		}
		st.Scheduled = append(st.Scheduled, ss)
	}
	return st, nil
}
