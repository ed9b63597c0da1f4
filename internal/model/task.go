package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Action identifies what a task asks the orchestrator to do.
type Action string

const (
	ActionStartPlatformRegistration    Action = "start-platform-registration"
	ActionPlatformRegistrationFinished Action = "platform-registration-finished"
	ActionUpdateRegistration           Action = "update-registration"
	ActionRetryChannelRegistration     Action = "retry-channel-registration"
	ActionRetryPlatformRegistration    Action = "retry-platform-registration"
	ActionUpdateNamedUser              Action = "update-named-user"
	ActionRetryUpdateNamedUser         Action = "retry-update-named-user"
	ActionUpdateChannelTagGroups       Action = "update-channel-tag-groups"
	ActionRetryUpdateChannelTagGroups  Action = "retry-update-channel-tag-groups"
	ActionUpdateNamedUserTags          Action = "update-named-user-tags"
	ActionRetryUpdateNamedUserTags     Action = "retry-update-named-user-tags"
	ActionClearPendingNamedUserTags    Action = "clear-pending-named-user-tags"
)

// ErrUnknownAction is returned when an action string is not one of the
// known actions.
var ErrUnknownAction = errors.New("unknown action")

// Actions lists every action in declaration order.
var Actions = []Action{
	ActionStartPlatformRegistration,
	ActionPlatformRegistrationFinished,
	ActionUpdateRegistration,
	ActionRetryChannelRegistration,
	ActionRetryPlatformRegistration,
	ActionUpdateNamedUser,
	ActionRetryUpdateNamedUser,
	ActionUpdateChannelTagGroups,
	ActionRetryUpdateChannelTagGroups,
	ActionUpdateNamedUserTags,
	ActionRetryUpdateNamedUserTags,
	ActionClearPendingNamedUserTags,
}

// ParseAction validates s and returns it as an Action.
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// CarriesTags reports whether tasks for this action may carry a tag delta.
func (a Action) CarriesTags() bool {
	switch a {
	case ActionUpdateChannelTagGroups, ActionRetryUpdateChannelTagGroups,
		ActionUpdateNamedUserTags, ActionRetryUpdateNamedUserTags:
		return true
	}
	return false
}

// Task is a unit of work for the scheduler.
//
// BackOff is set on retry tasks and carries the delay that was in force when
// the retry was scheduled, so the counter can be restored after a restart.
type Task struct {
	Action  Action
	BackOff *time.Duration
	Add     TagGroups
	Remove  TagGroups
}

// NewTask returns a task with no payload.
func NewTask(a Action) Task {
	return Task{Action: a}
}

// NewRetryTask returns a task carrying the given backoff.
func NewRetryTask(a Action, backOff time.Duration) Task {
	return Task{Action: a, BackOff: &backOff}
}

// NewTagTask returns a task carrying a tag delta.
func NewTagTask(a Action, add, remove TagGroups) Task {
	return Task{Action: a, Add: add, Remove: remove}
}

// String returns the action for logging.
func (t Task) String() string {
	return string(t.Action)
}

// taskJSON is the stored form of a Task.
type taskJSON struct {
	Action    string    `json:"action"`
	BackOffMS *int64    `json:"backoff_ms,omitempty"`
	Add       TagGroups `json:"add,omitempty"`
	Remove    TagGroups `json:"remove,omitempty"`
}

// EncodeTask serializes a task for durable storage.
func EncodeTask(t Task) ([]byte, error) {
	w := taskJSON{Action: string(t.Action)}
	if t.BackOff != nil {
		ms := t.BackOff.Milliseconds()
		w.BackOffMS = &ms
	}
	if !t.Add.IsEmpty() {
		w.Add = t.Add
	}
	if !t.Remove.IsEmpty() {
		w.Remove = t.Remove
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode task %s: %w", t.Action, err)
	}
	return b, nil
}

// DecodeTask parses a stored task. Unknown actions are rejected.
func DecodeTask(data []byte) (Task, error) {
	var w taskJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	a, err := ParseAction(w.Action)
	if err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	t := Task{Action: a, Add: w.Add, Remove: w.Remove}
	if w.BackOffMS != nil {
		d := time.Duration(*w.BackOffMS) * time.Millisecond
		t.BackOff = &d
	}
	return t, nil
}
