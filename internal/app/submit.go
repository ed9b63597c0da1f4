package app

import (
	"context"
	"errors"

	"github.com/roach88/regsync/internal/engine"
	"github.com/roach88/regsync/internal/model"
	"github.com/roach88/regsync/internal/store"
)

// ErrStopped is returned when a task is submitted to a stopped scheduler.
var ErrStopped = errors.New("scheduler stopped")

// ErrInvalidRequest wraps change requests that can never succeed as given.
var ErrInvalidRequest = errors.New("invalid request")

// Submitter hands a task to the engine.
type Submitter interface {
	Submit(ctx context.Context, task model.Task) error
}

// QueueSubmitter enqueues into an in-process scheduler.
type QueueSubmitter struct {
	Scheduler *engine.Scheduler
}

// Submit enqueues task.
func (q QueueSubmitter) Submit(_ context.Context, task model.Task) error {
	if !q.Scheduler.Enqueue(task) {
		return ErrStopped
	}
	return nil
}

// StoreSubmitter persists the task as due now, for a scheduler running in
// another process.
type StoreSubmitter struct {
	Tasks store.TaskStore
	Clock engine.Clock
}

// Submit writes task to the store.
func (s StoreSubmitter) Submit(ctx context.Context, task model.Task) error {
	clock := s.Clock
	if clock == nil {
		clock = engine.SystemClock{}
	}
	return engine.Submit(ctx, s.Tasks, task, clock.Now())
}
