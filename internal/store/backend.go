package store

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/regsync/internal/model"
)

// ErrNotFound is returned when a scheduled task id does not exist.
var ErrNotFound = errors.New("not found")

// Batch is a set of writes applied atomically.
type Batch struct {
	Put    map[string]string
	Delete []string
}

// IsEmpty reports whether the batch has nothing to apply.
func (b Batch) IsEmpty() bool {
	return len(b.Put) == 0 && len(b.Delete) == 0
}

// KV is persisted key/value storage for identity state.
type KV interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	// Apply performs every put and delete in b atomically.
	Apply(ctx context.Context, b Batch) error
}

// ScheduledTask is a task waiting for its fire time.
type ScheduledTask struct {
	ID     int64
	Task   model.Task
	FireAt time.Time
	// Delayed marks a retry scheduled by the engine itself, as opposed to
	// an immediate submission from another process.
	Delayed bool
}

// TaskStore persists tasks that must be enqueued later, possibly by another
// process.
type TaskStore interface {
	// SaveScheduled stores task to fire at fireAt. A delayed row replaces
	// any earlier delayed row for the same action. Immediate submissions
	// (delayed false) are never replaced.
	SaveScheduled(ctx context.Context, task model.Task, fireAt time.Time, delayed bool) (int64, error)
	// DueScheduled returns tasks with FireAt <= now, oldest first.
	DueScheduled(ctx context.Context, now time.Time) ([]ScheduledTask, error)
	// ListScheduled returns every pending task, oldest first.
	ListScheduled(ctx context.Context) ([]ScheduledTask, error)
	// DeleteScheduled removes one task. Returns ErrNotFound if absent.
	DeleteScheduled(ctx context.Context, id int64) error
}

// Backend is a complete storage implementation.
type Backend interface {
	KV
	TaskStore
	Close() error
}

var _ Backend = (*Store)(nil)
