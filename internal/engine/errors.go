package engine

import (
	"fmt"
	"log/slog"

	"github.com/roach88/regsync/internal/model"
)

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Action model.Action
	Value  any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked on %s: %v", e.Action, e.Value)
}

// logTaskError logs a task failure with full task context.
func logTaskError(task model.Task, err error) {
	attrs := []any{
		"error", err,
		"action", task.Action,
	}
	if task.BackOff != nil {
		attrs = append(attrs, "backoff", *task.BackOff)
	}
	if !task.Add.IsEmpty() || !task.Remove.IsEmpty() {
		attrs = append(attrs, "add_groups", len(task.Add), "remove_groups", len(task.Remove))
	}

	if _, ok := err.(*PanicError); ok {
		slog.Error("task panicked", attrs...)
		return
	}
	slog.Error("task processing failed", attrs...)
}
