package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/regsync/internal/model"
)

// SaveScheduled inserts a scheduled task and returns its id. A delayed row
// first removes earlier delayed rows for the same action.
func (s *Store) SaveScheduled(ctx context.Context, task model.Task, fireAt time.Time, delayed bool) (int64, error) {
	descriptor, err := model.EncodeTask(task)
	if err != nil {
		return 0, fmt.Errorf("save scheduled: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("save scheduled: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if delayed {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM scheduled_tasks WHERE action = ? AND delayed = 1`, string(task.Action),
		); err != nil {
			return 0, fmt.Errorf("save scheduled: replace %s: %w", task.Action, err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (action, descriptor, fire_at, delayed, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(task.Action), string(descriptor), fireAt.UnixMilli(), delayed, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("save scheduled: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("save scheduled: last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("save scheduled: commit: %w", err)
	}
	return id, nil
}

// DueScheduled returns tasks whose fire time has passed.
func (s *Store) DueScheduled(ctx context.Context, now time.Time) ([]ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, descriptor, fire_at, delayed
		FROM scheduled_tasks
		WHERE fire_at <= ?
		ORDER BY fire_at ASC, id ASC
	`, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query due tasks: %w", err)
	}
	defer rows.Close()
	return scanScheduled(rows)
}

// ListScheduled returns all pending tasks.
func (s *Store) ListScheduled(ctx context.Context) ([]ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, descriptor, fire_at, delayed
		FROM scheduled_tasks
		ORDER BY fire_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query scheduled tasks: %w", err)
	}
	defer rows.Close()
	return scanScheduled(rows)
}

// DeleteScheduled removes the task with the given id.
func (s *Store) DeleteScheduled(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete scheduled %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete scheduled %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete scheduled %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanScheduled(rows *sql.Rows) ([]ScheduledTask, error) {
	tasks := []ScheduledTask{}
	for rows.Next() {
		var (
			id         int64
			descriptor string
			fireAt     int64
			delayed    bool
		)
		if err := rows.Scan(&id, &descriptor, &fireAt, &delayed); err != nil {
			return nil, fmt.Errorf("scan scheduled task: %w", err)
		}
		task, err := model.DecodeTask([]byte(descriptor))
		if err != nil {
			return nil, fmt.Errorf("scheduled task %d: %w", id, err)
		}
		tasks = append(tasks, ScheduledTask{
			ID:      id,
			Task:    task,
			FireAt:  time.UnixMilli(fireAt),
			Delayed: delayed,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scheduled tasks: %w", err)
	}
	return tasks, nil
}
