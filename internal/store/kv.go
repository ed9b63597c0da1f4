package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

// Get returns the stored value for key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

// Put stores value under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key, value string) error {
	return s.Apply(ctx, Batch{Put: map[string]string{key: value}})
}

// Delete removes keys. Missing keys are ignored.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	return s.Apply(ctx, Batch{Delete: keys})
}

// Apply writes the batch in one transaction. Deletes run after puts, so a
// key named on both sides ends up deleted.
func (s *Store) Apply(ctx context.Context, b Batch) error {
	if b.IsEmpty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply batch: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	now := s.now().UnixMilli()

	// Sorted for a deterministic statement order.
	keys := make([]string, 0, len(b.Put))
	for k := range b.Put {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO preferences (key, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, k, b.Put[k], now); err != nil {
			return fmt.Errorf("apply batch: put %q: %w", k, err)
		}
	}

	for _, k := range b.Delete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM preferences WHERE key = ?`, k); err != nil {
			return fmt.Errorf("apply batch: delete %q: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply batch: commit: %w", err)
	}
	return nil
}
