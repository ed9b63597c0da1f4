// Package badgerstore implements store.Backend on an embedded BadgerDB.
//
// Keys are laid out as:
//
//	pref/<name>                        identity value
//	sched/<fire_at_ms hex>/<id hex>    encoded task descriptor
//
// Hex widths are fixed so lexical key order equals fire order, then id
// order. BadgerDB takes an exclusive directory lock: unlike the SQLite
// backend, a second process cannot open the same database to submit tasks.
// Use the admin HTTP surface for cross-process submission with this backend.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/regsync/internal/model"
	"github.com/roach88/regsync/internal/store"
)

const (
	prefPrefix  = "pref/"
	schedPrefix = "sched/"
	seqKey      = "meta/sched_seq"
)

// metaDelayed is the user meta bit on scheduled entries written as delayed
// retries.
const metaDelayed byte = 1

// Config holds configuration for a BadgerDB-backed store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory disables disk persistence. Useful for testing.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

// DefaultConfig returns durable settings for the given path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns settings for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Store is a store.Backend on BadgerDB.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

var _ store.Backend = (*Store)(nil)

// Open opens the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	seq, err := db.GetSequence([]byte(seqKey), 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open task id sequence: %w", err)
	}

	return &Store{db: db, seq: seq}, nil
}

// Close releases the id sequence and closes the database.
func (s *Store) Close() error {
	var errs []error
	if s.seq != nil {
		errs = append(errs, s.seq.Release())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

// Get returns the stored value for key.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		b, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		value, found = string(b), true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, found, nil
}

// Put stores value under key.
func (s *Store) Put(ctx context.Context, key, value string) error {
	return s.Apply(ctx, store.Batch{Put: map[string]string{key: value}})
}

// Delete removes keys. Missing keys are ignored.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	return s.Apply(ctx, store.Batch{Delete: keys})
}

// Apply writes the batch in one transaction. Deletes run after puts.
func (s *Store) Apply(_ context.Context, b store.Batch) error {
	if b.IsEmpty() {
		return nil
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for k, v := range b.Put {
			if err := txn.Set([]byte(prefPrefix+k), []byte(v)); err != nil {
				return fmt.Errorf("put %q: %w", k, err)
			}
		}
		for _, k := range b.Delete {
			if err := txn.Delete([]byte(prefPrefix + k)); err != nil {
				return fmt.Errorf("delete %q: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply batch: %w", err)
	}
	return nil
}

// SaveScheduled stores a task to fire at fireAt. A delayed entry first
// removes earlier delayed entries for the same action.
func (s *Store) SaveScheduled(_ context.Context, task model.Task, fireAt time.Time, delayed bool) (int64, error) {
	descriptor, err := model.EncodeTask(task)
	if err != nil {
		return 0, fmt.Errorf("save scheduled: %w", err)
	}
	next, err := s.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("save scheduled: next id: %w", err)
	}
	// Sequences start at zero; ids start at one like SQLite rowids.
	id := int64(next) + 1

	err = s.db.Update(func(txn *badger.Txn) error {
		if delayed {
			entries, err := scanPrefix(txn, schedPrefix)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if !e.Delayed || e.Task.Action != task.Action {
					continue
				}
				if err := txn.Delete([]byte(schedKey(e.FireAt, e.ID))); err != nil {
					return err
				}
			}
		}
		entry := badger.NewEntry([]byte(schedKey(fireAt, id)), descriptor)
		if delayed {
			entry = entry.WithMeta(metaDelayed)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return 0, fmt.Errorf("save scheduled: %w", err)
	}
	return id, nil
}

// DueScheduled returns tasks whose fire time has passed.
func (s *Store) DueScheduled(_ context.Context, now time.Time) ([]store.ScheduledTask, error) {
	var due []store.ScheduledTask
	err := s.db.View(func(txn *badger.Txn) error {
		entries, err := scanPrefix(txn, schedPrefix)
		if err != nil {
			return err
		}
		cutoff := toMillis(now)
		for _, e := range entries {
			// Keys are ordered by fire time; nothing later is due.
			if toMillis(e.FireAt) > cutoff {
				break
			}
			due = append(due, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query due tasks: %w", err)
	}
	if due == nil {
		due = []store.ScheduledTask{}
	}
	return due, nil
}

// ListScheduled returns all pending tasks.
func (s *Store) ListScheduled(_ context.Context) ([]store.ScheduledTask, error) {
	var all []store.ScheduledTask
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		all, err = scanPrefix(txn, schedPrefix)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query scheduled tasks: %w", err)
	}
	return all, nil
}

// DeleteScheduled removes the task with the given id.
func (s *Store) DeleteScheduled(_ context.Context, id int64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		entries, err := scanPrefix(txn, schedPrefix)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.ID == id {
				return txn.Delete([]byte(schedKey(e.FireAt, e.ID)))
			}
		}
		return store.ErrNotFound
	})
	if err != nil {
		return fmt.Errorf("delete scheduled %d: %w", id, err)
	}
	return nil
}

func scanPrefix(txn *badger.Txn, prefix string) ([]store.ScheduledTask, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	out := []store.ScheduledTask{}
	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		item := it.Item()
		key := string(item.KeyCopy(nil))
		fireAt, id, err := parseSchedKey(key)
		if err != nil {
			return nil, err
		}
		b, err := item.ValueCopy(nil)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		task, err := model.DecodeTask(b)
		if err != nil {
			return nil, fmt.Errorf("scheduled task %d: %w", id, err)
		}
		out = append(out, store.ScheduledTask{
			ID:      id,
			Task:    task,
			FireAt:  fireAt,
			Delayed: item.UserMeta()&metaDelayed != 0,
		})
	}
	return out, nil
}

func schedKey(fireAt time.Time, id int64) string {
	return fmt.Sprintf("%s%016x/%016x", schedPrefix, toMillis(fireAt), uint64(id))
}

func parseSchedKey(key string) (time.Time, int64, error) {
	var ms, id uint64
	if _, err := fmt.Sscanf(strings.TrimPrefix(key, schedPrefix), "%016x/%016x", &ms, &id); err != nil {
		return time.Time{}, 0, fmt.Errorf("malformed scheduled key %q: %w", key, err)
	}
	return time.UnixMilli(int64(ms)), int64(id), nil
}

// toMillis clamps pre-epoch times to zero so keys stay unsigned.
func toMillis(t time.Time) uint64 {
	ms := t.UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}
