package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/regsync/internal/model"
	"github.com/roach88/regsync/internal/store"
	"github.com/roach88/regsync/internal/telemetry"
)

// DefaultPollInterval is how often the store is checked for due tasks
// submitted by other processes.
const DefaultPollInterval = 5 * time.Second

// Handler processes one task.
type Handler interface {
	Handle(ctx context.Context, task model.Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task model.Task) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, task model.Task) error {
	return f(ctx, task)
}

// FailureHandler is implemented by handlers that want to react when a task
// returned an error or panicked, typically by scheduling a retry.
type FailureHandler interface {
	OnTaskFailure(ctx context.Context, task model.Task, err error)
}

// Scheduler is the single-worker task loop.
//
// Thread-safety model:
//   - Enqueue(), ScheduleDelayed(): safe from any goroutine
//   - Run(), Drain(): must be called from exactly one goroutine at a time
type Scheduler struct {
	store        store.TaskStore
	clock        Clock
	afterFunc    AfterFunc
	keepalive    Keepalive
	metrics      *telemetry.Metrics
	pollInterval time.Duration

	queue *taskQueue
	wake  chan struct{}

	timerMu sync.Mutex
	timer   Stopper
	timerAt time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the wall clock. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithAfterFunc replaces time.AfterFunc for delayed wake-ups.
func WithAfterFunc(f AfterFunc) Option {
	return func(s *Scheduler) { s.afterFunc = f }
}

// WithKeepalive sets the keepalive. Default: NewHold(DefaultKeepaliveTimeout).
func WithKeepalive(k Keepalive) Option {
	return func(s *Scheduler) { s.keepalive = k }
}

// WithMetrics records task metrics in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithPollInterval sets how often Run checks the store for due tasks.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// New creates a Scheduler persisting delayed tasks in ts.
func New(ts store.TaskStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        ts,
		clock:        SystemClock{},
		afterFunc:    systemAfterFunc,
		pollInterval: DefaultPollInterval,
		queue:        newTaskQueue(),
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.keepalive == nil {
		s.keepalive = NewHold(DefaultKeepaliveTimeout)
	}
	return s
}

// Enqueue appends a task for immediate processing.
// Returns false if the scheduler has been stopped.
func (s *Scheduler) Enqueue(task model.Task) bool {
	ok := s.queue.Enqueue(task)
	if ok {
		s.metrics.SetQueueDepth(s.queue.Len())
		slog.Debug("task enqueued", "action", task.Action)
	}
	return ok
}

// ScheduleDelayed persists task to be enqueued after delay. Any delayed
// task for the same action that has not fired yet is replaced. The task
// fires even if the process restarts in between.
func (s *Scheduler) ScheduleDelayed(ctx context.Context, task model.Task, delay time.Duration) error {
	fireAt := s.clock.Now().Add(delay)
	if _, err := s.store.SaveScheduled(ctx, task, fireAt, true); err != nil {
		return fmt.Errorf("schedule %s: %w", task.Action, err)
	}
	s.armAt(fireAt)
	slog.Debug("task scheduled", "action", task.Action, "delay", delay, "fire_at", fireAt)
	return nil
}

// Submit persists task to fire immediately. It is the cross-process entry
// point: the running scheduler promotes the row on its next poll. Unlike
// ScheduleDelayed it never replaces existing rows.
func Submit(ctx context.Context, ts store.TaskStore, task model.Task, now time.Time) error {
	if _, err := ts.SaveScheduled(ctx, task, now, false); err != nil {
		return fmt.Errorf("submit %s: %w", task.Action, err)
	}
	return nil
}

// Pending returns the tasks waiting in the in-memory queue.
func (s *Scheduler) Pending() []model.Task {
	return s.queue.Snapshot()
}

// Run processes tasks until ctx is cancelled or Stop is called.
// Persisted tasks that are already due are promoted on start, and the
// earliest future one is armed.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// ERROR HANDLING: On task failure the error is logged with full task
// context and processing continues.
func (s *Scheduler) Run(ctx context.Context, h Handler) error {
	slog.Info("scheduler starting", "poll_interval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	defer s.disarm()

	s.promoteDue(ctx)

	for {
		s.drain(ctx, h)

		select {
		case <-ctx.Done():
			slog.Info("scheduler stopping: context cancelled")
			s.queue.Close()
			return ctx.Err()

		case <-s.queue.Wait():
			// The signal channel closes when the queue is closed, which
			// fires this case immediately.
			if s.queue.Closed() && s.queue.Len() == 0 {
				slog.Info("scheduler stopping: queue closed")
				return nil
			}

		case <-s.wake:
			s.promoteDue(ctx)

		case <-ticker.C:
			s.promoteDue(ctx)
		}
	}
}

// Drain promotes due persisted tasks and processes the queue until it is
// empty, then returns the number of tasks handled. Used by one-shot runs
// and tests that drive time by hand.
func (s *Scheduler) Drain(ctx context.Context, h Handler) int {
	s.promoteDue(ctx)
	return s.drain(ctx, h)
}

// Stop closes the queue, which causes Run to return.
func (s *Scheduler) Stop() {
	s.queue.Close()
}

// drain processes queued tasks back to back under one keepalive hold.
// CRITICAL: Called only from the worker goroutine.
func (s *Scheduler) drain(ctx context.Context, h Handler) int {
	var release func()
	defer func() {
		if release != nil {
			release()
		}
	}()

	n := 0
	for {
		if ctx.Err() != nil {
			return n
		}
		task, ok := s.queue.TryDequeue()
		if !ok {
			return n
		}
		if release == nil {
			release = s.keepalive.Acquire()
		}
		s.process(ctx, h, task)
		n++
	}
}

// process runs one task with panic isolation.
// CRITICAL: Called only from the worker goroutine.
func (s *Scheduler) process(ctx context.Context, h Handler, task model.Task) {
	start := time.Now()
	outcome := telemetry.OutcomeOK

	slog.Debug("processing task", "action", task.Action)

	err := safeHandle(ctx, h, task)
	if err != nil {
		outcome = telemetry.OutcomeError
		var pe *PanicError
		if errors.As(err, &pe) {
			outcome = telemetry.OutcomePanic
		}
		logTaskError(task, err)
		if fh, ok := h.(FailureHandler); ok {
			if ferr := safeOnFailure(ctx, fh, task, err); ferr != nil {
				logTaskError(task, ferr)
			}
		}
	}

	s.metrics.TaskProcessed(string(task.Action), outcome, time.Since(start))
	s.metrics.SetQueueDepth(s.queue.Len())
}

func safeHandle(ctx context.Context, h Handler, task model.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Action: task.Action, Value: r}
		}
	}()
	return h.Handle(ctx, task)
}

func safeOnFailure(ctx context.Context, fh FailureHandler, task model.Task, cause error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Action: task.Action, Value: r}
		}
	}()
	fh.OnTaskFailure(ctx, task, cause)
	return nil
}

// promoteDue moves due persisted tasks into the queue and arms a wake-up
// for the next one. Each row is deleted before its task is enqueued.
func (s *Scheduler) promoteDue(ctx context.Context) {
	now := s.clock.Now()
	due, err := s.store.DueScheduled(ctx, now)
	if err != nil {
		slog.Error("load due tasks failed", "error", err)
		return
	}

	for _, st := range due {
		if err := s.store.DeleteScheduled(ctx, st.ID); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				slog.Error("remove due task failed", "error", err, "id", st.ID, "action", st.Task.Action)
			}
			continue
		}
		if !s.Enqueue(st.Task) {
			return
		}
		slog.Debug("scheduled task promoted", "id", st.ID, "action", st.Task.Action, "fire_at", st.FireAt)
	}

	s.armNext(ctx)
}

// armNext arms a wake-up for the earliest persisted task still in the
// future.
func (s *Scheduler) armNext(ctx context.Context) {
	all, err := s.store.ListScheduled(ctx)
	if err != nil {
		slog.Error("list scheduled tasks failed", "error", err)
		return
	}
	if len(all) == 0 {
		return
	}
	s.armAt(all[0].FireAt)
}

// armAt makes sure a wake-up fires no later than at.
func (s *Scheduler) armAt(at time.Time) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timer != nil && !s.timerAt.After(at) {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}

	delay := at.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	s.timerAt = at
	s.timer = s.afterFunc(delay, func() {
		s.timerMu.Lock()
		s.timer = nil
		s.timerMu.Unlock()

		select {
		case s.wake <- struct{}{}:
		default:
		}
	})
}

func (s *Scheduler) disarm() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
