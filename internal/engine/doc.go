// Package engine implements the regsync task scheduler.
//
// ARCHITECTURE:
//
// Single-Worker Task Loop:
// Tasks are processed one at a time in a single goroutine. A task runs to
// completion, including any identity writes it makes, before the next task
// is dequeued. This ensures:
//   - No task ever observes identity state mid-mutation
//   - Tasks enqueued earlier run before tasks enqueued later
//   - Backoff counters and the platform registration flag need no locking
//     on the write path
//
// Task Flow:
// 1. Enqueue() appends to the in-memory FIFO queue (same process)
// 2. ScheduleDelayed() and Submit() write a row to the store with a fire time
// 3. Run() promotes due rows into the queue (on start, on timer, on poll)
// 4. Run() dequeues one task at a time and calls the Handler
// 5. A keepalive hold covers each run of back-to-back tasks
//
// Delayed tasks survive restarts because they live in the store, not in a
// timer. The in-process timer only shortens the wait; the poll ticker also
// picks up tasks that other processes submitted.
//
// ERROR HANDLING:
// Handler errors and panics are logged with the task context and the loop
// continues. Handlers implementing FailureHandler are told about the
// failure so they can schedule a retry.
package engine
