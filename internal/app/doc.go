// Package app wires the store, directory client, scheduler and
// orchestrator into a runnable regsync instance.
//
// Two entry points share the same identity operations:
//
//   - App runs the engine in-process and submits tasks straight into the
//     scheduler's queue.
//   - Control alone (via NewOfflineControl) is used by one-shot CLI
//     commands; tasks are written to the store as due-now scheduled rows
//     and picked up by the running engine on its next poll.
package app
