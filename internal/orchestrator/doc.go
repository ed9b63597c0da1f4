// Package orchestrator implements the registration state machine.
//
// An Orchestrator consumes tasks from the engine one at a time and keeps
// the device's channel registration, named-user association and pending
// tag-group deltas in step with the remote directory. Each handler either
// completes (resets the facet's backoff and persists new state), schedules
// a delayed retry carrying the advanced backoff, or chains follow-up tasks.
//
// # Facets
//
// Five facets retry independently, each with its own backoff counter:
//
//   - platform token registration
//   - channel registration (create, update, 409 self-heal)
//   - named-user association
//   - channel tag groups
//   - named-user tag groups
//
// # Error Classification
//
// Transport errors and 5xx responses are transient and retried. Other
// statuses are rejections: backoff is reset and nothing is retried. A 409
// on channel update is an identity conflict: local identity is discarded
// and the channel is created again within the same task.
//
// # Thread Safety
//
// Handle and OnTaskFailure must only be called from the engine's worker
// goroutine. The in-flight platform registration flag and the backoff
// counters are fields of the Orchestrator and are not shared globally.
package orchestrator
