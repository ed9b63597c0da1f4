// Package model defines the value types shared by the regsync engine.
//
// The types here carry no behavior that touches storage or the network:
//   - Task / Action: the descriptor consumed by the scheduler and orchestrator
//   - TagGroups / PendingDelta: tag group deltas and their merge rules
//   - ChannelPayload: the registration payload sent to the directory
//
// # Merge Rules
//
// PendingDelta.Apply keeps the add and remove sides disjoint per (group, tag).
// Adding a tag removes it from the remove side of the same group and vice
// versa; within a single Apply call removals are applied after additions.
//
// # Canonical Form
//
// ChannelPayload equality is decided on canonical JSON (sorted keys, NFC
// strings, no HTML escaping) so that a payload reloaded from storage compares
// equal to the freshly computed one.
package model
