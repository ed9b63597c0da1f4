// Package identity provides typed access to the locally persisted identity
// state: channel id and location, the last accepted registration payload,
// named-user tokens, pending tag deltas per facet, the platform token
// fingerprint, and device settings used to build the channel payload.
//
// Values are stored as strings (JSON for structured values) in a store.KV.
// Multi-key updates go through store.Batch so a crash never leaves, say, a
// channel id without its location.
package identity
