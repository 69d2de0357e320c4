// Package bridge turns the notification stream of a device session into a
// deduplicated stream of outbound messages.
//
// # Channels
//
// Three kinds of message leave the bridge, each carrying its value twice:
// under the generic payload field and under a named top-level field.
//
//	{payload: {state: S},  state: S}    state record changed
//	{payload: {status: T}, status: T}   polled status changed
//	{payload: {event: E},  event: E}    raw notification (optional)
//
// # Deduplication
//
// State and status each have an ObservedValue slot holding the canonical
// CBOR encoding of the last forwarded value. A value is forwarded only when
// its encoding differs. Map keys are sorted by the encoder, so equal values
// always compare equal. Status records drop volatile fields such as the
// message sequence counter before comparison. Raw events are never
// deduplicated.
//
// Slots are cleared by Attach, so the first value seen on a new session is
// always forwarded. Detach leaves them untouched.
//
// # Ownership
//
// A Bridge is not safe for concurrent use. The connection manager drives it
// from the single goroutine that owns the session; the poll timer is exposed
// as a channel (Ticks) for that goroutine to select on.
package bridge
