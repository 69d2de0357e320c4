// Package connection keeps one device session alive.
//
// A Manager owns the session of a single device. It dials the device, wires
// the session into a bridge.Bridge, watches the session and its transport
// for failure, and re-establishes the session when it is lost.
//
// # Event loop
//
// Every Manager runs one goroutine. Session notifications, transport
// signals, poll ticks, retry timers and external requests all pass through
// it, so the session and the bridge are never touched concurrently. Signals
// are tagged with the generation of the session that produced them; signals
// of a replaced session are dropped.
//
// # Reconnection Strategy
//
// A lost session (transport closed, transport error, or a "destroyed"
// notification) is re-established immediately. A failed dial is retried
// with exponential backoff:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s, 32s
//  3. Maximum delay: 60 seconds
//  4. Continue at 60s until successful
//  5. Reset to 1s on successful dial
//
// # Jitter
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
package connection
