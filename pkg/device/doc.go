// Package device defines the device-session capability consumed by the
// connection manager and the change bridge.
//
// A Dialer opens a Session to one appliance given its address and access
// token. A Session issues request/response calls, exposes the current state
// record and delivers notifications on a single "any event" stream. The
// network link underneath a session is reachable only through the optional
// TryGetTransport capability, which reports low-level close and error
// signals.
//
// # Notifications
//
// Notifications are a tagged variant over the known kinds:
//
//	KindStateChanged  one or more state properties changed
//	KindInitialized   the session finished its first state load
//	KindDestroyed     the session gave up and released itself
//	KindOther         any other named event
//
// Unknown event names always classify as KindOther so new device events
// pass through without code changes.
//
// The concrete miIO implementation lives in package miio; tests use the
// scriptable fakes in package devicetest.
package device
