// Package host runs configured node instances.
//
// Node types are registered explicitly on a Registry. A Runtime builds one
// instance per configured node, hands each a NodeContext for output and
// status, and closes them in reverse order on shutdown.
package host
