package device

import (
	"context"
	"encoding/json"
	"maps"
	"time"
)

// State is the canonical state record of a device. Keys are property names.
type State map[string]any

// Clone returns a shallow copy of the state.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	return maps.Clone(s)
}

// Status is the raw status record returned by a status query.
type Status map[string]any

// Without returns a copy of the status with the given keys removed.
func (s Status) Without(keys ...string) Status {
	out := maps.Clone(s)
	if out == nil {
		out = Status{}
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Dialer opens device sessions.
type Dialer interface {
	// Dial establishes a session to the device at address using token.
	// Failures are reported as *ConnectError.
	Dial(ctx context.Context, address, token string) (Session, error)
}

// DialFunc adapts a function to the Dialer interface.
type DialFunc func(ctx context.Context, address, token string) (Session, error)

// Dial calls f(ctx, address, token).
func (f DialFunc) Dial(ctx context.Context, address, token string) (Session, error) {
	return f(ctx, address, token)
}

// Session is an established, stateful control link to one device.
// Implementations must be safe for concurrent use.
type Session interface {
	// ID returns a unique identifier for this session.
	ID() string

	// SetPollInterval sets how often the session refreshes device state.
	SetPollInterval(d time.Duration)

	// SetMaxPollFailures sets how many consecutive refresh failures the
	// session tolerates before destroying itself.
	SetMaxPollFailures(n int)

	// Call issues a request and returns the raw result.
	// Failures are reported as *CallError.
	Call(ctx context.Context, method string, params ...any) (json.RawMessage, error)

	// FetchState returns the canonical state record.
	FetchState(ctx context.Context) (State, error)

	// Subscribe registers a handler for every notification of the session.
	// The returned function removes the handler.
	Subscribe(handler func(Notification)) (cancel func())

	// TryGetTransport returns the underlying transport, if it is reachable.
	TryGetTransport() (Transport, bool)

	// Destroy releases the session. It is safe to call more than once.
	Destroy()
}

// Transport is the network link underneath a session.
// Handlers run on the transport's own goroutine and must not block.
type Transport interface {
	// OnClose registers a handler for the transport closing.
	OnClose(handler func()) (cancel func())

	// OnError registers a handler for transport errors.
	OnError(handler func(err error)) (cancel func())
}
