// Package devicetest provides scriptable in-memory implementations of the
// device capability for tests.
package devicetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lopelex/roborock-bridge/pkg/device"
)

// ErrNoSession is returned by Dialer when no outcome was scripted.
var ErrNoSession = errors.New("devicetest: no session scripted")

// CallFunc answers a Session.Call.
type CallFunc func(method string, params []any) (json.RawMessage, error)

// Session is a fake device.Session. Notifications are injected with Emit.
type Session struct {
	id string

	mu              sync.Mutex
	pollInterval    time.Duration
	maxPollFailures int
	handlers        map[int]func(device.Notification)
	nextHandler     int
	state           device.State
	stateErr        error
	stateFetches    int
	callFn          CallFunc
	calls           []string
	transport       *Transport
	destroyed       int
}

// NewSession creates a fake session with a reachable transport.
func NewSession() *Session {
	return &Session{
		id:        uuid.NewString(),
		handlers:  make(map[int]func(device.Notification)),
		transport: NewTransport(),
	}
}

// WithoutTransport makes TryGetTransport report the transport as unavailable.
func (s *Session) WithoutTransport() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = nil
	return s
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// SetPollInterval records the poll interval.
func (s *Session) SetPollInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollInterval = d
}

// SetMaxPollFailures records the failure tolerance.
func (s *Session) SetMaxPollFailures(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxPollFailures = n
}

// PollInterval returns the recorded poll interval.
func (s *Session) PollInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollInterval
}

// MaxPollFailures returns the recorded failure tolerance.
func (s *Session) MaxPollFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxPollFailures
}

// OnCall sets the function answering calls.
func (s *Session) OnCall(fn CallFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callFn = fn
}

// Call records the method and answers through the CallFunc.
func (s *Session) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	s.mu.Lock()
	s.calls = append(s.calls, method)
	fn := s.callFn
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &device.CallError{Method: method, Err: err}
	}
	if fn == nil {
		return nil, &device.CallError{Method: method, Err: fmt.Errorf("devicetest: no answer for %s", method)}
	}
	return fn(method, params)
}

// Calls returns the methods called so far.
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// SetState sets the record returned by FetchState.
func (s *Session) SetState(state device.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.stateErr = nil
}

// FailState makes FetchState return err.
func (s *Session) FailState(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateErr = err
}

// FetchState returns the scripted state.
func (s *Session) FetchState(ctx context.Context) (device.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateFetches++
	if s.stateErr != nil {
		return nil, s.stateErr
	}
	return s.state.Clone(), nil
}

// StateFetches returns how often FetchState was called.
func (s *Session) StateFetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateFetches
}

// Subscribe registers a notification handler.
func (s *Session) Subscribe(handler func(device.Notification)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextHandler
	s.nextHandler++
	s.handlers[id] = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

// Subscribers returns the number of registered handlers.
func (s *Session) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// Emit delivers a notification to every handler.
func (s *Session) Emit(name string, payload any) {
	s.mu.Lock()
	handlers := make([]func(device.Notification), 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	n := device.NewNotification(name, payload)
	for _, h := range handlers {
		h(n)
	}
}

// TryGetTransport returns the fake transport unless it was removed.
func (s *Session) TryGetTransport() (device.Transport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return nil, false
	}
	return s.transport, true
}

// Transport returns the fake transport, or nil.
func (s *Session) Transport() *Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// Destroy records the destruction.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed++
}

// Destroyed returns how often Destroy was called.
func (s *Session) Destroyed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Transport is a fake device.Transport.
type Transport struct {
	mu          sync.Mutex
	onClose     map[int]func()
	onError     map[int]func(error)
	nextHandler int
}

// NewTransport creates a fake transport.
func NewTransport() *Transport {
	return &Transport{
		onClose: make(map[int]func()),
		onError: make(map[int]func(error)),
	}
}

// OnClose registers a close handler.
func (t *Transport) OnClose(handler func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextHandler
	t.nextHandler++
	t.onClose[id] = handler
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.onClose, id)
	}
}

// OnError registers an error handler.
func (t *Transport) OnError(handler func(error)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextHandler
	t.nextHandler++
	t.onError[id] = handler
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.onError, id)
	}
}

// Handlers returns the number of registered close and error handlers.
func (t *Transport) Handlers() (closeHandlers, errorHandlers int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.onClose), len(t.onError)
}

// Close fires the close handlers.
func (t *Transport) Close() {
	t.mu.Lock()
	handlers := make([]func(), 0, len(t.onClose))
	for _, h := range t.onClose {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

// Fail fires the error handlers with err.
func (t *Transport) Fail(err error) {
	t.mu.Lock()
	handlers := make([]func(error), 0, len(t.onError))
	for _, h := range t.onError {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()
	for _, h := range handlers {
		h(err)
	}
}

// Dialer hands out scripted outcomes in order.
type Dialer struct {
	mu       sync.Mutex
	outcomes []outcome
	dials    int
	address  string
	token    string
}

type outcome struct {
	session *Session
	err     error
}

// NewDialer creates an empty dialer.
func NewDialer() *Dialer {
	return &Dialer{}
}

// Succeed queues a successful dial returning s.
func (d *Dialer) Succeed(s *Session) *Dialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outcomes = append(d.outcomes, outcome{session: s})
	return d
}

// Fail queues a failed dial.
func (d *Dialer) Fail(err error) *Dialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outcomes = append(d.outcomes, outcome{err: err})
	return d
}

// Dial pops the next outcome. Without one it fails with ErrNoSession.
func (d *Dialer) Dial(ctx context.Context, address, token string) (device.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.address = address
	d.token = token

	if len(d.outcomes) == 0 {
		return nil, &device.ConnectError{Address: address, Err: ErrNoSession}
	}
	next := d.outcomes[0]
	d.outcomes = d.outcomes[1:]
	if next.err != nil {
		return nil, &device.ConnectError{Address: address, Err: next.err}
	}
	return next.session, nil
}

// Dials returns the number of Dial calls.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// LastTarget returns the address and token of the last dial.
func (d *Dialer) LastTarget() (address, token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.address, d.token
}

// StatusAnswer returns a CallFunc answering get_status with the given
// records in order, repeating the last one.
func StatusAnswer(records ...device.Status) CallFunc {
	var mu sync.Mutex
	i := 0
	return func(method string, params []any) (json.RawMessage, error) {
		if method != "get_status" {
			return nil, &device.CallError{Method: method, Code: -32601, Message: "Method not found"}
		}
		mu.Lock()
		rec := records[min(i, len(records)-1)]
		i++
		mu.Unlock()
		return json.Marshal([]device.Status{rec})
	}
}

var (
	_ device.Session   = (*Session)(nil)
	_ device.Transport = (*Transport)(nil)
	_ device.Dialer    = (*Dialer)(nil)
)
