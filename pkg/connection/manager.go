package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lopelex/roborock-bridge/pkg/bridge"
	"github.com/lopelex/roborock-bridge/pkg/debug"
	"github.com/lopelex/roborock-bridge/pkg/device"
	"github.com/lopelex/roborock-bridge/pkg/log"
)

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrAlreadyStarted   = errors.New("already started")
	ErrNotStarted       = errors.New("not started")
	ErrNotConnected     = errors.New("not connected")
	ErrNoDialer         = errors.New("no dialer configured")
	ErrNoAddress        = errors.New("no device address configured")
)

// Defaults applied by NewManager.
const (
	DefaultPollInterval    = 30 * time.Second
	DefaultMaxPollFailures = 3
	DefaultDialTimeout     = 10 * time.Second
)

// State represents the connection state.
type State uint8

const (
	// StateUninitialized indicates Start was not called yet.
	StateUninitialized State = iota

	// StateConnecting indicates a dial is in progress.
	StateConnecting

	// StateConnected indicates a session is established.
	StateConnected

	// StateDisconnected indicates the session was lost or could not be
	// established.
	StateDisconnected

	// StateStopped indicates the manager has been stopped.
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Indicator is the user-visible connection status.
type Indicator string

// Indicator values.
const (
	IndicatorConnected    Indicator = "connected"
	IndicatorDisconnected Indicator = "disconnected"
)

// Options configures a Manager.
type Options struct {
	// Address and Token identify the device.
	Address string
	Token   string

	// PollInterval is applied to every session. Zero means DefaultPollInterval.
	PollInterval time.Duration

	// MaxPollFailures is applied to every session. Zero means
	// DefaultMaxPollFailures.
	MaxPollFailures int

	// DialTimeout bounds a single dial. Zero means DefaultDialTimeout.
	DialTimeout time.Duration

	// Backoff controls the retry delay after a failed dial.
	Backoff BackoffConfig

	// Dialer opens sessions. Required.
	Dialer device.Dialer

	// Bridge receives the notifications of the active session.
	// A bridge that drops every message is used when nil.
	Bridge *bridge.Bridge

	// OnIndicator is called whenever the status indicator is set.
	OnIndicator func(Indicator)

	// OnWarn is called with every warning raised by the manager.
	OnWarn func(msg string)

	// OnStateChange is called on every state transition.
	OnStateChange func(oldState, newState State)

	Tracer         *debug.Tracer
	Logger         *slog.Logger
	ProtocolLogger log.Logger
	InstanceID     string
}

type signalKind uint8

const (
	signalNotification signalKind = iota
	signalClose
	signalError
)

type signal struct {
	gen          uint64
	kind         signalKind
	notification device.Notification
	err          error
}

type request struct {
	ctx  context.Context
	fn   func(ctx context.Context, s device.Session) error
	done chan error
}

// Manager maintains one session to one device.
type Manager struct {
	opts     Options
	logger   *slog.Logger
	protocol log.Logger
	bridge   *bridge.Bridge
	backoff  *Backoff

	mu        sync.RWMutex
	state     State
	sessionID string
	started   bool
	stopped   bool

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}

	signals     chan signal
	reconnectCh chan struct{}
	requests    chan request

	// Owned by the loop goroutine.
	session device.Session
	gen     uint64
	cancels []func()
	retry   *time.Timer
}

// NewManager creates a manager. Nothing happens until Start.
func NewManager(opts Options) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxPollFailures <= 0 {
		opts.MaxPollFailures = DefaultMaxPollFailures
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("address", opts.Address)

	b := opts.Bridge
	if b == nil {
		b = bridge.New(bridge.Config{}, bridge.SinkFunc(func(bridge.Message) {}), bridge.Options{Logger: logger})
	}

	return &Manager{
		opts:        opts,
		logger:      logger,
		protocol:    log.OrNoop(opts.ProtocolLogger),
		bridge:      b,
		backoff:     NewBackoff(opts.Backoff),
		state:       StateUninitialized,
		done:        make(chan struct{}),
		signals:     make(chan signal, 64),
		reconnectCh: make(chan struct{}, 1),
		requests:    make(chan request),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected returns true if a session is established.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// SessionID returns the ID of the current session, or "".
func (m *Manager) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionID
}

// BackoffAttempts returns the number of failed dials since the last success.
func (m *Manager) BackoffAttempts() int {
	return m.backoff.Attempts()
}

// Start begins establishing the first session in the background.
func (m *Manager) Start(ctx context.Context) error {
	if m.opts.Dialer == nil {
		return ErrNoDialer
	}
	if m.opts.Address == "" {
		return ErrNoAddress
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrConnectionClosed
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.run(ctx)
	return nil
}

// Stop releases the session and ends the loop. No message is emitted after
// Stop returns. Stop is idempotent and safe before Start.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		// Marked under the write lock so a racing Start either finishes
		// first and is cancelled here, or sees stopped and bails out.
		m.mu.Lock()
		m.stopped = true
		cancel := m.cancel
		m.mu.Unlock()

		if cancel != nil {
			cancel()
			m.wg.Wait()
		}
		m.setState(StateStopped, "stopped")
	})
}

// Reconnect asks the loop to re-establish the session now.
func (m *Manager) Reconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
		// Already pending
	}
}

// Do runs fn with the current session on the loop goroutine.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context, s device.Session) error) error {
	m.mu.RLock()
	started := m.started
	m.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	req := request{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case m.requests <- req:
	case <-m.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	defer close(m.done)
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("connection loop panic", "panic", r)
			m.release()
		}
	}()

	m.establish(ctx)

	for {
		select {
		case <-ctx.Done():
			m.stopRetry()
			m.release()
			return

		case sig := <-m.signals:
			if sig.gen != m.gen {
				m.logger.Debug("dropping signal of replaced session", "gen", sig.gen)
				continue
			}
			m.handleSignal(ctx, sig)

		case <-m.bridge.Ticks():
			m.bridge.PollStatus(ctx)

		case <-m.retryC():
			m.retry = nil
			m.establish(ctx)

		case <-m.reconnectCh:
			m.logger.Info("reconnect requested")
			m.establish(ctx)

		case req := <-m.requests:
			req.done <- m.serve(req)
		}
	}
}

func (m *Manager) serve(req request) error {
	if m.session == nil {
		return ErrNotConnected
	}
	return req.fn(req.ctx, m.session)
}

// establish replaces the current session with a freshly dialed one.
func (m *Manager) establish(ctx context.Context) {
	m.stopRetry()
	m.release()
	if ctx.Err() != nil {
		return
	}

	m.gen++
	gen := m.gen
	m.opts.Tracer.Send("Connect to roborock")
	m.setState(StateConnecting, "dial")

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	sess, err := m.opts.Dialer.Dial(dialCtx, m.opts.Address, m.opts.Token)
	cancel()
	if ctx.Err() != nil {
		if sess != nil {
			sess.Destroy()
		}
		return
	}
	if err != nil {
		m.setState(StateDisconnected, err.Error())
		m.indicate(IndicatorDisconnected)
		m.warn(fmt.Sprintf("Encountered an error while connecting to device: %v", err), err)
		m.logError("dial", err)
		m.scheduleRetry()
		return
	}

	m.session = sess
	m.backoff.Reset()
	sess.SetPollInterval(m.opts.PollInterval)
	sess.SetMaxPollFailures(m.opts.MaxPollFailures)
	m.cancels = append(m.cancels, sess.Subscribe(func(n device.Notification) {
		m.post(signal{gen: gen, kind: signalNotification, notification: n})
	}))

	m.mu.Lock()
	m.sessionID = sess.ID()
	m.mu.Unlock()
	m.setState(StateConnected, "dial")
	m.indicate(IndicatorConnected)
	m.bridge.Attach(sess)

	tr, ok := sess.TryGetTransport()
	if !ok {
		m.warn(fmt.Sprintf("catch: %v", device.ErrTransportUnavailable), device.ErrTransportUnavailable)
		m.indicate(IndicatorDisconnected)
		return
	}
	m.cancels = append(m.cancels,
		tr.OnClose(func() {
			m.post(signal{gen: gen, kind: signalClose})
		}),
		tr.OnError(func(err error) {
			m.post(signal{gen: gen, kind: signalError, err: err})
		}),
	)
}

func (m *Manager) handleSignal(ctx context.Context, sig signal) {
	switch sig.kind {
	case signalNotification:
		m.bridge.HandleNotification(ctx, sig.notification)
		if sig.notification.Kind == device.KindDestroyed {
			m.lost(ctx, "Session destroyed", device.ErrSessionDestroyed)
		}
	case signalClose:
		m.lost(ctx, "Connection closed", nil)
	case signalError:
		m.lost(ctx, "Connection error", sig.err)
	}
}

func (m *Manager) lost(ctx context.Context, reason string, err error) {
	m.opts.Tracer.Send(reason)
	if err != nil {
		m.logger.Info("session lost", "reason", reason, "error", err)
		m.logError(reason, err)
	} else {
		m.logger.Info("session lost", "reason", reason)
	}
	m.setState(StateDisconnected, reason)
	m.indicate(IndicatorDisconnected)
	m.establish(ctx)
}

// release destroys the current session and cancels its observers.
func (m *Manager) release() {
	for _, cancel := range m.cancels {
		cancel()
	}
	m.cancels = nil
	m.bridge.Detach()

	if m.session != nil {
		m.session.Destroy()
		m.session = nil
		m.mu.Lock()
		m.sessionID = ""
		m.mu.Unlock()
	}
}

// post hands a signal to the loop. Signals posted after the loop ended are
// discarded.
func (m *Manager) post(sig signal) {
	select {
	case m.signals <- sig:
	case <-m.done:
	}
}

func (m *Manager) scheduleRetry() {
	delay := m.backoff.Next()
	m.logger.Debug("retrying dial", "attempt", m.backoff.Attempts(), "delay", delay)
	m.retry = time.NewTimer(delay)
}

func (m *Manager) stopRetry() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) retryC() <-chan time.Time {
	if m.retry == nil {
		return nil
	}
	return m.retry.C
}

func (m *Manager) setState(newState State, reason string) {
	m.mu.Lock()
	oldState := m.state
	m.state = newState
	sessionID := m.sessionID
	m.mu.Unlock()

	if oldState == newState {
		return
	}
	m.protocol.Log(log.Event{
		Timestamp:  time.Now(),
		SessionID:  sessionID,
		InstanceID: m.opts.InstanceID,
		Address:    m.opts.Address,
		Layer:      log.LayerSession,
		Category:   log.CategoryState,
		StateChange: &log.StateChangeEvent{
			OldState: oldState.String(),
			NewState: newState.String(),
			Reason:   reason,
		},
	})
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(oldState, newState)
	}
}

func (m *Manager) indicate(ind Indicator) {
	if m.opts.OnIndicator != nil {
		m.opts.OnIndicator(ind)
	}
}

func (m *Manager) warn(msg string, err error) {
	m.logger.Warn(msg, "error", err)
	if m.opts.OnWarn != nil {
		m.opts.OnWarn(msg)
	}
}

func (m *Manager) logError(op string, err error) {
	m.protocol.Log(log.Event{
		Timestamp:  time.Now(),
		SessionID:  m.SessionID(),
		InstanceID: m.opts.InstanceID,
		Address:    m.opts.Address,
		Layer:      log.LayerSession,
		Category:   log.CategoryError,
		Error:      &log.ErrorEventData{Layer: log.LayerSession, Message: err.Error(), Context: op},
	})
}
