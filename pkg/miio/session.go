package miio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lopelex/roborock-bridge/pkg/device"
	"github.com/lopelex/roborock-bridge/pkg/log"
)

// Session is a device.Session over one UDP socket.
type Session struct {
	id       string
	address  string
	conn     net.Conn
	codec    *Codec
	config   Config
	logger   *slog.Logger
	protocol log.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	transport *transport

	// Set by the handshake, read-only afterwards.
	deviceID uint32
	stamp    uint32
	stampAt  time.Time

	writeMu sync.Mutex

	mu              sync.Mutex
	nextID          int
	pending         map[int]chan *Response
	subs            map[int]func(device.Notification)
	nextSub         int
	state           device.State
	pollInterval    time.Duration
	maxPollFailures int

	intervalCh chan struct{}
}

func newSession(conn net.Conn, codec *Codec, address string, cfg Config, logger *slog.Logger, protocol log.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Session{
		id:              id,
		address:         address,
		conn:            conn,
		codec:           codec,
		config:          cfg,
		logger:          logger.With("session", id),
		protocol:        protocol,
		ctx:             ctx,
		cancel:          cancel,
		transport:       newTransport(),
		nextID:          1,
		pending:         make(map[int]chan *Response),
		subs:            make(map[int]func(device.Notification)),
		pollInterval:    cfg.PollInterval,
		maxPollFailures: cfg.MaxPollFailures,
		intervalCh:      make(chan struct{}, 1),
	}
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// DeviceID returns the ID the device reported in the handshake.
func (s *Session) DeviceID() uint32 { return s.deviceID }

// SetPollInterval changes the state refresh period. The running wait is
// restarted with the new period.
func (s *Session) SetPollInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.pollInterval = d
	s.mu.Unlock()

	select {
	case s.intervalCh <- struct{}{}:
	default:
	}
}

// SetMaxPollFailures sets how many refreshes in a row may fail before the
// session destroys itself.
func (s *Session) SetMaxPollFailures(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxPollFailures = n
}

// Call sends a request and waits for its response. The request is resent
// after every CallTimeout, up to Retries times.
func (s *Session) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if s.ctx.Err() != nil {
		return nil, &device.CallError{Method: method, Err: device.ErrSessionDestroyed}
	}
	if params == nil {
		params = []any{}
	}

	id, ch := s.register()
	defer s.unregister(id)

	payload, err := json.Marshal(Request{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, &device.CallError{Method: method, Err: fmt.Errorf("encode request: %w", err)}
	}

	for attempt := 0; attempt <= s.config.Retries; attempt++ {
		if err := s.send(payload); err != nil {
			return nil, &device.CallError{Method: method, Err: err}
		}

		timer := time.NewTimer(s.config.CallTimeout)
		select {
		case resp := <-ch:
			timer.Stop()
			if resp.Error != nil {
				return nil, &device.CallError{Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
			}
			return resp.Result, nil
		case <-timer.C:
			s.logger.Debug("call timed out", "method", method, "id", id, "attempt", attempt+1)
		case <-ctx.Done():
			timer.Stop()
			return nil, &device.CallError{Method: method, Err: ctx.Err()}
		case <-s.ctx.Done():
			timer.Stop()
			return nil, &device.CallError{Method: method, Err: device.ErrSessionDestroyed}
		}
	}
	return nil, &device.CallError{Method: method, Err: device.ErrCallTimeout}
}

// FetchState returns the state of the last refresh, querying the device if
// none happened yet.
func (s *Session) FetchState(ctx context.Context) (device.State, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != nil {
		return state.Clone(), nil
	}

	st, err := s.queryState(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	return st.Clone(), nil
}

// Subscribe registers a handler for every notification.
func (s *Session) Subscribe(handler func(device.Notification)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// TryGetTransport returns the socket signals while the session is alive.
func (s *Session) TryGetTransport() (device.Transport, bool) {
	if s.ctx.Err() != nil {
		return nil, false
	}
	return s.transport, true
}

// Destroy closes the socket and stops all background work.
func (s *Session) Destroy() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close()
	})
}

func (s *Session) register() (int, chan *Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan *Response, 1)
	s.pending[id] = ch
	return id, ch
}

func (s *Session) unregister(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

func (s *Session) dispatch(resp *Response) {
	s.mu.Lock()
	ch, ok := s.pending[resp.ID]
	s.mu.Unlock()
	if !ok {
		s.logger.Debug("response for unknown request", "id", resp.ID)
		return
	}
	select {
	case ch <- resp:
	default:
		// Duplicate answer to a resent request
	}
}

func (s *Session) send(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stamp := s.stamp + uint32(time.Since(s.stampAt)/time.Second)
	pkt := s.codec.Encode(s.deviceID, stamp, payload)
	if _, err := s.conn.Write(pkt); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	s.logFrame(log.DirectionOut, len(pkt), payload, false)
	return nil
}

// handshake exchanges hello packets and records the device ID and stamp.
// It runs before the read loop starts.
func (s *Session) handshake(ctx context.Context) error {
	buf := make([]byte, MaxPacketSize)
	hello := HelloPacket()

	for attempt := 0; attempt <= s.config.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.conn.Write(hello); err != nil {
			return fmt.Errorf("write hello: %w", err)
		}
		s.logFrame(log.DirectionOut, len(hello), nil, true)

		deadline := time.Now().Add(s.config.CallTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		s.conn.SetReadDeadline(deadline)

		for {
			n, err := s.conn.Read(buf)
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					break
				}
				return fmt.Errorf("read hello: %w", err)
			}
			p, err := ParsePacket(buf[:n])
			if err != nil || !p.IsHello() {
				continue
			}
			s.logFrame(log.DirectionIn, n, nil, true)
			s.deviceID = p.DeviceID
			s.stamp = p.Stamp
			s.stampAt = time.Now()
			s.conn.SetReadDeadline(time.Time{})
			return nil
		}
	}
	return fmt.Errorf("no hello answer after %d attempts", s.config.Retries+1)
}

func (s *Session) readLoop() {
	defer s.transport.fireClose()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("miio read loop panic", "panic", r)
			s.Destroy()
		}
	}()

	buf := make([]byte, MaxPacketSize)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			if s.ctx.Err() != nil {
				return // Expected during close
			}
			s.logger.Warn("miio read failed", "error", err)
			s.logError("read", err)
			s.transport.fireError(fmt.Errorf("read: %w", err))
			s.Destroy()
			return
		}

		_, plaintext, err := s.codec.Decode(buf[:n])
		if err != nil {
			s.logger.Debug("dropping undecodable packet", "size", n, "error", err)
			continue
		}
		if plaintext == nil {
			continue
		}
		s.logFrame(log.DirectionIn, n, plaintext, false)

		resp, err := decodeResponse(plaintext)
		if err != nil {
			s.logger.Debug("dropping malformed response", "error", err)
			continue
		}
		s.dispatch(resp)
	}
}

func (s *Session) pollLoop() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("miio poll loop panic", "panic", r)
		}
	}()

	timer := time.NewTimer(s.interval())
	defer timer.Stop()

	initialized := false
	failures := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.intervalCh:
			timer.Reset(s.interval())
		case <-timer.C:
			if err := s.refresh(); err != nil {
				failures++
				s.logger.Debug("state refresh failed", "failures", failures, "error", err)
				if failures >= s.maxFailures() {
					s.logger.Info("too many failed refreshes, destroying session", "failures", failures)
					s.emit(device.EventDestroyed, nil)
					s.Destroy()
					return
				}
			} else {
				failures = 0
				if !initialized {
					initialized = true
					s.emit(device.EventInitialized, nil)
				}
			}
			timer.Reset(s.interval())
		}
	}
}

// refresh polls the device and emits one state change per changed key.
func (s *Session) refresh() error {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.CallTimeout*time.Duration(s.config.Retries+1))
	defer cancel()

	next, err := s.queryState(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	for _, key := range slices.Sorted(maps.Keys(next)) {
		old, ok := prev[key]
		if ok && reflect.DeepEqual(old, next[key]) {
			continue
		}
		s.emit(device.EventStateChanged, device.PropertyChange{Key: key, Value: next[key]})
	}
	return nil
}

func (s *Session) queryState(ctx context.Context) (device.State, error) {
	raw, err := s.Call(ctx, MethodGetStatus)
	if err != nil {
		return nil, err
	}
	st, err := ParseVacuumStatus(raw)
	if err != nil {
		return nil, &device.CallError{Method: MethodGetStatus, Err: err}
	}
	return st.ToState(), nil
}

func (s *Session) emit(name string, payload any) {
	s.mu.Lock()
	handlers := make([]func(device.Notification), 0, len(s.subs))
	for _, h := range s.subs {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	n := device.NewNotification(name, payload)
	for _, h := range handlers {
		h(n)
	}
}

func (s *Session) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollInterval
}

func (s *Session) maxFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxPollFailures
}

func (s *Session) logFrame(dir log.Direction, size int, payload []byte, hello bool) {
	frame := log.NewFrameEvent(size, payload)
	frame.Handshake = hello
	s.protocol.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: s.id,
		Address:   s.address,
		Direction: dir,
		Layer:     log.LayerTransport,
		Category:  log.CategoryFrame,
		Frame:     frame,
	})
}

func (s *Session) logError(op string, err error) {
	s.protocol.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: s.id,
		Address:   s.address,
		Layer:     log.LayerTransport,
		Category:  log.CategoryError,
		Error:     &log.ErrorEventData{Layer: log.LayerTransport, Message: err.Error(), Context: op},
	})
}

var (
	_ device.Session   = (*Session)(nil)
	_ device.Transport = (*transport)(nil)
)
