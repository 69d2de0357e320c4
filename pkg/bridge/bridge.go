package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lopelex/roborock-bridge/pkg/debug"
	"github.com/lopelex/roborock-bridge/pkg/device"
	"github.com/lopelex/roborock-bridge/pkg/log"
)

// StatusMethod is the device call issued on every poll tick.
const StatusMethod = "get_status"

// VolatileStatusFields never take part in status comparison.
var VolatileStatusFields = []string{"msg_seq"}

// ErrEmptyStatus is returned when a status result holds no record.
var ErrEmptyStatus = errors.New("empty status result")

// Config controls what the bridge forwards.
type Config struct {
	// ForwardRawEvents emits every notification name on the event channel.
	ForwardRawEvents bool

	// PollStatus enables the status poll timer.
	PollStatus bool

	// PollInterval is the status poll period.
	PollInterval time.Duration

	// CallTimeout bounds each device call. Zero means no extra bound.
	CallTimeout time.Duration
}

// Options carries the optional collaborators of a Bridge.
type Options struct {
	Tracer         *debug.Tracer
	Logger         *slog.Logger
	ProtocolLogger log.Logger
	InstanceID     string
}

// Bridge deduplicates and forwards device notifications.
type Bridge struct {
	config     Config
	sink       Sink
	tracer     *debug.Tracer
	logger     *slog.Logger
	protocol   log.Logger
	instanceID string

	session device.Session
	state   ObservedValue
	status  ObservedValue
	ticker  *time.Ticker
}

// New creates a detached bridge.
func New(config Config, sink Sink, opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		config:     config,
		sink:       sink,
		tracer:     opts.Tracer,
		logger:     logger,
		protocol:   log.OrNoop(opts.ProtocolLogger),
		instanceID: opts.InstanceID,
	}
}

// Attach binds the bridge to s, clearing both observed values and starting
// the poll timer when status polling is enabled. A previous attachment is
// detached first.
func (b *Bridge) Attach(s device.Session) {
	b.Detach()
	b.state.Reset()
	b.status.Reset()
	b.session = s
	if b.config.PollStatus && b.config.PollInterval > 0 {
		b.ticker = time.NewTicker(b.config.PollInterval)
	}
}

// Detach stops the poll timer and drops the session reference.
// It is safe to call when not attached.
func (b *Bridge) Detach() {
	if b.ticker != nil {
		b.ticker.Stop()
		b.ticker = nil
	}
	b.session = nil
}

// Attached reports whether a session is bound.
func (b *Bridge) Attached() bool {
	return b.session != nil
}

// Polling reports whether the poll timer is running.
func (b *Bridge) Polling() bool {
	return b.ticker != nil
}

// Ticks returns the poll timer channel, or nil when no timer runs.
// A nil channel never fires in a select.
func (b *Bridge) Ticks() <-chan time.Time {
	if b.ticker == nil {
		return nil
	}
	return b.ticker.C
}

// HandleNotification processes one notification of the attached session.
func (b *Bridge) HandleNotification(ctx context.Context, n device.Notification) {
	if b.session == nil {
		return
	}

	if b.config.ForwardRawEvents {
		b.tracer.Send(n.Name)
		b.emit(ChannelEvent, nil, EventMessage(n.Name))
	}

	switch n.Kind {
	case device.KindStateChanged:
		b.refreshState(ctx)
	default:
		// Lifecycle and unknown events only travel the raw event channel.
	}
}

func (b *Bridge) refreshState(ctx context.Context) {
	ctx, cancel := b.callContext(ctx)
	defer cancel()

	state, err := b.session.FetchState(ctx)
	if err != nil {
		b.logger.Debug("state fetch failed", "error", err)
		b.logError("fetch state", err)
		return
	}
	b.OnState(state)
}

// OnState forwards state when it differs from the last forwarded state.
func (b *Bridge) OnState(state device.State) {
	changed, encoded, err := b.state.Observe(state)
	if err != nil {
		b.logger.Warn("cannot encode state", "error", err)
		return
	}
	if !changed {
		b.suppressed(ChannelState, encoded)
		return
	}
	b.tracer.Send(state)
	b.emit(ChannelState, encoded, StateMessage(state))
}

// PollStatus queries the device status and forwards it when it changed.
// Failures are swallowed so the next tick runs as usual.
func (b *Bridge) PollStatus(ctx context.Context) {
	if b.session == nil {
		return
	}

	ctx, cancel := b.callContext(ctx)
	defer cancel()

	raw, err := b.session.Call(ctx, StatusMethod)
	if err != nil {
		b.logger.Debug("status poll failed", "error", err)
		b.logError("poll status", err)
		return
	}
	status, err := ParseStatus(raw)
	if err != nil {
		b.logger.Debug("status poll returned unusable result", "error", err)
		b.logError("parse status", err)
		return
	}
	b.OnStatus(status)
}

// OnStatus forwards status, minus volatile fields, when it differs from the
// last forwarded status.
func (b *Bridge) OnStatus(status device.Status) {
	stable := status.Without(VolatileStatusFields...)
	changed, encoded, err := b.status.Observe(stable)
	if err != nil {
		b.logger.Warn("cannot encode status", "error", err)
		return
	}
	if !changed {
		b.suppressed(ChannelStatus, encoded)
		return
	}
	b.tracer.Send(stable)
	b.emit(ChannelStatus, encoded, StatusMessage(stable))
}

// ParseStatus decodes a status result. Devices answer either with the
// record itself or with a one-element array holding it.
func ParseStatus(raw json.RawMessage) (device.Status, error) {
	var list []device.Status
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 || list[0] == nil {
			return nil, ErrEmptyStatus
		}
		return list[0], nil
	}

	var status device.Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	if status == nil {
		return nil, ErrEmptyStatus
	}
	return status, nil
}

func (b *Bridge) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.config.CallTimeout > 0 {
		return context.WithTimeout(ctx, b.config.CallTimeout)
	}
	return context.WithCancel(ctx)
}

func (b *Bridge) sessionID() string {
	if b.session == nil {
		return ""
	}
	return b.session.ID()
}

func (b *Bridge) emit(channel string, encoded []byte, msg Message) {
	b.protocol.Log(log.Event{
		Timestamp:  time.Now(),
		SessionID:  b.sessionID(),
		InstanceID: b.instanceID,
		Direction:  log.DirectionOut,
		Layer:      log.LayerBridge,
		Category:   log.CategoryEmission,
		Emission:   &log.EmissionEvent{Channel: channel, Forwarded: true, Value: encoded},
	})
	b.sink.Send(msg)
}

func (b *Bridge) suppressed(channel string, encoded []byte) {
	b.logger.Debug("unchanged value suppressed", "channel", channel)
	b.protocol.Log(log.Event{
		Timestamp:  time.Now(),
		SessionID:  b.sessionID(),
		InstanceID: b.instanceID,
		Direction:  log.DirectionIn,
		Layer:      log.LayerBridge,
		Category:   log.CategoryEmission,
		Emission:   &log.EmissionEvent{Channel: channel, Value: encoded},
	})
}

func (b *Bridge) logError(op string, err error) {
	b.protocol.Log(log.Event{
		Timestamp:  time.Now(),
		SessionID:  b.sessionID(),
		InstanceID: b.instanceID,
		Layer:      log.LayerBridge,
		Category:   log.CategoryError,
		Error:      &log.ErrorEventData{Layer: log.LayerBridge, Message: err.Error(), Context: op},
	})
}
