// Package roborock provides the roborockEvent node: one vacuum, kept
// connected, with its distinct state and status changes on the node output.
package roborock

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lopelex/roborock-bridge/pkg/bridge"
	"github.com/lopelex/roborock-bridge/pkg/config"
	"github.com/lopelex/roborock-bridge/pkg/connection"
	"github.com/lopelex/roborock-bridge/pkg/debug"
	"github.com/lopelex/roborock-bridge/pkg/device"
	"github.com/lopelex/roborock-bridge/pkg/host"
	"github.com/lopelex/roborock-bridge/pkg/log"
)

// TypeName is the registered node type.
const TypeName = "roborockEvent"

// ErrInert is returned by operations on a node without a connection.
var ErrInert = errors.New("node has no connection")

// Params are the node settings.
type Params struct {
	// Connection is the ID of the connection config node.
	Connection string `yaml:"connection"`

	// Pooling is the poll period in seconds.
	Pooling int `yaml:"pooling"`

	// Events forwards every device event name.
	Events bool `yaml:"events"`

	// Status enables get_status polling.
	Status bool `yaml:"status"`

	// Debug publishes diagnostics.
	Debug bool `yaml:"debug"`

	// MaxPollFailures is the refresh failure tolerance of the session.
	MaxPollFailures int `yaml:"maxPollFailures"`
}

// Options are shared by all nodes of the type.
type Options struct {
	Dialer         device.Dialer
	Device         config.Device
	ProtocolLogger log.Logger
}

// Register adds the node type to reg.
func Register(reg *host.Registry, opts Options) error {
	return reg.RegisterType(TypeName, func(ctx host.NodeContext, cfg config.Node) (host.Node, error) {
		return New(ctx, cfg, opts)
	})
}

// Node is one running roborockEvent instance.
type Node struct {
	ctx     host.NodeContext
	params  Params
	manager *connection.Manager
}

// New creates the node. Without a resolvable connection the node does
// nothing for its whole lifetime.
func New(ctx host.NodeContext, cfg config.Node, opts Options) (*Node, error) {
	var p Params
	if err := cfg.Decode(&p); err != nil {
		return nil, err
	}
	if p.Pooling <= 0 {
		p.Pooling = config.DefaultPooling
	}
	if p.MaxPollFailures <= 0 {
		p.MaxPollFailures = config.DefaultMaxPollFailures
	}

	n := &Node{ctx: ctx, params: p}
	conn, ok := ctx.Connection(p.Connection)
	if !ok {
		return n, nil
	}

	logger := ctx.Logger()
	tracer := debug.NewTracer(p.Debug, ctx.ID(), ctx.Name(), ctx.Debug())
	pooling := time.Duration(p.Pooling) * time.Second

	b := bridge.New(bridge.Config{
		ForwardRawEvents: p.Events,
		PollStatus:       p.Status,
		PollInterval:     pooling,
		CallTimeout:      opts.Device.CallTimeout,
	}, bridge.SinkFunc(func(msg bridge.Message) {
		ctx.Send(msg)
	}), bridge.Options{
		Tracer:         tracer,
		Logger:         logger,
		ProtocolLogger: opts.ProtocolLogger,
		InstanceID:     ctx.ID(),
	})

	n.manager = connection.NewManager(connection.Options{
		Address:         conn.Host,
		Token:           conn.Token,
		PollInterval:    pooling,
		MaxPollFailures: p.MaxPollFailures,
		DialTimeout:     opts.Device.DialTimeout,
		Backoff:         opts.Device.Backoff,
		Dialer:          opts.Dialer,
		Bridge:          b,
		OnIndicator:     n.indicate,
		OnWarn:          ctx.Warn,
		Tracer:          tracer,
		Logger:          logger,
		ProtocolLogger:  opts.ProtocolLogger,
		InstanceID:      ctx.ID(),
	})

	ctx.SetStatus(host.StatusDisconnected)
	if err := n.manager.Start(context.Background()); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) indicate(ind connection.Indicator) {
	if ind == connection.IndicatorConnected {
		n.ctx.SetStatus(host.StatusConnected)
		return
	}
	n.ctx.SetStatus(host.StatusDisconnected)
}

// Params returns the effective settings.
func (n *Node) Params() Params { return n.params }

// Inert reports whether the node has no connection.
func (n *Node) Inert() bool { return n.manager == nil }

// State returns the connection state.
func (n *Node) State() connection.State {
	if n.manager == nil {
		return connection.StateUninitialized
	}
	return n.manager.State()
}

// Reconnect re-establishes the device session.
func (n *Node) Reconnect() error {
	if n.manager == nil {
		return ErrInert
	}
	n.manager.Reconnect()
	return nil
}

// Call issues a device call on the current session.
func (n *Node) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if n.manager == nil {
		return nil, ErrInert
	}
	var result json.RawMessage
	err := n.manager.Do(ctx, func(ctx context.Context, s device.Session) error {
		var err error
		result, err = s.Call(ctx, method, params...)
		return err
	})
	return result, err
}

// Close stops the node. No message is sent after Close returns.
func (n *Node) Close() error {
	if n.manager != nil {
		n.manager.Stop()
	}
	return nil
}

var _ host.Node = (*Node)(nil)
