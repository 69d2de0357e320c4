package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/lopelex/roborock-bridge/pkg/config"
	"github.com/lopelex/roborock-bridge/pkg/debug"
)

// Host errors.
var (
	ErrUnknownType    = errors.New("unknown node type")
	ErrDuplicateType  = errors.New("node type already registered")
	ErrUnknownNode    = errors.New("unknown node")
	ErrAlreadyStarted = errors.New("runtime already started")
)

// Status is the indicator shown for a node.
type Status struct {
	Fill  string `json:"fill"`
	Shape string `json:"shape"`
	Text  string `json:"text"`
}

// Common indicators.
var (
	StatusConnected    = Status{Fill: "green", Shape: "dot", Text: "connected"}
	StatusDisconnected = Status{Fill: "red", Shape: "ring", Text: "disconnected"}
)

// Node is a running instance.
type Node interface {
	// Close is the shutdown hook. It must release all resources.
	Close() error
}

// NodeContext is what a node sees of its host.
type NodeContext interface {
	ID() string
	Name() string

	// Send emits a message on the node's output.
	Send(msg any)

	// SetStatus updates the node's indicator.
	SetStatus(s Status)

	// Warn reports a warning for the node.
	Warn(msg string)

	// Connection resolves a connection config node.
	Connection(id string) (config.Connection, bool)

	// Debug returns the diagnostic channel.
	Debug() debug.Publisher

	// Logger returns the node's logger.
	Logger() *slog.Logger
}

// Constructor creates a node from its configuration.
type Constructor func(ctx NodeContext, cfg config.Node) (Node, error)

// Registry maps node type names to constructors.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Constructor)}
}

// RegisterType adds a node type.
func (r *Registry) RegisterType(name string, ctor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, name)
	}
	r.types[name] = ctor
	return nil
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds a node of the given type.
func (r *Registry) Create(ctx NodeContext, cfg config.Node) (Node, error) {
	r.mu.RLock()
	ctor, ok := r.types[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, cfg.Type)
	}
	return ctor(ctx, cfg)
}

// Output receives everything nodes emit.
type Output interface {
	Message(nodeID string, msg any)
	Status(nodeID string, s Status)
	Warn(nodeID string, msg string)
}

// Options configures a Runtime.
type Options struct {
	Output Output
	Debug  debug.Publisher
	Logger *slog.Logger
}

// NodeInfo describes a running node.
type NodeInfo struct {
	ID     string
	Type   string
	Name   string
	Status Status
}

type instance struct {
	info NodeInfo
	node Node
}

// Runtime owns the node instances of one configuration.
type Runtime struct {
	registry *Registry
	config   *config.File
	output   Output
	debug    debug.Publisher
	logger   *slog.Logger

	mu      sync.RWMutex
	started bool
	nodes   []*instance
	byID    map[string]*instance
}

// NewRuntime creates a runtime for cfg.
func NewRuntime(registry *Registry, cfg *config.File, opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		registry: registry,
		config:   cfg,
		output:   opts.Output,
		debug:    opts.Debug,
		logger:   logger,
		byID:     make(map[string]*instance),
	}
}

// Start creates every configured node. Nodes that fail to build are
// reported and skipped; the others keep running.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	r.mu.Unlock()

	var errs []error
	for _, cfg := range r.config.Nodes {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		inst := &instance{info: NodeInfo{ID: cfg.ID, Type: cfg.Type, Name: cfg.Name}}

		r.mu.Lock()
		r.nodes = append(r.nodes, inst)
		r.byID[cfg.ID] = inst
		r.mu.Unlock()

		node, err := r.registry.Create(&nodeContext{runtime: r, inst: inst}, cfg)
		if err != nil {
			r.logger.Error("cannot create node", "node", cfg.ID, "type", cfg.Type, "error", err)
			errs = append(errs, fmt.Errorf("node %s: %w", cfg.ID, err))
			r.remove(inst)
			continue
		}
		r.mu.Lock()
		inst.node = node
		r.mu.Unlock()
		r.logger.Info("node started", "node", cfg.ID, "type", cfg.Type)
	}
	return errors.Join(errs...)
}

func (r *Runtime) remove(inst *instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = slices.DeleteFunc(r.nodes, func(i *instance) bool { return i == inst })
	delete(r.byID, inst.info.ID)
}

// Close closes all nodes in reverse creation order.
func (r *Runtime) Close() error {
	r.mu.Lock()
	nodes := r.nodes
	r.nodes = nil
	r.byID = make(map[string]*instance)
	r.mu.Unlock()

	var errs []error
	for i := len(nodes) - 1; i >= 0; i-- {
		inst := nodes[i]
		if inst.node == nil {
			continue
		}
		if err := inst.node.Close(); err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", inst.info.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Nodes describes the running nodes in creation order.
func (r *Runtime) Nodes() []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeInfo, len(r.nodes))
	for i, inst := range r.nodes {
		out[i] = inst.info
	}
	return out
}

// Node returns the running node with the given ID.
func (r *Runtime) Node(id string) (Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.byID[id]
	if !ok || inst.node == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	return inst.node, nil
}

type nodeContext struct {
	runtime *Runtime
	inst    *instance
}

func (c *nodeContext) ID() string   { return c.inst.info.ID }
func (c *nodeContext) Name() string { return c.inst.info.Name }

func (c *nodeContext) Send(msg any) {
	if c.runtime.output != nil {
		c.runtime.output.Message(c.inst.info.ID, msg)
	}
}

func (c *nodeContext) SetStatus(s Status) {
	c.runtime.mu.Lock()
	c.inst.info.Status = s
	c.runtime.mu.Unlock()
	if c.runtime.output != nil {
		c.runtime.output.Status(c.inst.info.ID, s)
	}
}

func (c *nodeContext) Warn(msg string) {
	c.runtime.logger.Warn(msg, "node", c.inst.info.ID)
	if c.runtime.output != nil {
		c.runtime.output.Warn(c.inst.info.ID, msg)
	}
}

func (c *nodeContext) Connection(id string) (config.Connection, bool) {
	if id == "" {
		return config.Connection{}, false
	}
	return c.runtime.config.Connection(id)
}

func (c *nodeContext) Debug() debug.Publisher {
	return c.runtime.debug
}

func (c *nodeContext) Logger() *slog.Logger {
	return c.runtime.logger.With("node", c.inst.info.ID)
}
