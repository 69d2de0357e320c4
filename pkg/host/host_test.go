package host

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lopelex/roborock-bridge/pkg/config"
	"github.com/lopelex/roborock-bridge/pkg/debug"
)

type recordingOutput struct {
	mu       sync.Mutex
	messages map[string][]any
	statuses map[string][]Status
	warnings map[string][]string
}

func newRecordingOutput() *recordingOutput {
	return &recordingOutput{
		messages: make(map[string][]any),
		statuses: make(map[string][]Status),
		warnings: make(map[string][]string),
	}
}

func (o *recordingOutput) Message(id string, msg any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages[id] = append(o.messages[id], msg)
}

func (o *recordingOutput) Status(id string, s Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses[id] = append(o.statuses[id], s)
}

func (o *recordingOutput) Warn(id, msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.warnings[id] = append(o.warnings[id], msg)
}

type echoNode struct {
	ctx    NodeContext
	closed *[]string
	err    error
}

func (n *echoNode) Close() error {
	*n.closed = append(*n.closed, n.ctx.ID())
	return n.err
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	ctor := func(ctx NodeContext, cfg config.Node) (Node, error) { return nil, nil }

	require.NoError(t, r.RegisterType("b", ctor))
	require.NoError(t, r.RegisterType("a", ctor))
	assert.ErrorIs(t, r.RegisterType("a", ctor), ErrDuplicateType)
	assert.Equal(t, []string{"a", "b"}, r.Types())

	_, err := r.Create(nil, config.Node{ID: "x", Type: "c"})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestRuntime(t *testing.T) {
	var closed []string
	reg := NewRegistry()
	require.NoError(t, reg.RegisterType("echo", func(ctx NodeContext, cfg config.Node) (Node, error) {
		ctx.SetStatus(StatusConnected)
		ctx.Send(map[string]any{"hello": cfg.Name})
		ctx.Warn("careful")
		return &echoNode{ctx: ctx, closed: &closed}, nil
	}))
	require.NoError(t, reg.RegisterType("broken", func(ctx NodeContext, cfg config.Node) (Node, error) {
		return nil, errors.New("boom")
	}))

	cfg := &config.File{Nodes: []config.Node{
		{ID: "one", Type: "echo", Name: "first"},
		{ID: "bad", Type: "broken"},
		{ID: "none", Type: "missing"},
		{ID: "two", Type: "echo", Name: "second"},
	}}
	out := newRecordingOutput()
	rt := NewRuntime(reg, cfg, Options{Output: out})

	err := rt.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Contains(t, err.Error(), "boom")
	assert.ErrorIs(t, rt.Start(context.Background()), ErrAlreadyStarted)

	nodes := rt.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, "one", nodes[0].ID)
	assert.Equal(t, "two", nodes[1].ID)
	assert.Equal(t, StatusConnected, nodes[0].Status)

	assert.Equal(t, []any{map[string]any{"hello": "first"}}, out.messages["one"])
	assert.Equal(t, []Status{StatusConnected}, out.statuses["two"])
	assert.Equal(t, []string{"careful"}, out.warnings["one"])

	_, err = rt.Node("one")
	assert.NoError(t, err)
	_, err = rt.Node("bad")
	assert.ErrorIs(t, err, ErrUnknownNode)

	require.NoError(t, rt.Close())
	assert.Equal(t, []string{"two", "one"}, closed)
	assert.Empty(t, rt.Nodes())
}

func TestRuntimeCloseJoinsErrors(t *testing.T) {
	var closed []string
	reg := NewRegistry()
	require.NoError(t, reg.RegisterType("echo", func(ctx NodeContext, cfg config.Node) (Node, error) {
		return &echoNode{ctx: ctx, closed: &closed, err: errors.New("stuck")}, nil
	}))
	rt := NewRuntime(reg, &config.File{Nodes: []config.Node{{ID: "a", Type: "echo"}}}, Options{})
	require.NoError(t, rt.Start(context.Background()))

	err := rt.Close()
	assert.ErrorContains(t, err, "node a: stuck")
}

func TestNodeContext(t *testing.T) {
	var ctxSeen NodeContext
	reg := NewRegistry()
	require.NoError(t, reg.RegisterType("probe", func(ctx NodeContext, cfg config.Node) (Node, error) {
		ctxSeen = ctx
		return &echoNode{ctx: ctx, closed: new([]string)}, nil
	}))

	var published []debug.Envelope
	pub := debug.PublisherFunc(func(topic string, env debug.Envelope) { published = append(published, env) })
	cfg := &config.File{
		Connections: []config.Connection{{ID: "vac", Host: "10.0.0.2", Token: "00112233445566778899aabbccddeeff"}},
		Nodes:       []config.Node{{ID: "p", Type: "probe", Name: "Probe"}},
	}
	rt := NewRuntime(reg, cfg, Options{Debug: pub})
	require.NoError(t, rt.Start(context.Background()))
	defer rt.Close()

	require.NotNil(t, ctxSeen)
	assert.Equal(t, "p", ctxSeen.ID())
	assert.Equal(t, "Probe", ctxSeen.Name())
	assert.NotNil(t, ctxSeen.Logger())

	conn, ok := ctxSeen.Connection("vac")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2", conn.Host)
	_, ok = ctxSeen.Connection("")
	assert.False(t, ok)

	ctxSeen.Debug().Publish("debug", debug.Envelope{ID: "p"})
	assert.Len(t, published, 1)

	// No output configured: emitting is a no-op.
	ctxSeen.Send("x")
	ctxSeen.SetStatus(StatusDisconnected)
	assert.Equal(t, StatusDisconnected, rt.Nodes()[0].Status)
}
