package roborockbridge_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lopelex/roborock-bridge/pkg/bridge"
	"github.com/lopelex/roborock-bridge/pkg/config"
	"github.com/lopelex/roborock-bridge/pkg/connection"
	"github.com/lopelex/roborock-bridge/pkg/debug"
	"github.com/lopelex/roborock-bridge/pkg/device"
	"github.com/lopelex/roborock-bridge/pkg/host"
	"github.com/lopelex/roborock-bridge/pkg/log"
	"github.com/lopelex/roborock-bridge/pkg/miio"
	"github.com/lopelex/roborock-bridge/pkg/miio/miiotest"
	"github.com/lopelex/roborock-bridge/pkg/roborock"
)

// output records everything the runtime emits.
type output struct {
	mu        sync.Mutex
	messages  []bridge.Message
	statuses  []host.Status
	warnings  []string
	envelopes []debug.Envelope
}

func (o *output) Message(id string, msg any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if m, ok := msg.(bridge.Message); ok {
		o.messages = append(o.messages, m)
	}
}

func (o *output) Status(id string, s host.Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, s)
}

func (o *output) Warn(id, msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.warnings = append(o.warnings, msg)
}

func (o *output) Publish(topic string, env debug.Envelope) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.envelopes = append(o.envelopes, env)
}

func (o *output) snapshot() ([]bridge.Message, []host.Status, []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]bridge.Message(nil), o.messages...),
		append([]host.Status(nil), o.statuses...),
		append([]string(nil), o.warnings...)
}

type memoryLog struct {
	mu     sync.Mutex
	events []log.Event
}

func (l *memoryLog) Log(e log.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *memoryLog) count(match func(log.Event) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if match(e) {
			n++
		}
	}
	return n
}

func startBridge(t *testing.T, addr, token string, params map[string]any) (*host.Runtime, *output, *memoryLog) {
	t.Helper()
	protocol := &memoryLog{}
	dev := config.Device{
		DialTimeout: 2 * time.Second,
		CallTimeout: 200 * time.Millisecond,
		Backoff:     connection.BackoffConfig{Initial: 50 * time.Millisecond, Max: 200 * time.Millisecond},
	}

	reg := host.NewRegistry()
	require.NoError(t, roborock.Register(reg, roborock.Options{
		Dialer:         miio.NewDialer(miio.Config{CallTimeout: dev.CallTimeout, Retries: 1}, nil, protocol),
		Device:         dev,
		ProtocolLogger: protocol,
	}))

	params["connection"] = "vac"
	cfg := &config.File{
		Device:      dev,
		Connections: []config.Connection{{ID: "vac", Name: "Vacuum", Host: addr, Token: token}},
		Nodes:       []config.Node{{ID: "kitchen", Type: roborock.TypeName, Name: "Kitchen", Params: params}},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	out := &output{}
	rt := host.NewRuntime(reg, cfg, host.Options{Output: out, Debug: out})
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() { rt.Close() })
	return rt, out, protocol
}

func stateMessages(msgs []bridge.Message) []device.State {
	var states []device.State
	for _, m := range msgs {
		if m.Channel() == bridge.ChannelState {
			states = append(states, m.State)
		}
	}
	return states
}

func TestE2E_ForwardsDistinctChanges(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	d, err := miiotest.Start(miiotest.Token)
	require.NoError(t, err)
	defer d.Close()

	rt, out, protocol := startBridge(t, d.Addr(), miiotest.Token, map[string]any{
		"pooling": 1,
		"events":  true,
		"status":  true,
		"debug":   true,
	})

	require.Eventually(t, func() bool {
		_, statuses, _ := out.snapshot()
		return len(statuses) > 0 && statuses[len(statuses)-1] == host.StatusConnected
	}, 5*time.Second, 10*time.Millisecond)

	d.SetStatus(miio.VacuumStatus{MsgVer: 2, State: 5, Battery: 97, FanPower: 102, InCleaning: 1})

	// One session poll turns the change into stateChanged events; the bridge
	// fetches and forwards the new state once.
	require.Eventually(t, func() bool {
		msgs, _, _ := out.snapshot()
		for _, s := range stateMessages(msgs) {
			if s[miio.KeyState] == "cleaning" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	// Let status polling run a few more periods against the unchanged device.
	time.Sleep(2500 * time.Millisecond)
	require.NoError(t, rt.Close())

	msgs, statuses, warnings := out.snapshot()
	assert.Empty(t, warnings)
	assert.Equal(t, host.StatusDisconnected, statuses[0])

	states := stateMessages(msgs)
	require.Len(t, states, 1, "identical states are forwarded once")
	assert.Equal(t, 97, states[0][miio.KeyBatteryLevel])
	assert.Equal(t, true, states[0][miio.KeyCleaning])

	var statusMsgs []device.Status
	var events int
	for _, m := range msgs {
		switch m.Channel() {
		case bridge.ChannelStatus:
			statusMsgs = append(statusMsgs, m.Status)
		case bridge.ChannelEvent:
			events++
		}
	}
	assert.Positive(t, events)
	// msg_seq advances on every answer; it never makes a status distinct.
	require.NotEmpty(t, statusMsgs)
	assert.LessOrEqual(t, len(statusMsgs), 2)
	for _, s := range statusMsgs {
		assert.NotContains(t, s, "msg_seq")
	}
	assert.EqualValues(t, 102, statusMsgs[len(statusMsgs)-1]["fan_power"])

	assert.Positive(t, protocol.count(func(e log.Event) bool { return e.Frame != nil && e.Frame.Handshake }))
	assert.Positive(t, protocol.count(func(e log.Event) bool { return e.Emission != nil && !e.Emission.Forwarded }))

	out.mu.Lock()
	require.NotEmpty(t, out.envelopes)
	assert.Equal(t, "Connect to roborock", out.envelopes[0].Msg)
	out.mu.Unlock()

	// Nothing arrives after shutdown.
	d.SetStatus(miio.VacuumStatus{State: 8, Battery: 100})
	time.Sleep(1200 * time.Millisecond)
	after, _, _ := out.snapshot()
	assert.Len(t, after, len(msgs))
}

func TestE2E_WrongTokenWarnsAndRetries(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	d, err := miiotest.Start(miiotest.Token)
	require.NoError(t, err)
	defer d.Close()

	rt, out, _ := startBridge(t, d.Addr(), "ffeeddccbbaa99887766554433221100", map[string]any{})

	require.Eventually(t, func() bool {
		_, _, warnings := out.snapshot()
		return len(warnings) >= 2
	}, 5*time.Second, 20*time.Millisecond)

	msgs, statuses, warnings := out.snapshot()
	assert.Empty(t, msgs, "a rejected session emits nothing")
	for _, w := range warnings {
		assert.Contains(t, w, "Encountered an error while connecting to device: ")
	}
	for _, s := range statuses {
		assert.Equal(t, host.StatusDisconnected, s)
	}
	assert.GreaterOrEqual(t, d.Hellos(), 2)

	n, err := rt.Node("kitchen")
	require.NoError(t, err)
	assert.NotEqual(t, connection.StateConnected, n.(*roborock.Node).State())
}

func TestE2E_NodeWithoutConnectionStaysInert(t *testing.T) {
	d, err := miiotest.Start(miiotest.Token)
	require.NoError(t, err)
	defer d.Close()

	reg := host.NewRegistry()
	require.NoError(t, roborock.Register(reg, roborock.Options{Dialer: miio.NewDialer(miio.Config{}, nil, nil)}))
	cfg := &config.File{Nodes: []config.Node{{ID: "lonely", Type: roborock.TypeName, Params: map[string]any{"connection": "nowhere"}}}}
	out := &output{}
	rt := host.NewRuntime(reg, cfg, host.Options{Output: out})
	require.NoError(t, rt.Start(context.Background()))
	defer rt.Close()

	time.Sleep(50 * time.Millisecond)
	msgs, statuses, warnings := out.snapshot()
	assert.Empty(t, msgs)
	assert.Empty(t, statuses)
	assert.Empty(t, warnings)
	assert.Zero(t, d.Hellos())
}
