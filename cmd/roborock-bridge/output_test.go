package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lopelex/roborock-bridge/pkg/bridge"
	"github.com/lopelex/roborock-bridge/pkg/debug"
	"github.com/lopelex/roborock-bridge/pkg/device"
	"github.com/lopelex/roborock-bridge/pkg/host"
)

func TestLineOutput(t *testing.T) {
	var out, diag bytes.Buffer
	o := newLineOutput(&out, &diag)
	o.now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }

	o.Message("n1", bridge.StateMessage(device.State{"state": "charging"}))
	o.Status("n1", host.StatusConnected)
	o.Warn("n1", "catch: transport unavailable")
	debug.NewTracer(true, "n1", "Kitchen", o).Send("Connect to roborock")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.JSONEq(t, `{"time":"2026-03-01T08:00:00Z","node":"n1","kind":"message",
		"msg":{"payload":{"state":{"state":"charging"}},"state":{"state":"charging"}}}`, lines[0])
	assert.JSONEq(t, `{"time":"2026-03-01T08:00:00Z","node":"n1","kind":"status",
		"status":{"fill":"green","shape":"dot","text":"connected"}}`, lines[1])
	assert.JSONEq(t, `{"time":"2026-03-01T08:00:00Z","node":"n1","kind":"warning",
		"warning":"catch: transport unavailable"}`, lines[2])

	var r record
	require.NoError(t, json.Unmarshal(diag.Bytes(), &r))
	assert.Equal(t, "debug", r.Kind)
	require.NotNil(t, r.Debug)
	assert.Equal(t, "Roborock", r.Debug.Topic)
	assert.Equal(t, "Kitchen", r.Debug.Name)
	assert.Equal(t, "Connect to roborock", r.Debug.Msg)
}
