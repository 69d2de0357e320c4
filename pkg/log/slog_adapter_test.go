package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func decodeSlog(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output %q: %v", buf.String(), err)
	}
	return entry
}

func TestSlogAdapterLogsStateChange(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	adapter.Log(Event{
		Timestamp:  time.Now(),
		SessionID:  "sess-1",
		InstanceID: "node-1",
		Layer:      LayerSession,
		Category:   CategoryState,
		StateChange: &StateChangeEvent{
			OldState: "CONNECTED",
			NewState: "DISCONNECTED",
			Reason:   "transport closed",
		},
	})

	entry := decodeSlog(t, &buf)
	if entry["msg"] != "protocol" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["session_id"] != "sess-1" {
		t.Errorf("session_id = %v", entry["session_id"])
	}
	if entry["new_state"] != "DISCONNECTED" || entry["reason"] != "transport closed" {
		t.Errorf("state attrs = %v / %v", entry["new_state"], entry["reason"])
	}
}

func TestSlogAdapterLogsEmission(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	adapter.Log(Event{Layer: LayerBridge, Category: CategoryEmission, Direction: DirectionOut,
		Emission: &EmissionEvent{Channel: "status", Forwarded: false}})

	entry := decodeSlog(t, &buf)
	if entry["channel"] != "status" || entry["forwarded"] != false {
		t.Errorf("emission attrs = %v / %v", entry["channel"], entry["forwarded"])
	}
	if _, ok := entry["session_id"]; ok {
		t.Error("empty session_id should be omitted")
	}
}

func TestSlogAdapterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	adapter.Log(Event{Layer: LayerTransport, Category: CategoryFrame, Frame: &FrameEvent{Size: 32}})
	if buf.Len() != 0 {
		t.Errorf("debug event logged at info level: %s", buf.String())
	}
}
