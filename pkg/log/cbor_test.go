package log

import (
	"bytes"
	"testing"
	"time"
)

func TestEncodeDecodeStateChange(t *testing.T) {
	ts := time.Date(2026, 10, 14, 8, 30, 0, 123456789, time.UTC)
	in := Event{
		Timestamp:  ts,
		SessionID:  "6f1c",
		Layer:      LayerSession,
		Category:   CategoryState,
		InstanceID: "node-1",
		Address:    "192.168.1.20",
		StateChange: &StateChangeEvent{
			OldState: "CONNECTING",
			NewState: "CONNECTED",
		},
	}

	data, err := EncodeEvent(in)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	out, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}

	if !out.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v (nanoseconds must survive)", out.Timestamp, ts)
	}
	if out.StateChange == nil || out.StateChange.NewState != "CONNECTED" {
		t.Errorf("StateChange = %+v", out.StateChange)
	}
	if out.Frame != nil || out.Emission != nil || out.Error != nil {
		t.Error("unexpected payloads after decode")
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	ev := Event{
		Layer:    LayerBridge,
		Category: CategoryEmission,
		Emission: &EmissionEvent{Channel: "status", Forwarded: true, Value: []byte{0xa1}},
	}
	a, _ := EncodeEvent(ev)
	b, _ := EncodeEvent(ev)
	if !bytes.Equal(a, b) {
		t.Error("encoding is not deterministic")
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := DecodeEvent([]byte{0xff, 0x00}); err == nil {
		t.Error("expected error for invalid CBOR")
	}
}

func TestEncoderDecoderStream(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for i := 0; i < 3; i++ {
		if err := enc.Encode(Event{Layer: LayerTransport, Category: CategoryFrame, Frame: &FrameEvent{Size: 32 + i}}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	dec := NewDecoder(&buf)
	for i := 0; i < 3; i++ {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if ev.Frame == nil || ev.Frame.Size != 32+i {
			t.Errorf("event %d frame = %+v", i, ev.Frame)
		}
	}
}
