package log

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileLoggerAppendsAndReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vacuum.rlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	logger.Log(Event{Timestamp: time.Now(), SessionID: "a", Layer: LayerSession, Category: CategoryState,
		StateChange: &StateChangeEvent{NewState: "CONNECTING"}})
	logger.Log(Event{Timestamp: time.Now(), SessionID: "a", Layer: LayerTransport, Category: CategoryFrame,
		Direction: DirectionOut, Frame: &FrameEvent{Size: 32, Handshake: true}})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen appends.
	logger, err = NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger (reopen): %v", err)
	}
	logger.Log(Event{Timestamp: time.Now(), SessionID: "b", Layer: LayerBridge, Category: CategoryEmission,
		Emission: &EmissionEvent{Channel: "state", Forwarded: true}})
	logger.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	events, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[2].Emission == nil || events[2].Emission.Channel != "state" {
		t.Errorf("third event = %+v", events[2])
	}
}

func TestFileLoggerCloseTwice(t *testing.T) {
	logger, err := NewFileLogger(filepath.Join(t.TempDir(), "x.rlog"))
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	// Dropped silently.
	logger.Log(Event{})
}

func TestFileLoggerBadPath(t *testing.T) {
	if _, err := NewFileLogger(filepath.Join(t.TempDir(), "missing", "x.rlog")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestFilteredReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.rlog")
	logger, _ := NewFileLogger(path)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, layer := range []Layer{LayerTransport, LayerSession, LayerBridge, LayerSession} {
		logger.Log(Event{Timestamp: base.Add(time.Duration(i) * time.Second), Layer: layer, InstanceID: "n1"})
	}
	logger.Close()

	layer := LayerSession
	r, err := NewFilteredReader(path, Filter{Layer: &layer})
	if err != nil {
		t.Fatalf("NewFilteredReader: %v", err)
	}
	defer r.Close()

	count := 0
	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if ev.Layer != LayerSession {
			t.Errorf("unexpected layer %v", ev.Layer)
		}
		count++
	}
	if count != 2 {
		t.Errorf("got %d events, want 2", count)
	}
}

func TestFilterTimeWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)
	f := Filter{TimeStart: &start, TimeEnd: &end}

	if !f.Matches(Event{Timestamp: start}) {
		t.Error("start is inclusive")
	}
	if f.Matches(Event{Timestamp: end}) {
		t.Error("end is exclusive")
	}
	if f.Matches(Event{Timestamp: start.Add(-time.Second)}) {
		t.Error("before start should not match")
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "nope.rlog")); !os.IsNotExist(err) {
		t.Errorf("err = %v, want not-exist", err)
	}
}

func TestFileLoggerRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.rlog")
	event := Event{Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), SessionID: "s", Layer: LayerSession,
		Category: CategoryState, StateChange: &StateChangeEvent{NewState: "CONNECTED"}}
	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatal(err)
	}

	// Room for two events per file.
	logger, err := NewFileLogger(path, WithMaxSize(int64(2*len(data))))
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	for i := 0; i < 5; i++ {
		logger.Log(event)
	}
	logger.Close()

	count := func(p string) int {
		r, err := NewReader(p)
		if err != nil {
			t.Fatalf("NewReader(%s): %v", p, err)
		}
		defer r.Close()
		events, err := r.ReadAll()
		if err != nil {
			t.Fatalf("ReadAll(%s): %v", p, err)
		}
		return len(events)
	}
	if got := count(path); got != 1 {
		t.Errorf("current file has %d events, want 1", got)
	}
	if got := count(path + ".1"); got != 2 {
		t.Errorf("rotated file has %d events, want 2", got)
	}
}
