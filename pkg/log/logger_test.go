package log

import (
	"testing"
	"time"
)

// recordingLogger records events for testing.
type recordingLogger struct {
	events []Event
}

func (r *recordingLogger) Log(event Event) {
	r.events = append(r.events, event)
}

func TestNoopLoggerIsZeroValue(t *testing.T) {
	var logger NoopLogger
	logger.Log(Event{})
	logger.Log(Event{Timestamp: time.Now(), Error: &ErrorEventData{Message: "x"}})
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) should return NoopLogger")
	}
	rec := &recordingLogger{}
	if OrNoop(rec) != Logger(rec) {
		t.Error("OrNoop should return the given logger")
	}
}

func TestMultiLoggerCallsAll(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	multi := NewMultiLogger(a, nil, b)

	multi.Log(Event{SessionID: "s-1", Layer: LayerSession, Category: CategoryState})

	for i, rec := range []*recordingLogger{a, b} {
		if len(rec.events) != 1 {
			t.Fatalf("logger %d: got %d events, want 1", i, len(rec.events))
		}
		if rec.events[0].SessionID != "s-1" {
			t.Errorf("logger %d: SessionID = %q", i, rec.events[0].SessionID)
		}
	}
}

func TestMultiLoggerEmpty(t *testing.T) {
	NewMultiLogger().Log(Event{})
}

func TestMultiLoggerFlattens(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	multi := NewMultiLogger(NewMultiLogger(a, NoopLogger{}), b)
	if len(multi.loggers) != 2 {
		t.Fatalf("got %d loggers, want 2", len(multi.loggers))
	}
	multi.Log(Event{})
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("events = %d, %d", len(a.events), len(b.events))
	}
}

func TestTee(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}

	if _, ok := Tee(nil, NoopLogger{}).(NoopLogger); !ok {
		t.Error("Tee of nothing should be NoopLogger")
	}
	if got := Tee(nil, a); got != Logger(a) {
		t.Errorf("Tee of one logger = %T, want the logger itself", got)
	}
	if _, ok := Tee(a, b).(*MultiLogger); !ok {
		t.Error("Tee of two loggers should be a MultiLogger")
	}
}
