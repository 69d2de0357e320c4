package main

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/lopelex/roborock-bridge/pkg/debug"
	"github.com/lopelex/roborock-bridge/pkg/host"
)

// record is one JSON line on the output stream.
type record struct {
	Time    time.Time       `json:"time"`
	Node    string          `json:"node"`
	Kind    string          `json:"kind"`
	Msg     any             `json:"msg,omitempty"`
	Status  *host.Status    `json:"status,omitempty"`
	Warning string          `json:"warning,omitempty"`
	Debug   *debug.Envelope `json:"debug,omitempty"`
}

// lineOutput writes node messages, statuses and warnings as JSON lines to
// out and debug envelopes to diag.
type lineOutput struct {
	mu   sync.Mutex
	out  *json.Encoder
	diag *json.Encoder
	now  func() time.Time
}

func newLineOutput(out, diag io.Writer) *lineOutput {
	return &lineOutput{
		out:  json.NewEncoder(out),
		diag: json.NewEncoder(diag),
		now:  time.Now,
	}
}

func (o *lineOutput) write(enc *json.Encoder, r record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r.Time = o.now()
	// A broken pipe must not stop the bridge.
	_ = enc.Encode(r)
}

// Message implements host.Output.
func (o *lineOutput) Message(nodeID string, msg any) {
	o.write(o.out, record{Node: nodeID, Kind: "message", Msg: msg})
}

// Status implements host.Output.
func (o *lineOutput) Status(nodeID string, s host.Status) {
	o.write(o.out, record{Node: nodeID, Kind: "status", Status: &s})
}

// Warn implements host.Output.
func (o *lineOutput) Warn(nodeID, msg string) {
	o.write(o.out, record{Node: nodeID, Kind: "warning", Warning: msg})
}

// Publish implements debug.Publisher.
func (o *lineOutput) Publish(topic string, env debug.Envelope) {
	o.write(o.diag, record{Node: env.ID, Kind: topic, Debug: &env})
}

var (
	_ host.Output     = (*lineOutput)(nil)
	_ debug.Publisher = (*lineOutput)(nil)
)
