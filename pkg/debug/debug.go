// Package debug builds the bounded diagnostic envelopes published to the
// host's debug channel.
package debug

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Envelope constants.
const (
	Topic    = "Roborock"
	Property = "debug"

	// MaxLength caps the encoded message body.
	MaxLength = 1000
)

// Envelope is one diagnostic message.
type Envelope struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Topic    string `json:"topic"`
	Property string `json:"property"`
	Msg      string `json:"msg"`
	Format   string `json:"format"`
	Path     string `json:"_path"`
}

// Publisher delivers envelopes to an observer channel.
type Publisher interface {
	Publish(topic string, env Envelope)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(topic string, env Envelope)

// Publish calls f(topic, env).
func (f PublisherFunc) Publish(topic string, env Envelope) { f(topic, env) }

// Encode renders data into a message body and format label, truncating the
// body to maxLength characters.
func Encode(data any, maxLength int) (msg, format string) {
	switch v := data.(type) {
	case nil:
		msg, format = "undefined", "undefined"
	case string:
		msg, format = v, fmt.Sprintf("string[%d]", utf8.RuneCountInString(v))
	case error:
		b, _ := json.Marshal(struct {
			Name    string `json:"name"`
			Message string `json:"message"`
		}{Name: "Error", Message: v.Error()})
		msg, format = string(b), "error"
	case bool:
		msg, format = fmt.Sprint(v), "boolean"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		msg, format = fmt.Sprint(v), "number"
	default:
		b, err := json.Marshal(v)
		if err != nil {
			msg, format = fmt.Sprintf("%v", v), "Object"
		} else {
			msg, format = string(b), "Object"
		}
	}
	if truncated, ok := truncate(msg, maxLength); ok {
		msg = truncated
		format += " [truncated]"
	}
	return msg, format
}

func truncate(s string, n int) (string, bool) {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:n]) + "...", true
}

// Tracer sends diagnostics for one instance. A disabled or nil Tracer
// drops everything.
type Tracer struct {
	enabled   bool
	id        string
	name      string
	publisher Publisher
}

// NewTracer creates a tracer for the instance identified by id and name.
func NewTracer(enabled bool, id, name string, publisher Publisher) *Tracer {
	return &Tracer{enabled: enabled && publisher != nil, id: id, name: name, publisher: publisher}
}

// Enabled reports whether diagnostics are published.
func (t *Tracer) Enabled() bool {
	return t != nil && t.enabled
}

// Send publishes data on the "debug" topic.
func (t *Tracer) Send(data any) {
	if !t.Enabled() {
		return
	}
	t.publisher.Publish("debug", t.Envelope(data))
}

// Envelope builds the envelope for data without publishing it.
func (t *Tracer) Envelope(data any) Envelope {
	msg, format := Encode(data, MaxLength)
	return Envelope{
		ID:       t.id,
		Name:     t.name,
		Topic:    Topic,
		Property: Property,
		Msg:      msg,
		Format:   format,
		Path:     "",
	}
}
