package bridge

import (
	"encoding/json"

	"github.com/lopelex/roborock-bridge/pkg/device"
)

// Channel names.
const (
	ChannelState  = "state"
	ChannelStatus = "status"
	ChannelEvent  = "event"
)

// Message is one outbound emission.
type Message struct {
	Payload Payload       `json:"payload"`
	State   device.State  `json:"state,omitempty"`
	Status  device.Status `json:"status,omitempty"`
	Event   string        `json:"event,omitempty"`
}

// Payload mirrors the named field of a Message.
type Payload struct {
	State  device.State  `json:"state,omitempty"`
	Status device.Status `json:"status,omitempty"`
	Event  string        `json:"event,omitempty"`
}

// Channel returns which channel the message belongs to.
func (m Message) Channel() string {
	switch {
	case m.State != nil:
		return ChannelState
	case m.Status != nil:
		return ChannelStatus
	default:
		return ChannelEvent
	}
}

// MarshalJSON encodes only the message's own channel, in the payload and at
// the top level. An empty record keeps its key.
func (m Message) MarshalJSON() ([]byte, error) {
	channel := m.Channel()
	var value any
	switch channel {
	case ChannelState:
		value = m.State
	case ChannelStatus:
		value = m.Status
	default:
		value = m.Event
	}
	return json.Marshal(map[string]any{
		"payload": map[string]any{channel: value},
		channel:   value,
	})
}

// StateMessage builds a state emission.
func StateMessage(s device.State) Message {
	return Message{Payload: Payload{State: s}, State: s}
}

// StatusMessage builds a status emission.
func StatusMessage(s device.Status) Message {
	return Message{Payload: Payload{Status: s}, Status: s}
}

// EventMessage builds a raw event emission.
func EventMessage(name string) Message {
	return Message{Payload: Payload{Event: name}, Event: name}
}

// Sink receives outbound messages.
type Sink interface {
	Send(msg Message)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(msg Message)

// Send calls f(msg).
func (f SinkFunc) Send(msg Message) { f(msg) }
