package log

import (
	"strings"
	"time"
)

// Event is a protocol event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the device session (UUID). Empty before the
	// first session exists.
	SessionID string `cbor:"2,keyasint,omitempty"`

	// Direction of the flow, for frames and emissions.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// InstanceID is the host instance that owns the session.
	InstanceID string `cbor:"6,keyasint,omitempty"`

	// Address is the device address.
	Address string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"`
	Emission    *EmissionEvent    `cbor:"12,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"`
}

// Direction indicates the direction of flow.
type Direction uint8

const (
	// DirectionIn is device to bridge.
	DirectionIn Direction = 0
	// DirectionOut is bridge to device, or bridge to the outbound channel.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// ParseDirection parses a direction name, case-insensitively.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToUpper(s) {
	case "IN":
		return DirectionIn, true
	case "OUT":
		return DirectionOut, true
	}
	return 0, false
}

// Layer indicates where the event was captured.
type Layer uint8

const (
	// LayerTransport is the miIO packet layer.
	LayerTransport Layer = 0
	// LayerSession is the session lifecycle layer.
	LayerSession Layer = 1
	// LayerBridge is the change bridge.
	LayerBridge Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerSession:
		return "SESSION"
	case LayerBridge:
		return "BRIDGE"
	default:
		return "UNKNOWN"
	}
}

// ParseLayer parses a layer name, case-insensitively.
func ParseLayer(s string) (Layer, bool) {
	switch strings.ToUpper(s) {
	case "TRANSPORT":
		return LayerTransport, true
	case "SESSION":
		return LayerSession, true
	case "BRIDGE":
		return LayerBridge, true
	}
	return 0, false
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryFrame is a transport frame.
	CategoryFrame Category = 0
	// CategoryState is a state change.
	CategoryState Category = 1
	// CategoryEmission is a bridge forwarding decision.
	CategoryEmission Category = 2
	// CategoryError is an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFrame:
		return "FRAME"
	case CategoryState:
		return "STATE"
	case CategoryEmission:
		return "EMISSION"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseCategory parses a category name, case-insensitively.
func ParseCategory(s string) (Category, bool) {
	switch strings.ToUpper(s) {
	case "FRAME":
		return CategoryFrame, true
	case "STATE":
		return CategoryState, true
	case "EMISSION":
		return CategoryEmission, true
	case "ERROR":
		return CategoryError, true
	}
	return 0, false
}

// FrameEvent captures a miIO packet.
type FrameEvent struct {
	// Size is the packet size in bytes, header included.
	Size int `cbor:"1,keyasint"`

	// Data is the decrypted payload (may be truncated).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates Data was cut.
	Truncated bool `cbor:"3,keyasint,omitempty"`

	// Handshake marks hello packets, which carry no payload.
	Handshake bool `cbor:"4,keyasint,omitempty"`
}

// MaxFrameData is the number of payload bytes kept per frame.
const MaxFrameData = 512

// NewFrameEvent builds a frame event, keeping at most MaxFrameData bytes.
func NewFrameEvent(size int, data []byte) *FrameEvent {
	fe := &FrameEvent{Size: size}
	if len(data) > MaxFrameData {
		fe.Data = append([]byte(nil), data[:MaxFrameData]...)
		fe.Truncated = true
	} else if len(data) > 0 {
		fe.Data = append([]byte(nil), data...)
	}
	return fe
}

// StateChangeEvent captures session lifecycle transitions.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change, if known.
	Reason string `cbor:"3,keyasint,omitempty"`
}

// EmissionEvent captures a forwarding decision of the change bridge.
type EmissionEvent struct {
	// Channel is "state", "status" or "event".
	Channel string `cbor:"1,keyasint"`

	// Forwarded is false when the value was suppressed as unchanged.
	Forwarded bool `cbor:"2,keyasint"`

	// Value is the canonical encoding of the observed value.
	Value []byte `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes the operation being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
