package debug

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	msg, format := Encode("Connect to roborock", MaxLength)
	assert.Equal(t, "Connect to roborock", msg)
	assert.Equal(t, "string[19]", format)

	msg, format = Encode(map[string]any{"state": "charging", "battery": 100}, MaxLength)
	assert.Equal(t, `{"battery":100,"state":"charging"}`, msg)
	assert.Equal(t, "Object", format)

	msg, format = Encode(errors.New("boom"), MaxLength)
	assert.Equal(t, `{"name":"Error","message":"boom"}`, msg)
	assert.Equal(t, "error", format)

	msg, format = Encode(42, MaxLength)
	assert.Equal(t, "42", msg)
	assert.Equal(t, "number", format)
}

func TestEncodeTruncates(t *testing.T) {
	long := strings.Repeat("x", MaxLength+500)

	msg, format := Encode(long, MaxLength)
	assert.Equal(t, strings.Repeat("x", MaxLength)+"...", msg)
	assert.Equal(t, "string[1500] [truncated]", format)

	msg, format = Encode(map[string]string{"k": long}, MaxLength)
	assert.Len(t, []rune(msg), MaxLength+3)
	assert.Equal(t, "Object [truncated]", format)
}

func TestEncodeCountsRunes(t *testing.T) {
	s := strings.Repeat("ü", MaxLength)
	msg, format := Encode(s, MaxLength)
	assert.Equal(t, s, msg)
	assert.Equal(t, "string[1000]", format)
}

func TestTracer(t *testing.T) {
	var got []Envelope
	pub := PublisherFunc(func(topic string, env Envelope) {
		assert.Equal(t, "debug", topic)
		got = append(got, env)
	})

	NewTracer(false, "n1", "Vacuum", pub).Send("ignored")
	assert.Empty(t, got)

	var nilTracer *Tracer
	nilTracer.Send("ignored")
	assert.False(t, nilTracer.Enabled())

	tr := NewTracer(true, "n1", "Vacuum", pub)
	tr.Send("Connection closed")
	require.Len(t, got, 1)
	assert.Equal(t, Envelope{
		ID:       "n1",
		Name:     "Vacuum",
		Topic:    "Roborock",
		Property: "debug",
		Msg:      "Connection closed",
		Format:   "string[17]",
	}, got[0])
}

func TestTracerWithoutPublisher(t *testing.T) {
	tr := NewTracer(true, "n1", "Vacuum", nil)
	assert.False(t, tr.Enabled())
	tr.Send("dropped")
}
