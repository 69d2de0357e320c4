package bridge

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// canonical encodes values with sorted map keys and shortest-form numbers.
var canonical cbor.EncMode

func init() {
	var err error
	canonical, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bridge: canonical cbor mode: %v", err))
	}
}

// Canonical returns the deterministic encoding of v.
func Canonical(v any) ([]byte, error) {
	return canonical.Marshal(v)
}

// ObservedValue remembers the canonical encoding of the last forwarded value
// of one channel.
type ObservedValue struct {
	last []byte
	set  bool
}

// Observe records v and reports whether it differs from the last recorded
// value. The encoding is returned for tracing.
func (o *ObservedValue) Observe(v any) (changed bool, encoded []byte, err error) {
	encoded, err = Canonical(v)
	if err != nil {
		return false, nil, err
	}
	if o.set && bytes.Equal(o.last, encoded) {
		return false, encoded, nil
	}
	o.last = encoded
	o.set = true
	return true, encoded, nil
}

// Reset forgets the last value.
func (o *ObservedValue) Reset() {
	o.last = nil
	o.set = false
}

// Empty reports whether no value was recorded since the last Reset.
func (o *ObservedValue) Empty() bool {
	return !o.set
}
