package miio

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/lopelex/roborock-bridge/pkg/device"
)

// TokenSize is the size of a device token in bytes.
const TokenSize = 16

// ErrInvalidToken is returned for tokens that are not 32 hex digits.
var ErrInvalidToken = device.ErrInvalidToken

// ParseToken decodes a hex token as shown by the vendor app.
func ParseToken(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) != 2*TokenSize {
		return nil, fmt.Errorf("%w: want %d hex digits, got %d", ErrInvalidToken, 2*TokenSize, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return b, nil
}
