package device

import (
	"errors"
	"fmt"
)

// Device errors.
var (
	ErrSessionDestroyed     = errors.New("session destroyed")
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrInvalidToken         = errors.New("invalid access token")
	ErrHandshakeFailed      = errors.New("handshake failed")
	ErrCallTimeout          = errors.New("call timed out")
)

// ConnectError reports a failed session establishment.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// CallError reports a failed device call. Code and Message are set when the
// device answered with an error object.
type CallError struct {
	Method  string
	Code    int
	Message string
	Err     error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("call %s: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("call %s: device error %d: %s", e.Method, e.Code, e.Message)
}

func (e *CallError) Unwrap() error { return e.Err }
