package miio

import (
	"bytes"
	"encoding/json"
)

// Request is a JSON-RPC call to the device.
type Request struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// Response is the device's answer to a Request.
type Response struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by the device.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// decodeResponse parses a decrypted payload. Some firmware pads the JSON
// with trailing NUL bytes.
func decodeResponse(b []byte) (*Response, error) {
	b = bytes.TrimRight(b, "\x00")
	var resp Response
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
