// Package miiotest provides an in-process fake miIO device listening on a
// loopback UDP socket.
package miiotest

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"net"
	"sync"

	"github.com/lopelex/roborock-bridge/pkg/miio"
)

// Token is a fixed test token.
const Token = "00112233445566778899aabbccddeeff"

// DeviceID is the ID the fake device reports.
const DeviceID = 0x0451ab12

// Handler answers one method. A non-nil RPCError is sent as error object.
type Handler func(params json.RawMessage) (any, *miio.RPCError)

// Device is a fake vacuum.
type Device struct {
	conn  *net.UDPConn
	codec *miio.Codec
	done  chan struct{}

	mu       sync.Mutex
	handlers map[string]Handler
	calls    []string
	hellos   int
	silent   bool
	stamp    uint32
	status   miio.VacuumStatus
}

// Start listens on a random loopback port with the given hex token.
func Start(token string) (*Device, error) {
	tok, err := miio.ParseToken(token)
	if err != nil {
		return nil, err
	}
	codec, err := miio.NewCodec(tok)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, err
	}

	d := &Device{
		conn:     conn,
		codec:    codec,
		done:     make(chan struct{}),
		handlers: make(map[string]Handler),
		stamp:    1000,
		status:   miio.VacuumStatus{MsgVer: 2, MsgSeq: 1, State: 8, Battery: 100, FanPower: 60},
	}
	d.handlers[miio.MethodGetStatus] = d.answerStatus
	go d.serve()
	return d, nil
}

// Addr returns the address to dial.
func (d *Device) Addr() string {
	return d.conn.LocalAddr().String()
}

// Handle installs h for method.
func (d *Device) Handle(method string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = h
}

// SetStatus sets the record answered to get_status. msg_seq advances on
// every answer.
func (d *Device) SetStatus(st miio.VacuumStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	seq := d.status.MsgSeq
	d.status = st
	d.status.MsgSeq = seq
}

// SetSilent makes the device ignore all packets.
func (d *Device) SetSilent(silent bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silent = silent
}

// Calls returns the methods received so far.
func (d *Device) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Hellos returns the number of hello packets received.
func (d *Device) Hellos() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hellos
}

// Close stops the device.
func (d *Device) Close() error {
	select {
	case <-d.done:
		return nil
	default:
		close(d.done)
	}
	return d.conn.Close()
}

func (d *Device) answerStatus(json.RawMessage) (any, *miio.RPCError) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.MsgSeq++
	return []miio.VacuumStatus{d.status}, nil
}

func (d *Device) serve() {
	buf := make([]byte, miio.MaxPacketSize)
	for {
		n, peer, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		d.mu.Lock()
		silent := d.silent
		d.mu.Unlock()
		if silent {
			continue
		}

		if n == miio.HeaderSize {
			d.hello(peer)
			continue
		}
		d.request(buf[:n], peer)
	}
}

func (d *Device) hello(peer *net.UDPAddr) {
	d.mu.Lock()
	d.hellos++
	stamp := d.stamp
	d.mu.Unlock()

	b := miio.HelloPacket()
	binary.BigEndian.PutUint32(b[4:8], 0)
	binary.BigEndian.PutUint32(b[8:12], DeviceID)
	binary.BigEndian.PutUint32(b[12:16], stamp)
	d.conn.WriteToUDP(b, peer)
}

func (d *Device) request(b []byte, peer *net.UDPAddr) {
	p, plaintext, err := d.codec.Decode(b)
	if err != nil || p.DeviceID != DeviceID {
		return
	}

	var req struct {
		ID     int             `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(plaintext, &req); err != nil {
		return
	}

	d.mu.Lock()
	d.calls = append(d.calls, req.Method)
	h := d.handlers[req.Method]
	d.mu.Unlock()

	resp := map[string]any{"id": req.ID}
	if h == nil {
		resp["error"] = miio.RPCError{Code: -32601, Message: "Method not found."}
	} else if result, rpcErr := h(req.Params); rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	d.conn.WriteToUDP(d.codec.Encode(DeviceID, p.Stamp, payload), peer)
}
