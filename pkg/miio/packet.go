package miio

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
)

// Packet constants.
const (
	// Port is the UDP port devices listen on.
	Port = 54321

	// Magic starts every packet.
	Magic = 0x2131

	// HeaderSize is the size of the packet header in bytes.
	HeaderSize = 32

	// MaxPacketSize bounds a received datagram.
	MaxPacketSize = 65535
)

// Packet errors.
var (
	ErrPacketTooShort = errors.New("packet too short")
	ErrBadMagic       = errors.New("bad packet magic")
	ErrBadLength      = errors.New("packet length mismatch")
	ErrBadChecksum    = errors.New("packet checksum mismatch")
)

// Header is the fixed part of a packet.
type Header struct {
	Length   uint16
	Unknown  uint32
	DeviceID uint32
	Stamp    uint32
	Checksum [16]byte
}

// Packet is a decoded datagram. Data is still encrypted.
type Packet struct {
	Header
	Data []byte
}

// IsHello reports whether the packet carries no payload.
func (p *Packet) IsHello() bool {
	return len(p.Data) == 0
}

// HelloPacket returns the handshake request.
func HelloPacket() []byte {
	b := bytes.Repeat([]byte{0xff}, HeaderSize)
	binary.BigEndian.PutUint16(b[0:2], Magic)
	binary.BigEndian.PutUint16(b[2:4], HeaderSize)
	return b
}

// ParsePacket decodes the header of b. The checksum is not verified.
func ParsePacket(b []byte) (*Packet, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooShort, len(b))
	}
	if binary.BigEndian.Uint16(b[0:2]) != Magic {
		return nil, ErrBadMagic
	}

	p := &Packet{}
	p.Length = binary.BigEndian.Uint16(b[2:4])
	if int(p.Length) != len(b) {
		return nil, fmt.Errorf("%w: header says %d, got %d", ErrBadLength, p.Length, len(b))
	}
	p.Unknown = binary.BigEndian.Uint32(b[4:8])
	p.DeviceID = binary.BigEndian.Uint32(b[8:12])
	p.Stamp = binary.BigEndian.Uint32(b[12:16])
	copy(p.Checksum[:], b[16:32])
	if len(b) > HeaderSize {
		p.Data = append([]byte(nil), b[HeaderSize:]...)
	}
	return p, nil
}

// encodeHeader writes the first 16 header bytes for a packet of the given
// total length.
func encodeHeader(dst []byte, length int, deviceID, stamp uint32) {
	binary.BigEndian.PutUint16(dst[0:2], Magic)
	binary.BigEndian.PutUint16(dst[2:4], uint16(length))
	binary.BigEndian.PutUint32(dst[4:8], 0)
	binary.BigEndian.PutUint32(dst[8:12], deviceID)
	binary.BigEndian.PutUint32(dst[12:16], stamp)
}

func checksum(head, token, data []byte) [16]byte {
	h := md5.New()
	h.Write(head)
	h.Write(token)
	h.Write(data)
	var sum [16]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
