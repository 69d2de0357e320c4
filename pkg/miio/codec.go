package miio

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"errors"
	"fmt"
)

// Codec errors.
var (
	ErrBadPadding = errors.New("bad payload padding")
	ErrBadBlock   = errors.New("payload is not a multiple of the block size")
)

// Codec encrypts and decrypts packets for one device token.
type Codec struct {
	token []byte
	block cipher.Block
	iv    []byte
}

// NewCodec creates a codec for a 16-byte token.
func NewCodec(token []byte) (*Codec, error) {
	if len(token) != TokenSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidToken, len(token))
	}
	key := md5.Sum(token)
	iv := md5.Sum(append(key[:], token...))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	return &Codec{
		token: append([]byte(nil), token...),
		block: block,
		iv:    iv[:],
	}, nil
}

// Encode builds a complete packet carrying plaintext.
func (c *Codec) Encode(deviceID, stamp uint32, plaintext []byte) []byte {
	data := c.encrypt(plaintext)
	out := make([]byte, HeaderSize+len(data))
	encodeHeader(out, len(out), deviceID, stamp)
	copy(out[HeaderSize:], data)

	sum := checksum(out[:16], c.token, data)
	copy(out[16:32], sum[:])
	return out
}

// Decode verifies and decrypts a packet. Hello packets are returned with a
// nil payload and no checksum verification.
func (c *Codec) Decode(b []byte) (*Packet, []byte, error) {
	p, err := ParsePacket(b)
	if err != nil {
		return nil, nil, err
	}
	if p.IsHello() {
		return p, nil, nil
	}

	if checksum(b[:16], c.token, p.Data) != p.Checksum {
		return p, nil, ErrBadChecksum
	}
	plaintext, err := c.decrypt(p.Data)
	if err != nil {
		return p, nil, err
	}
	return p, plaintext, nil
}

func (c *Codec) encrypt(plaintext []byte) []byte {
	padded := pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, padded)
	return out
}

func (c *Codec) decrypt(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadBlock, len(data))
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(out, data)
	return unpad(out, aes.BlockSize)
}

// pad applies PKCS#7 padding.
func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append([]byte(nil), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrBadPadding
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, ErrBadPadding
		}
	}
	return b[:len(b)-n], nil
}
