// Package frame implements the link framing every command, response and
// event travels in.
//
//	offset size field
//	0      4    magic        0xFEEDBAC5
//	4      1    version
//	5      1    flags        bit0 response
//	6      2    trans_id     0 for events
//	8      4    command_id
//	12     2    payload_len
//	14     2    header_crc   CRC-16/CCITT-FALSE over bytes 0..13
//	16     n    payload
//	16+n   2    payload_crc  CRC-16/CCITT-FALSE over the payload
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sigurn/crc16"
)

const (
	Magic   uint32 = 0xFEEDBAC5
	Version uint8  = 0x01

	HeaderSize  = 16
	TrailerSize = 2
	Overhead    = HeaderSize + TrailerSize

	// MaxPayload bounds payload_len, larger frames are treated as corrupt
	MaxPayload = 4096
)

type Flags uint8

const (
	FlagResponse Flags = 1 << iota
)

// CommandID selects the modem operation or the event class of a frame
type CommandID uint32

func (c CommandID) String() string {
	return fmt.Sprintf("0x%04X", uint32(c))
}

var (
	ErrBadMagic      = errors.New("frame magic mismatch")
	ErrBadVersion    = errors.New("unsupported frame version")
	ErrHeaderCRC     = errors.New("frame header checksum mismatch")
	ErrPayloadCRC    = errors.New("frame payload checksum mismatch")
	ErrPayloadLength = errors.New("frame payload length out of range")
	ErrShortBuffer   = errors.New("buffer too small for frame")
)

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

func checksum(b []byte) uint16 {
	return crc16.Checksum(b, crcTable)
}

type Header struct {
	Flags      Flags
	TransID    uint16
	CommandID  CommandID
	PayloadLen uint16
}

func (h Header) IsResponse() bool {
	return h.Flags&FlagResponse != 0
}

// IsEvent reports an unsolicited frame, it carries no transaction
func (h Header) IsEvent() bool {
	return !h.IsResponse() && h.TransID == 0
}

// Size is the full encoded frame size for a payload of n bytes
func Size(n int) int {
	return Overhead + n
}

// MarshalHeader writes h into b, which must hold at least HeaderSize bytes
func MarshalHeader(b []byte, h Header) error {
	if len(b) < HeaderSize {
		return ErrShortBuffer
	}
	if h.PayloadLen > MaxPayload {
		return fmt.Errorf("%w: %d", ErrPayloadLength, h.PayloadLen)
	}

	binary.BigEndian.PutUint32(b[0:], Magic)
	b[4] = Version
	b[5] = uint8(h.Flags)
	binary.BigEndian.PutUint16(b[6:], h.TransID)
	binary.BigEndian.PutUint32(b[8:], uint32(h.CommandID))
	binary.BigEndian.PutUint16(b[12:], h.PayloadLen)
	binary.BigEndian.PutUint16(b[14:], checksum(b[:14]))
	return nil
}

// UnmarshalHeader validates and decodes the first HeaderSize bytes of b
func UnmarshalHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortBuffer
	}
	if binary.BigEndian.Uint32(b[0:]) != Magic {
		return Header{}, ErrBadMagic
	}
	if want, got := binary.BigEndian.Uint16(b[14:]), checksum(b[:14]); want != got {
		return Header{}, fmt.Errorf("%w: expected 0x%04X got 0x%04X", ErrHeaderCRC, want, got)
	}
	if b[4] != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrBadVersion, b[4])
	}

	h := Header{
		Flags:      Flags(b[5]),
		TransID:    binary.BigEndian.Uint16(b[6:]),
		CommandID:  CommandID(binary.BigEndian.Uint32(b[8:])),
		PayloadLen: binary.BigEndian.Uint16(b[12:]),
	}
	if h.PayloadLen > MaxPayload {
		return Header{}, fmt.Errorf("%w: %d", ErrPayloadLength, h.PayloadLen)
	}
	return h, nil
}

// Encode writes a complete frame into dst and returns the used slice.
// payload may alias dst[HeaderSize:], which lets callers encode in place.
func Encode(dst []byte, h Header, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d", ErrPayloadLength, len(payload))
	}
	n := Size(len(payload))
	if len(dst) < n {
		return nil, fmt.Errorf("%w: need %d have %d", ErrShortBuffer, n, len(dst))
	}

	h.PayloadLen = uint16(len(payload))
	if err := MarshalHeader(dst, h); err != nil {
		return nil, err
	}
	copy(dst[HeaderSize:], payload)
	binary.BigEndian.PutUint16(dst[HeaderSize+len(payload):], checksum(dst[HeaderSize:HeaderSize+len(payload)]))
	return dst[:n], nil
}

// VerifyPayload checks the trailer that follows a payload
func VerifyPayload(payload []byte, trailer []byte) error {
	if len(trailer) < TrailerSize {
		return ErrShortBuffer
	}
	if want, got := binary.BigEndian.Uint16(trailer), checksum(payload); want != got {
		return fmt.Errorf("%w: expected 0x%04X got 0x%04X", ErrPayloadCRC, want, got)
	}
	return nil
}
