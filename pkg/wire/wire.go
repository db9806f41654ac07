// Package wire converts payload fields between host values and their
// network representation. Multi-byte integers are big-endian and doubles use
// the network double layout (IEEE-754 bits, most significant byte first).
//
// Payload types describe their layout once, in a MarshalWire/UnmarshalWire
// pair, using Encoder and Decoder. Both carry a sticky error so a sequence of
// field operations can be checked once at the end.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrShort    = errors.New("payload shorter than its declared layout")
	ErrTrailing = errors.New("payload longer than its declared layout")
	ErrOverflow = errors.New("field does not fit the payload buffer")
	ErrString   = errors.New("string does not fit its fixed field")
)

func Htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.NativeEndian.Uint16(b[:])
}

func Ntohs(v uint16) uint16 {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], v)
	return binary.BigEndian.Uint16(b[:])
}

func Htonl(v uint32) uint32 {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return binary.NativeEndian.Uint32(b[:])
}

func Ntohl(v uint32) uint32 {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], v)
	return binary.BigEndian.Uint32(b[:])
}

func Htonll(v uint64) uint64 {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return binary.NativeEndian.Uint64(b[:])
}

func Ntohll(v uint64) uint64 {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], v)
	return binary.BigEndian.Uint64(b[:])
}

// Htond encodes a double in network order
func Htond(v float64) [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	return b
}

// Ntohd decodes a double in network order
func Ntohd(b [8]byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b[:]))
}

// Encoder appends fields to a fixed buffer
type Encoder struct {
	buf []byte
	off int
	err error
}

func NewEncoder(buf []byte) *Encoder {
	return &Encoder{buf: buf}
}

func (e *Encoder) Err() error {
	return e.err
}

// Len is the number of bytes written so far
func (e *Encoder) Len() int {
	return e.off
}

func (e *Encoder) Bytes() []byte {
	return e.buf[:e.off]
}

func (e *Encoder) next(n int) []byte {
	if e.err != nil {
		return nil
	}
	if e.off+n > len(e.buf) {
		e.err = fmt.Errorf("%w: need %d bytes at offset %d of %d", ErrOverflow, n, e.off, len(e.buf))
		return nil
	}
	b := e.buf[e.off : e.off+n]
	e.off += n
	return b
}

func (e *Encoder) Uint8(v uint8) {
	if b := e.next(1); b != nil {
		b[0] = v
	}
}

func (e *Encoder) Uint16(v uint16) {
	if b := e.next(2); b != nil {
		binary.BigEndian.PutUint16(b, v)
	}
}

func (e *Encoder) Uint32(v uint32) {
	if b := e.next(4); b != nil {
		binary.BigEndian.PutUint32(b, v)
	}
}

func (e *Encoder) Uint64(v uint64) {
	if b := e.next(8); b != nil {
		binary.BigEndian.PutUint64(b, v)
	}
}

func (e *Encoder) Int8(v int8)   { e.Uint8(uint8(v)) }
func (e *Encoder) Int16(v int16) { e.Uint16(uint16(v)) }
func (e *Encoder) Int32(v int32) { e.Uint32(uint32(v)) }
func (e *Encoder) Int64(v int64) { e.Uint64(uint64(v)) }

func (e *Encoder) Bool(v bool) {
	if v {
		e.Uint8(1)
	} else {
		e.Uint8(0)
	}
}

func (e *Encoder) Float64(v float64) {
	if b := e.next(8); b != nil {
		d := Htond(v)
		copy(b, d[:])
	}
}

// Raw copies p verbatim
func (e *Encoder) Raw(p []byte) {
	if b := e.next(len(p)); b != nil {
		copy(b, p)
	}
}

// FixedString writes s NUL terminated into a field of size bytes, the rest is zero filled
func (e *Encoder) FixedString(s string, size int) {
	if e.err != nil {
		return
	}
	if len(s) >= size {
		e.err = fmt.Errorf("%w: %d bytes into %d", ErrString, len(s), size)
		return
	}
	if b := e.next(size); b != nil {
		n := copy(b, s)
		clear(b[n:])
	}
}

// Decoder reads fields from a received payload
type Decoder struct {
	buf []byte
	off int
	err error
}

func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

func (d *Decoder) Err() error {
	return d.err
}

func (d *Decoder) Remaining() int {
	return len(d.buf) - d.off
}

// Finish reports the sticky error, or ErrTrailing if bytes were left unread
func (d *Decoder) Finish() error {
	if d.err != nil {
		return d.err
	}
	if d.off != len(d.buf) {
		return fmt.Errorf("%w: %d unread bytes", ErrTrailing, len(d.buf)-d.off)
	}
	return nil
}

func (d *Decoder) next(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.buf) {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d of %d", ErrShort, n, d.off, len(d.buf))
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *Decoder) Uint8() uint8 {
	if b := d.next(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *Decoder) Uint16() uint16 {
	if b := d.next(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (d *Decoder) Uint32() uint32 {
	if b := d.next(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (d *Decoder) Uint64() uint64 {
	if b := d.next(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (d *Decoder) Int8() int8   { return int8(d.Uint8()) }
func (d *Decoder) Int16() int16 { return int16(d.Uint16()) }
func (d *Decoder) Int32() int32 { return int32(d.Uint32()) }
func (d *Decoder) Int64() int64 { return int64(d.Uint64()) }

func (d *Decoder) Bool() bool {
	return d.Uint8() != 0
}

func (d *Decoder) Float64() float64 {
	if b := d.next(8); b != nil {
		return Ntohd([8]byte(b))
	}
	return 0
}

// Raw returns the next n bytes without copying
func (d *Decoder) Raw(n int) []byte {
	return d.next(n)
}

// Skip discards n bytes
func (d *Decoder) Skip(n int) {
	d.next(n)
}

// FixedString reads a field of size bytes and returns the text before the first NUL
func (d *Decoder) FixedString(size int) string {
	b := d.next(size)
	if b == nil {
		return ""
	}
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Count reads a uint16 element count and clamps it to max.
// clamped reports whether the declared count was larger than max.
func (d *Decoder) Count(max int) (n int, declared int, clamped bool) {
	declared = int(d.Uint16())
	if declared > max {
		return max, declared, true
	}
	return declared, declared, false
}
