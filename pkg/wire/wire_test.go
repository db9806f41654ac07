package wire

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegerRoundTrip(t *testing.T) {
	buf := make([]byte, 64)

	u16 := []uint16{0, 1, 0x1234, math.MaxUint16}
	u32 := []uint32{0, 1, 0xdeadbeef, math.MaxUint32}
	u64 := []uint64{0, 1, 0x0102030405060708, math.MaxUint64}
	i16 := []int16{0, -1, math.MinInt16, math.MaxInt16}
	i32 := []int32{0, -1, math.MinInt32, math.MaxInt32}
	i64 := []int64{0, -1, math.MinInt64, math.MaxInt64}

	for i := range u16 {
		e := NewEncoder(buf)
		e.Uint16(u16[i])
		e.Uint32(u32[i])
		e.Uint64(u64[i])
		e.Int16(i16[i])
		e.Int32(i32[i])
		e.Int64(i64[i])
		require.NoError(t, e.Err())

		d := NewDecoder(e.Bytes())
		assert.Equal(t, u16[i], d.Uint16())
		assert.Equal(t, u32[i], d.Uint32())
		assert.Equal(t, u64[i], d.Uint64())
		assert.Equal(t, i16[i], d.Int16())
		assert.Equal(t, i32[i], d.Int32())
		assert.Equal(t, i64[i], d.Int64())
		assert.NoError(t, d.Finish())

		assert.Equal(t, u16[i], Ntohs(Htons(u16[i])))
		assert.Equal(t, u32[i], Ntohl(Htonl(u32[i])))
		assert.Equal(t, u64[i], Ntohll(Htonll(u64[i])))
	}
}

func TestBigEndianLayout(t *testing.T) {
	e := NewEncoder(make([]byte, 14))
	e.Uint16(0x0102)
	e.Uint32(0x03040506)
	e.Uint64(0x0708090a0b0c0d0e)
	require.NoError(t, e.Err())
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}, e.Bytes())
}

func TestDoubleRoundTrip(t *testing.T) {
	values := []float64{0, math.Copysign(0, -1), 12.34, -12.34, math.MaxFloat64, -math.MaxFloat64,
		math.SmallestNonzeroFloat64, math.Inf(1), math.Inf(-1)}

	for _, v := range values {
		assert.Equal(t, math.Float64bits(v), math.Float64bits(Ntohd(Htond(v))))

		e := NewEncoder(make([]byte, 8))
		e.Float64(v)
		d := NewDecoder(e.Bytes())
		assert.Equal(t, math.Float64bits(v), math.Float64bits(d.Float64()))
	}

	assert.True(t, math.IsNaN(Ntohd(Htond(math.NaN()))))

	// sign and exponent come first on the wire
	b := Htond(1.0)
	assert.Equal(t, [8]byte{0x3f, 0xf0, 0, 0, 0, 0, 0, 0}, b)
}

func TestFixedString(t *testing.T) {
	e := NewEncoder(make([]byte, 8))
	e.FixedString("/foo", 8)
	require.NoError(t, e.Err())
	assert.Equal(t, []byte{'/', 'f', 'o', 'o', 0, 0, 0, 0}, e.Bytes())

	d := NewDecoder(e.Bytes())
	assert.Equal(t, "/foo", d.FixedString(8))
	assert.NoError(t, d.Finish())

	e = NewEncoder(make([]byte, 8))
	e.FixedString("12345678", 8)
	assert.ErrorIs(t, e.Err(), ErrString)
}

func TestDecoderShortAndTrailing(t *testing.T) {
	d := NewDecoder([]byte{1, 2, 3})
	assert.Equal(t, uint16(0x0102), d.Uint16())
	assert.Zero(t, d.Uint32())
	assert.ErrorIs(t, d.Err(), ErrShort)
	// sticky
	assert.Zero(t, d.Uint8())
	assert.ErrorIs(t, d.Finish(), ErrShort)

	d = NewDecoder([]byte{1, 2, 3})
	d.Uint16()
	assert.Equal(t, 1, d.Remaining())
	assert.ErrorIs(t, d.Finish(), ErrTrailing)
}

func TestEncoderOverflow(t *testing.T) {
	e := NewEncoder(make([]byte, 3))
	e.Uint16(1)
	e.Uint16(2)
	assert.ErrorIs(t, e.Err(), ErrOverflow)
	assert.Equal(t, 2, e.Len())
}

func TestCountClamps(t *testing.T) {
	d := NewDecoder([]byte{0x00, 0x20, 0x00, 0x02})
	n, declared, clamped := d.Count(8)
	assert.Equal(t, 8, n)
	assert.Equal(t, 32, declared)
	assert.True(t, clamped)

	n, declared, clamped = d.Count(8)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, declared)
	assert.False(t, clamped)
}
