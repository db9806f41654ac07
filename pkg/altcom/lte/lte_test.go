package lte

import (
	"context"
	"testing"
	"time"

	"github.com/LeoCommon/altcom/internal/modemtest"
	"github.com/LeoCommon/altcom/pkg/altcom"
	"github.com/LeoCommon/altcom/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cellFields struct {
	mcc      [3]byte
	mncLen   uint8
	mnc      [3]byte
	declared uint16
	present  int
}

func encodeCell(e *wire.Encoder, s cellFields) {
	e.Bool(true)
	e.Uint32(301)
	e.Uint32(6300)
	e.Raw(s.mcc[:])
	e.Uint8(s.mncLen)
	e.Raw(s.mnc[:])
	e.Uint16(0x1A2B)
	e.Uint32(0x01020304)
	e.Int16(-95)
	e.Int16(-11)
	e.Uint16(s.declared)
	for i := 0; i < s.present; i++ {
		e.Uint32(uint32(100 + i))
		e.Uint32(6300)
		e.Int16(-100)
		e.Int16(-12)
	}
}

var germany = cellFields{mcc: [3]byte{2, 6, 2}, mncLen: 2, mnc: [3]byte{0, 1, 0xF}}

func TestDecodeReport(t *testing.T) {
	s := germany
	s.declared, s.present = 2, 2

	idx, raw, err := decodeCellReport(modemtest.Payload(func(e *wire.Encoder) { encodeCell(e, s) }))
	require.NoError(t, err)
	assert.Zero(t, idx)

	info := raw.(*CellInfo)
	assert.True(t, info.Valid)
	assert.Equal(t, "262", info.MCC)
	assert.Equal(t, "01", info.MNC)
	assert.Equal(t, uint16(0x1A2B), info.TAC)
	assert.Equal(t, int16(-95), info.RSRP)
	require.Len(t, info.Neighbours, 2)
	assert.Equal(t, Neighbour{PhysCellID: 101, EARFCN: 6300, RSRP: -100, RSRQ: -12}, info.Neighbours[1])
}

func TestDecodeReportClampsNeighbours(t *testing.T) {
	s := germany
	s.declared, s.present = MaxNeighbours+8, MaxNeighbours+8

	_, raw, err := decodeCellReport(modemtest.Payload(func(e *wire.Encoder) { encodeCell(e, s) }))
	require.NoError(t, err)

	info := raw.(*CellInfo)
	assert.False(t, info.Valid)
	assert.Len(t, info.Neighbours, MaxNeighbours)
	assert.Equal(t, MaxNeighbours+8, info.Declared)
}

func TestDecodeReportCountBeyondPayload(t *testing.T) {
	s := germany
	s.declared, s.present = 5, 1

	_, _, err := decodeCellReport(modemtest.Payload(func(e *wire.Encoder) { encodeCell(e, s) }))
	assert.ErrorIs(t, err, wire.ErrShort)
}

func TestDecodeReportBadDigits(t *testing.T) {
	tests := map[string]cellFields{
		"mcc digit":  {mcc: [3]byte{2, 0xA, 2}, mncLen: 2, mnc: [3]byte{0, 1, 0}},
		"mnc digit":  {mcc: [3]byte{2, 6, 2}, mncLen: 3, mnc: [3]byte{0, 1, 0xF}},
		"mnc length": {mcc: [3]byte{2, 6, 2}, mncLen: 4, mnc: [3]byte{0, 1, 0}},
	}

	for name, s := range tests {
		t.Run(name, func(t *testing.T) {
			_, raw, err := decodeCellReport(modemtest.Payload(func(e *wire.Encoder) { encodeCell(e, s) }))
			require.NoError(t, err)
			info := raw.(*CellInfo)
			assert.False(t, info.Valid)
			assert.Empty(t, info.MCC)
			assert.Equal(t, uint32(301), info.PhysCellID)
		})
	}
}

func setup(t *testing.T) (*LTE, *altcom.Client, *modemtest.Modem) {
	t.Helper()
	m, link := modemtest.New(t)
	c, err := altcom.New(link, altcom.DefaultConfig())
	require.NoError(t, err)
	c.Start()
	t.Cleanup(func() { _ = c.Close() })

	l := New(c)
	l.Timeout = time.Second
	return l, c, m
}

func TestCellInfoQuery(t *testing.T) {
	l, c, m := setup(t)
	s := germany
	s.declared, s.present = 1, 1
	m.Respond(CmdGetCellInfo, modemtest.Result(0, func(e *wire.Encoder) { encodeCell(e, s) }))

	info, err := l.CellInfo(context.Background())
	require.NoError(t, err)
	assert.True(t, info.Valid)
	assert.Len(t, info.Neighbours, 1)

	// one neighbour declared, none sent
	s.present = 0
	m.Respond(CmdGetCellInfo, modemtest.Result(0, func(e *wire.Encoder) { encodeCell(e, s) }))
	_, err = l.CellInfo(context.Background())
	assert.ErrorIs(t, err, altcom.ErrProtocol)

	assert.Eventually(t, func() bool { return c.Stats().Pool.Outstanding() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCellInfoReport(t *testing.T) {
	l, c, m := setup(t)
	ctx := context.Background()
	m.Respond(CmdSetCellReport, modemtest.Result(0))

	got := make(chan *CellInfo, 1)
	require.NoError(t, l.SetCellInfoReport(ctx, 10*time.Second, func(info *CellInfo, _ any) { got <- info }, nil))

	d := wire.NewDecoder(m.Requests(CmdSetCellReport)[0].Payload)
	assert.True(t, d.Bool())
	assert.Equal(t, uint32(10), d.Uint32())

	s := germany
	require.NoError(t, m.Emit(ClassCellInfo, modemtest.Payload(func(e *wire.Encoder) { encodeCell(e, s) })))
	select {
	case info := <-got:
		assert.Equal(t, "262", info.MCC)
	case <-time.After(2 * time.Second):
		t.Fatal("cell report not delivered")
	}

	require.NoError(t, l.SetCellInfoReport(ctx, 0, nil, nil))
	assert.False(t, c.Registered(ClassCellInfo, 0))

	m.Respond(CmdSetCellReport, modemtest.Result(-1))
	err := l.SetCellInfoReport(ctx, time.Minute, func(*CellInfo, any) {}, nil)
	assert.ErrorIs(t, err, altcom.ErrModem)
	assert.False(t, c.Registered(ClassCellInfo, 0))

	assert.ErrorIs(t, l.SetCellInfoReport(ctx, time.Millisecond, func(*CellInfo, any) {}, nil), altcom.ErrInvalidParam)
}
