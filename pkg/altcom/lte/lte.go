// Package lte reads serving and neighbour cell information from the modem
package lte

import (
	"context"
	"strings"
	"time"

	"github.com/LeoCommon/altcom/pkg/altcom"
	"github.com/LeoCommon/altcom/pkg/frame"
	"github.com/LeoCommon/altcom/pkg/wire"
)

const (
	CmdGetCellInfo    frame.CommandID = 0x0401
	CmdSetCellReport  frame.CommandID = 0x0402
	ClassCellInfo     frame.CommandID = 0x8401
	MaxNeighbours                     = 32
	neighbourWireSize                 = 4 + 4 + 2 + 2
	cellWireSize                      = 1 + 4 + 4 + 3 + 1 + 3 + 2 + 4 + 2 + 2 + 2
)

type Neighbour struct {
	PhysCellID uint32
	EARFCN     uint32
	RSRP       int16
	RSRQ       int16
}

// CellInfo describes the serving cell. Valid is false when the modem has no
// cell or when MCC/MNC digits are out of range; the numeric fields are kept.
type CellInfo struct {
	Valid      bool
	PhysCellID uint32
	EARFCN     uint32
	MCC        string
	MNC        string
	TAC        uint16
	CellID     uint32
	RSRP       int16
	RSRQ       int16
	Neighbours []Neighbour
	// Declared is the neighbour count sent by the modem
	Declared int
}

// digits renders BCD digits, ok is false if any of them is not 0-9
func digits(b []byte) (string, bool) {
	var sb strings.Builder
	for _, c := range b {
		if c > 9 {
			return "", false
		}
		sb.WriteByte('0' + c)
	}
	return sb.String(), true
}

func decodeCellInfo(d *wire.Decoder) (info CellInfo, clamped bool) {
	info.Valid = d.Bool()
	info.PhysCellID = d.Uint32()
	info.EARFCN = d.Uint32()

	mcc, mccOK := digits(d.Raw(3))
	mncLen := int(d.Uint8())
	mncRaw := d.Raw(3)
	mncOK := false
	if (mncLen == 2 || mncLen == 3) && mncRaw != nil {
		info.MNC, mncOK = digits(mncRaw[:mncLen])
	}
	info.MCC = mcc
	if !mccOK || !mncOK {
		info.MCC, info.MNC = "", ""
		info.Valid = false
	}

	info.TAC = d.Uint16()
	info.CellID = d.Uint32()
	info.RSRP = d.Int16()
	info.RSRQ = d.Int16()

	n, declared, clamped := d.Count(MaxNeighbours)
	info.Declared = declared
	info.Neighbours = make([]Neighbour, 0, n)
	for i := 0; i < n; i++ {
		info.Neighbours = append(info.Neighbours, Neighbour{
			PhysCellID: d.Uint32(),
			EARFCN:     d.Uint32(),
			RSRP:       d.Int16(),
			RSRQ:       d.Int16(),
		})
	}
	return info, clamped
}

func init() {
	altcom.RegisterEventDecoder(ClassCellInfo, decodeCellReport)
}

// decodeCellReport skips neighbours beyond MaxNeighbours and marks the report invalid
func decodeCellReport(payload []byte) (int, any, error) {
	d := wire.NewDecoder(payload)
	info, clamped := decodeCellInfo(d)
	if clamped {
		d.Skip((info.Declared - MaxNeighbours) * neighbourWireSize)
		info.Valid = false
	}
	if err := d.Finish(); err != nil {
		return 0, nil, err
	}
	return 0, &info, nil
}

type cellInfoResponse struct {
	info    CellInfo
	clamped bool
}

func (r *cellInfoResponse) MaxWireSize() int {
	return cellWireSize + MaxNeighbours*neighbourWireSize
}

func (r *cellInfoResponse) UnmarshalWire(d *wire.Decoder) {
	r.info, r.clamped = decodeCellInfo(d)
}

type Handler func(info *CellInfo, priv any)

type LTE struct {
	c       *altcom.Client
	Timeout time.Duration

	reportPending altcom.InFlight
}

func New(c *altcom.Client) *LTE {
	return &LTE{c: c}
}

// CellInfo queries the serving cell
func (l *LTE) CellInfo(ctx context.Context) (CellInfo, error) {
	if !l.c.Ready() {
		return CellInfo{}, altcom.ErrNotInitialized
	}

	var resp cellInfoResponse
	if _, err := l.c.Call(ctx, CmdGetCellInfo, nil, &resp, l.Timeout); err != nil {
		return CellInfo{}, err
	}
	if resp.clamped {
		return CellInfo{}, altcom.ErrProtocol
	}
	return resp.info, nil
}

type reportRequest struct {
	enable bool
	period uint32
}

func (r reportRequest) WireSize() int { return 1 + 4 }

func (r reportRequest) MarshalWire(e *wire.Encoder) {
	e.Bool(r.enable)
	e.Uint32(r.period)
}

// SetCellInfoReport makes the modem report the cell every period, a zero
// period disables the report and clears the callback.
func (l *LTE) SetCellInfoReport(ctx context.Context, period time.Duration, h Handler, priv any) error {
	if !l.c.Ready() {
		return altcom.ErrNotInitialized
	}
	enable := period > 0
	if enable && (h == nil || period < time.Second) {
		return altcom.NewInvalidParamError("period", "enable needs a handler and a period of at least 1s, got %s", period)
	}
	if !l.reportPending.TryAcquire() {
		return altcom.ErrBusy
	}
	defer l.reportPending.Release()

	if enable {
		l.c.Register(ClassCellInfo, 0, func(ev any, priv any) { h(ev.(*CellInfo), priv) }, priv)
	}

	_, err := l.c.Call(ctx, CmdSetCellReport, reportRequest{enable: enable, period: uint32(period / time.Second)}, nil, l.Timeout)
	if (err != nil && enable) || (err == nil && !enable) {
		l.c.Unregister(ClassCellInfo, 0)
	}
	return err
}
