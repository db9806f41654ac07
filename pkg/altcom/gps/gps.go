// Package gps controls the GNSS receiver of the modem and delivers its reports
package gps

import (
	"context"
	"time"

	"github.com/LeoCommon/altcom/pkg/altcom"
	"github.com/LeoCommon/altcom/pkg/frame"
	"github.com/LeoCommon/altcom/pkg/log"
	"github.com/LeoCommon/altcom/pkg/wire"
	"go.uber.org/zap"
)

const (
	CmdActivate    frame.CommandID = 0x0301
	CmdInactivate  frame.CommandID = 0x0302
	CmdSetNMEA     frame.CommandID = 0x0303
	CmdSetFix      frame.CommandID = 0x0304
	CmdGetRollover frame.CommandID = 0x0305
	CmdSetRollover frame.CommandID = 0x0306
	CmdBlanking    frame.CommandID = 0x0307
	CmdCEPDownload frame.CommandID = 0x0308
	CmdCEPErase    frame.CommandID = 0x0309
	CmdCEPStatus   frame.CommandID = 0x030A
)

type StartMode uint8

const (
	StartHot StartMode = iota
	StartWarm
	StartCold
)

// NMEAMask selects the sentences reported by the NMEA event
type NMEAMask uint32

const (
	MaskGGA NMEAMask = 1 << iota
	MaskGLL
	MaskGSA
	MaskGSV
	MaskGNS
	MaskRMC
	MaskVTG
	MaskZDA

	MaskAll = MaskGGA | MaskGLL | MaskGSA | MaskGSV | MaskGNS | MaskRMC | MaskVTG | MaskZDA
)

// CEP assistance data can be downloaded for 1 to MaxCEPDays days
const MaxCEPDays = 28

type NMEAHandler func(ev *NMEAEvent, priv any)

type FixHandler func(ev *Fix, priv any)

type GPS struct {
	c *altcom.Client
	// Timeout per request, zero uses the client default
	Timeout time.Duration

	// one pending enable or disable request per report type
	nmeaPending altcom.InFlight
	fixPending  altcom.InFlight
}

func New(c *altcom.Client) *GPS {
	return &GPS{c: c}
}

func (g *GPS) call(ctx context.Context, cmd frame.CommandID, req altcom.Request, resp altcom.Response) error {
	_, err := g.c.Call(ctx, cmd, req, resp, g.Timeout)
	if err != nil {
		log.Debug("gps request failed", zap.Stringer("cmd", cmd), zap.Error(err))
	}
	return err
}

func (g *GPS) Activate(ctx context.Context, mode StartMode) error {
	if !g.c.Ready() {
		return altcom.ErrNotInitialized
	}
	if mode > StartCold {
		return altcom.NewInvalidParamError("mode", "%d", mode)
	}
	return g.call(ctx, CmdActivate, u8Request(mode), nil)
}

func (g *GPS) Inactivate(ctx context.Context) error {
	if !g.c.Ready() {
		return altcom.ErrNotInitialized
	}
	return g.call(ctx, CmdInactivate, nil, nil)
}

// SetNMEAEvent enables the NMEA report for the sentences in mask and installs
// h as its callback, or disables it. A failed enable leaves no callback behind.
func (g *GPS) SetNMEAEvent(ctx context.Context, enable bool, mask NMEAMask, h NMEAHandler, priv any) error {
	if !g.c.Ready() {
		return altcom.ErrNotInitialized
	}
	if enable && (h == nil || mask == 0 || mask&^MaskAll != 0) {
		return altcom.NewInvalidParamError("nmea", "enable needs a handler and a mask within 0x%x, got 0x%x", uint32(MaskAll), uint32(mask))
	}

	var handler altcom.Handler
	if enable {
		handler = func(ev any, priv any) { h(ev.(*NMEAEvent), priv) }
	}
	return g.setEvent(ctx, &g.nmeaPending, EventNMEA, CmdSetNMEA, eventRequest{enable: enable, param: uint32(mask)}, handler, priv)
}

// SetFixEvent reports a position fix every interval
func (g *GPS) SetFixEvent(ctx context.Context, enable bool, interval time.Duration, h FixHandler, priv any) error {
	if !g.c.Ready() {
		return altcom.ErrNotInitialized
	}
	if enable && (h == nil || interval < time.Second) {
		return altcom.NewInvalidParamError("fix", "enable needs a handler and an interval of at least 1s, got %s", interval)
	}

	var handler altcom.Handler
	if enable {
		handler = func(ev any, priv any) { h(ev.(*Fix), priv) }
	}
	return g.setEvent(ctx, &g.fixPending, EventFix, CmdSetFix, eventRequest{enable: enable, param: uint32(interval / time.Second)}, handler, priv)
}

func (g *GPS) setEvent(ctx context.Context, guard *altcom.InFlight, typ EventType, cmd frame.CommandID, req eventRequest, h altcom.Handler, priv any) error {
	if !guard.TryAcquire() {
		return altcom.ErrBusy
	}
	defer guard.Release()

	// Install first so a report sent right after the enable is not missed
	if req.enable {
		g.c.Register(ClassReport, int(typ), h, priv)
	}

	err := g.call(ctx, cmd, req, nil)
	if err != nil && req.enable {
		g.c.Unregister(ClassReport, int(typ))
		return err
	}
	if err == nil && !req.enable {
		g.c.Unregister(ClassReport, int(typ))
	}
	return err
}

func (g *GPS) GetRollover(ctx context.Context) (uint16, error) {
	if !g.c.Ready() {
		return 0, altcom.ErrNotInitialized
	}
	var resp u16Response
	if err := g.call(ctx, CmdGetRollover, nil, &resp); err != nil {
		return 0, err
	}
	return uint16(resp), nil
}

// SetRollover sets the GPS week rollover count used to resolve dates
func (g *GPS) SetRollover(ctx context.Context, rollover uint16) error {
	if !g.c.Ready() {
		return altcom.ErrNotInitialized
	}
	return g.call(ctx, CmdSetRollover, u16Request(rollover), nil)
}

type BlankingOp uint8

const (
	OpGet BlankingOp = iota
	OpSet
)

// BlankingConfig controls receiver blanking while the LTE transmitter is active
type BlankingConfig struct {
	Enable    bool
	GuardTime time.Duration
}

// BlankingRequest is a get or a set, Config is only sent for OpSet
type BlankingRequest struct {
	Op     BlankingOp
	Config BlankingConfig
}

func (r BlankingRequest) WireSize() int { return 1 + 1 + 4 }

func (r BlankingRequest) MarshalWire(e *wire.Encoder) {
	e.Uint8(uint8(r.Op))
	if r.Op == OpSet {
		e.Bool(r.Config.Enable)
		e.Uint32(uint32(r.Config.GuardTime / time.Millisecond))
	} else {
		e.Uint8(0)
		e.Uint32(0)
	}
}

type blankingResponse struct {
	conf BlankingConfig
}

func (r *blankingResponse) MaxWireSize() int { return 1 + 4 }

func (r *blankingResponse) UnmarshalWire(d *wire.Decoder) {
	r.conf.Enable = d.Bool()
	r.conf.GuardTime = time.Duration(d.Uint32()) * time.Millisecond
}

// Blanking runs a tagged get or set. Only OpGet returns a configuration,
// a set response carries no body and yields the zero value.
func (g *GPS) Blanking(ctx context.Context, req BlankingRequest) (BlankingConfig, error) {
	if !g.c.Ready() {
		return BlankingConfig{}, altcom.ErrNotInitialized
	}

	switch req.Op {
	case OpGet:
		var resp blankingResponse
		if err := g.call(ctx, CmdBlanking, req, &resp); err != nil {
			return BlankingConfig{}, err
		}
		return resp.conf, nil
	case OpSet:
		if req.Config.GuardTime < 0 || req.Config.GuardTime/time.Millisecond > 0xFFFFFFFF {
			return BlankingConfig{}, altcom.NewInvalidParamError("guard time", "%s", req.Config.GuardTime)
		}
		return BlankingConfig{}, g.call(ctx, CmdBlanking, req, nil)
	default:
		return BlankingConfig{}, altcom.NewInvalidParamError("op", "%d", req.Op)
	}
}

func (g *GPS) CEPDownload(ctx context.Context, days int) error {
	if !g.c.Ready() {
		return altcom.ErrNotInitialized
	}
	if days < 1 || days > MaxCEPDays {
		return altcom.NewInvalidParamError("days", "%d outside 1..%d", days, MaxCEPDays)
	}
	return g.call(ctx, CmdCEPDownload, u8Request(days), nil)
}

func (g *GPS) CEPErase(ctx context.Context) error {
	if !g.c.Ready() {
		return altcom.ErrNotInitialized
	}
	return g.call(ctx, CmdCEPErase, nil, nil)
}

type CEPStatus struct {
	Valid     bool
	Remaining time.Duration
}

type cepStatusResponse struct {
	status CEPStatus
}

func (r *cepStatusResponse) MaxWireSize() int { return 1 + 4 }

func (r *cepStatusResponse) UnmarshalWire(d *wire.Decoder) {
	r.status.Valid = d.Bool()
	r.status.Remaining = time.Duration(d.Uint32()) * time.Minute
}

func (g *GPS) CEPStatus(ctx context.Context) (CEPStatus, error) {
	if !g.c.Ready() {
		return CEPStatus{}, altcom.ErrNotInitialized
	}
	var resp cepStatusResponse
	if err := g.call(ctx, CmdCEPStatus, nil, &resp); err != nil {
		return CEPStatus{}, err
	}
	return resp.status, nil
}

type eventRequest struct {
	enable bool
	param  uint32
}

func (r eventRequest) WireSize() int { return 1 + 4 }

func (r eventRequest) MarshalWire(e *wire.Encoder) {
	e.Bool(r.enable)
	e.Uint32(r.param)
}

type u8Request uint8

func (r u8Request) WireSize() int { return 1 }

func (r u8Request) MarshalWire(e *wire.Encoder) { e.Uint8(uint8(r)) }

type u16Request uint16

func (r u16Request) WireSize() int { return 2 }

func (r u16Request) MarshalWire(e *wire.Encoder) { e.Uint16(uint16(r)) }

type u16Response uint16

func (r *u16Response) MaxWireSize() int { return 2 }

func (r *u16Response) UnmarshalWire(d *wire.Decoder) { *r = u16Response(d.Uint16()) }
