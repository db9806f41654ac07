// Package sms sends and receives short messages through the modem
package sms

import (
	"context"
	"fmt"
	"time"

	"github.com/LeoCommon/altcom/pkg/altcom"
	"github.com/LeoCommon/altcom/pkg/frame"
	"github.com/LeoCommon/altcom/pkg/wire"
)

const (
	CmdInit   frame.CommandID = 0x0601
	CmdFin    frame.CommandID = 0x0602
	CmdSend   frame.CommandID = 0x0603
	CmdDelete frame.CommandID = 0x0604
	ClassSMS  frame.CommandID = 0x8601
)

const (
	// MaxAddress includes the terminating NUL
	MaxAddress = 24
	MaxText    = 160
)

type ReceivedHandler func(msg *Message, priv any)

type ReportHandler func(rep *Report, priv any)

type SMS struct {
	c       *altcom.Client
	Timeout time.Duration

	initPending altcom.InFlight
}

func New(c *altcom.Client) *SMS {
	return &SMS{c: c}
}

type initRequest struct {
	reports bool
}

func (r initRequest) WireSize() int { return 1 }

func (r initRequest) MarshalWire(e *wire.Encoder) { e.Bool(r.reports) }

// Init enables message reception and installs the callbacks. The delivery
// report callback is optional. A failed Init leaves no callback behind.
func (s *SMS) Init(ctx context.Context, recv ReceivedHandler, report ReportHandler, priv any) error {
	if !s.c.Ready() {
		return altcom.ErrNotInitialized
	}
	if recv == nil {
		return altcom.NewInvalidParamError("recv", "a receive handler is required")
	}
	if !s.initPending.TryAcquire() {
		return altcom.ErrBusy
	}
	defer s.initPending.Release()

	s.c.Register(ClassSMS, int(EventReceived), func(ev any, priv any) { recv(ev.(*Message), priv) }, priv)
	if report != nil {
		s.c.Register(ClassSMS, int(EventReport), func(ev any, priv any) { report(ev.(*Report), priv) }, priv)
	} else {
		s.c.Unregister(ClassSMS, int(EventReport))
	}

	if _, err := s.c.Call(ctx, CmdInit, initRequest{reports: report != nil}, nil, s.Timeout); err != nil {
		s.clear()
		return err
	}
	return nil
}

// Fin stops reception, the callbacks are cleared even when the modem fails
func (s *SMS) Fin(ctx context.Context) error {
	if !s.c.Ready() {
		return altcom.ErrNotInitialized
	}
	defer s.clear()

	_, err := s.c.Call(ctx, CmdFin, nil, nil, s.Timeout)
	return err
}

func (s *SMS) clear() {
	s.c.Unregister(ClassSMS, int(EventReceived))
	s.c.Unregister(ClassSMS, int(EventReport))
}

type sendRequest struct {
	dest string
	text string
}

func (r sendRequest) WireSize() int { return MaxAddress + 2 + len(r.text) }

func (r sendRequest) MarshalWire(e *wire.Encoder) {
	e.FixedString(r.dest, MaxAddress)
	e.Uint16(uint16(len(r.text)))
	e.Raw([]byte(r.text))
}

type refResponse struct {
	ref uint16
}

func (r *refResponse) MaxWireSize() int { return 2 }

func (r *refResponse) UnmarshalWire(d *wire.Decoder) { r.ref = d.Uint16() }

func validAddress(addr string) bool {
	if addr == "" || len(addr) >= MaxAddress {
		return false
	}
	for i, c := range addr {
		if c == '+' && i == 0 {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Send returns the message reference that delivery reports refer to
func (s *SMS) Send(ctx context.Context, dest string, text string) (uint16, error) {
	if !s.c.Ready() {
		return 0, altcom.ErrNotInitialized
	}
	if !validAddress(dest) {
		return 0, altcom.NewInvalidParamError("dest", "%q is not a phone number", dest)
	}
	if text == "" || len(text) > MaxText {
		return 0, altcom.NewInvalidParamError("text", "length %d outside 1..%d", len(text), MaxText)
	}

	var resp refResponse
	if _, err := s.c.Call(ctx, CmdSend, sendRequest{dest: dest, text: text}, &resp, s.Timeout); err != nil {
		return 0, fmt.Errorf("send to %s: %w", dest, err)
	}
	return resp.ref, nil
}

type indexRequest uint16

func (r indexRequest) WireSize() int { return 2 }

func (r indexRequest) MarshalWire(e *wire.Encoder) { e.Uint16(uint16(r)) }

// Delete removes a stored message by its storage index
func (s *SMS) Delete(ctx context.Context, index uint16) error {
	if !s.c.Ready() {
		return altcom.ErrNotInitialized
	}
	_, err := s.c.Call(ctx, CmdDelete, indexRequest(index), nil, s.Timeout)
	return err
}
