// Package http drives the HTTP client of the modem. The modem keeps up to
// MaxProfiles independent profiles, each with its own configuration and
// callbacks; responses arrive as events.
package http

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/LeoCommon/altcom/pkg/altcom"
	"github.com/LeoCommon/altcom/pkg/frame"
	"github.com/LeoCommon/altcom/pkg/log"
	"github.com/LeoCommon/altcom/pkg/wire"
	"go.uber.org/zap"
)

const (
	CmdConfig frame.CommandID = 0x0501
	CmdSend   frame.CommandID = 0x0502
	CmdAbort  frame.CommandID = 0x0503
	ClassURC  frame.CommandID = 0x8501
)

const (
	MaxProfiles = 5
	MaxURL      = 256
	MaxCred     = 64
	MaxHeaders  = 512
	MaxBody     = 1024
)

type Method uint8

const (
	MethodGet Method = iota
	MethodPost
	MethodPut
	MethodDelete
	MethodHead
)

type NodeConfig struct {
	URL      string
	User     string
	Password string
	// TLSProfile is the modem TLS context used for https URLs, zero disables TLS
	TLSProfile uint8
	Timeout    time.Duration
}

func (n NodeConfig) validate() error {
	if n.URL == "" || len(n.URL) >= MaxURL {
		return altcom.NewInvalidParamError("url", "length %d outside 1..%d", len(n.URL), MaxURL-1)
	}
	if !strings.HasPrefix(n.URL, "http://") && !strings.HasPrefix(n.URL, "https://") {
		return altcom.NewInvalidParamError("url", "unsupported scheme in %q", n.URL)
	}
	if len(n.User) >= MaxCred || len(n.Password) >= MaxCred {
		return altcom.NewInvalidParamError("credentials", "longer than %d bytes", MaxCred-1)
	}
	if n.Timeout < 0 || n.Timeout > 0xFFFF*time.Second {
		return altcom.NewInvalidParamError("timeout", "%s", n.Timeout)
	}
	return nil
}

type configRequest struct {
	profile uint8
	node    NodeConfig
}

func (r configRequest) WireSize() int { return 1 + MaxURL + 2*MaxCred + 1 + 2 }

func (r configRequest) MarshalWire(e *wire.Encoder) {
	e.Uint8(r.profile)
	e.FixedString(r.node.URL, MaxURL)
	e.FixedString(r.node.User, MaxCred)
	e.FixedString(r.node.Password, MaxCred)
	e.Uint8(r.node.TLSProfile)
	e.Uint16(uint16(r.node.Timeout / time.Second))
}

type Request struct {
	Method Method
	// Headers are sent verbatim, one "Name: value" per line
	Headers []string
	Body    []byte
}

type sendRequest struct {
	profile uint8
	req     Request
	headers string
}

func (r sendRequest) WireSize() int {
	return 1 + 1 + 2 + len(r.headers) + 2 + len(r.req.Body)
}

func (r sendRequest) MarshalWire(e *wire.Encoder) {
	e.Uint8(r.profile)
	e.Uint8(uint8(r.req.Method))
	e.Uint16(uint16(len(r.headers)))
	e.Raw([]byte(r.headers))
	e.Uint16(uint16(len(r.req.Body)))
	e.Raw(r.req.Body)
}

type profileRequest uint8

func (r profileRequest) WireSize() int { return 1 }

func (r profileRequest) MarshalWire(e *wire.Encoder) { e.Uint8(uint8(r)) }

type HTTP struct {
	c       *altcom.Client
	Timeout time.Duration

	sending [MaxProfiles]altcom.InFlight
}

func New(c *altcom.Client) *HTTP {
	return &HTTP{c: c}
}

func checkProfile(profile int) error {
	if profile < 1 || profile > MaxProfiles {
		return altcom.NewInvalidParamError("profile", "%d outside 1..%d", profile, MaxProfiles)
	}
	return nil
}

func (h *HTTP) call(ctx context.Context, cmd frame.CommandID, req altcom.Request) error {
	if _, err := h.c.Call(ctx, cmd, req, nil, h.Timeout); err != nil {
		log.Debug("http request failed", zap.Stringer("cmd", cmd), zap.Error(err))
		return err
	}
	return nil
}

func (h *HTTP) Config(ctx context.Context, profile int, node NodeConfig) error {
	if !h.c.Ready() {
		return altcom.ErrNotInitialized
	}
	if err := checkProfile(profile); err != nil {
		return err
	}
	if err := node.validate(); err != nil {
		return err
	}
	return h.call(ctx, CmdConfig, configRequest{profile: uint8(profile), node: node})
}

// Send starts a request on the profile. The result arrives through the
// EventStatus, EventBody and EventError callbacks of that profile.
func (h *HTTP) Send(ctx context.Context, profile int, req Request) error {
	if !h.c.Ready() {
		return altcom.ErrNotInitialized
	}
	if err := checkProfile(profile); err != nil {
		return err
	}
	if req.Method > MethodHead {
		return altcom.NewInvalidParamError("method", "%d", req.Method)
	}
	headers := strings.Join(req.Headers, "\r\n")
	if len(headers) > MaxHeaders {
		return altcom.NewInvalidParamError("headers", "%d bytes exceed %d", len(headers), MaxHeaders)
	}
	if len(req.Body) > MaxBody {
		return altcom.NewInvalidParamError("body", "%d bytes exceed %d", len(req.Body), MaxBody)
	}

	guard := &h.sending[profile-1]
	if !guard.TryAcquire() {
		return fmt.Errorf("profile %d: %w", profile, altcom.ErrBusy)
	}
	defer guard.Release()

	return h.call(ctx, CmdSend, sendRequest{profile: uint8(profile), req: req, headers: headers})
}

func (h *HTTP) Abort(ctx context.Context, profile int) error {
	if !h.c.Ready() {
		return altcom.ErrNotInitialized
	}
	if err := checkProfile(profile); err != nil {
		return err
	}
	return h.call(ctx, CmdAbort, profileRequest(profile))
}

// SetCallback installs h for one event type of one profile, nil clears it
func (h *HTTP) SetCallback(event EventType, profile int, handler Handler, priv any) error {
	if err := checkProfile(profile); err != nil {
		return err
	}
	if event < EventStatus || event > EventError {
		return altcom.NewInvalidParamError("event", "%d", event)
	}

	var cb altcom.Handler
	if handler != nil {
		cb = func(ev any, priv any) { handler(ev.(*Event), priv) }
	}
	h.c.Register(ClassURC, slot(event, profile), cb, priv)
	return nil
}
