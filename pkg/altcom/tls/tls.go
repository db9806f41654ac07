// Package tls configures the TLS contexts the modem uses for secure sockets
// and https profiles. Certificates are referenced by the name they were
// stored under on the modem filesystem.
package tls

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/LeoCommon/altcom/pkg/altcom"
	"github.com/LeoCommon/altcom/pkg/frame"
	"github.com/LeoCommon/altcom/pkg/wire"
)

const (
	CmdSetAuthMode frame.CommandID = 0x0701
	CmdSetCACert   frame.CommandID = 0x0702
	CmdSetHostname frame.CommandID = 0x0703
	CmdSetALPN     frame.CommandID = 0x0704
)

const (
	MaxCertName = 64
	MaxHostname = 256
	// MaxALPN bounds the comma separated protocol list
	MaxALPN = 128
)

type AuthMode uint8

const (
	AuthNone AuthMode = iota
	AuthOptional
	AuthRequired
)

func (m AuthMode) String() string {
	switch m {
	case AuthNone:
		return "none"
	case AuthOptional:
		return "optional"
	case AuthRequired:
		return "required"
	}
	return fmt.Sprintf("AuthMode(%d)", uint8(m))
}

type TLS struct {
	c       *altcom.Client
	Timeout time.Duration
}

func New(c *altcom.Client) *TLS {
	return &TLS{c: c}
}

type stringRequest struct {
	ctxID uint32
	value string
	size  int
}

func (r stringRequest) WireSize() int { return 4 + r.size }

func (r stringRequest) MarshalWire(e *wire.Encoder) {
	e.Uint32(r.ctxID)
	e.FixedString(r.value, r.size)
}

type modeRequest struct {
	ctxID uint32
	mode  AuthMode
}

func (r modeRequest) WireSize() int { return 5 }

func (r modeRequest) MarshalWire(e *wire.Encoder) {
	e.Uint32(r.ctxID)
	e.Uint8(uint8(r.mode))
}

func (t *TLS) call(ctx context.Context, cmd frame.CommandID, req altcom.Request) error {
	if !t.c.Ready() {
		return altcom.ErrNotInitialized
	}
	_, err := t.c.Call(ctx, cmd, req, nil, t.Timeout)
	return err
}

func (t *TLS) SetAuthMode(ctx context.Context, ctxID uint32, mode AuthMode) error {
	if mode > AuthRequired {
		return altcom.NewInvalidParamError("mode", "%s", mode)
	}
	return t.call(ctx, CmdSetAuthMode, modeRequest{ctxID: ctxID, mode: mode})
}

// SetCACert selects the trust anchor, an empty name removes it
func (t *TLS) SetCACert(ctx context.Context, ctxID uint32, name string) error {
	if len(name) >= MaxCertName {
		return altcom.NewInvalidParamError("name", "longer than %d bytes", MaxCertName-1)
	}
	return t.call(ctx, CmdSetCACert, stringRequest{ctxID: ctxID, value: name, size: MaxCertName})
}

// SetHostname sets the name checked against the server certificate and sent as SNI
func (t *TLS) SetHostname(ctx context.Context, ctxID uint32, host string) error {
	if host == "" || len(host) >= MaxHostname {
		return altcom.NewInvalidParamError("host", "length %d outside 1..%d", len(host), MaxHostname-1)
	}
	if strings.ContainsAny(host, " /:") {
		return altcom.NewInvalidParamError("host", "%q is not a hostname", host)
	}
	return t.call(ctx, CmdSetHostname, stringRequest{ctxID: ctxID, value: host, size: MaxHostname})
}

func (t *TLS) SetALPN(ctx context.Context, ctxID uint32, protos []string) error {
	for _, p := range protos {
		if p == "" || strings.Contains(p, ",") {
			return altcom.NewInvalidParamError("alpn", "invalid protocol %q", p)
		}
	}
	list := strings.Join(protos, ",")
	if len(list) >= MaxALPN {
		return altcom.NewInvalidParamError("alpn", "list longer than %d bytes", MaxALPN-1)
	}
	return t.call(ctx, CmdSetALPN, stringRequest{ctxID: ctxID, value: list, size: MaxALPN})
}
