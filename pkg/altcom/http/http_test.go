package http

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

func setup(t *testing.T) (*HTTP, *altcom.Client, *modemtest.Modem) {
	t.Helper()
	m, link := modemtest.New(t)
	c, err := altcom.New(link, altcom.DefaultConfig())
	require.NoError(t, err)
	c.Start()
	t.Cleanup(func() { _ = c.Close() })

	h := New(c)
	h.Timeout = time.Second
	return h, c, m
}

func TestConfig(t *testing.T) {
	h, _, m := setup(t)
	ctx := context.Background()
	m.Respond(CmdConfig, modemtest.Result(0))

	node := NodeConfig{URL: "https://example.org/upload", User: "leo", Password: "secret", TLSProfile: 2, Timeout: 30 * time.Second}
	require.NoError(t, h.Config(ctx, 3, node))

	d := wire.NewDecoder(m.Requests(CmdConfig)[0].Payload)
	assert.Equal(t, uint8(3), d.Uint8())
	assert.Equal(t, node.URL, d.FixedString(MaxURL))
	assert.Equal(t, "leo", d.FixedString(MaxCred))
	assert.Equal(t, "secret", d.FixedString(MaxCred))
	assert.Equal(t, uint8(2), d.Uint8())
	assert.Equal(t, uint16(30), d.Uint16())
	assert.NoError(t, d.Finish())
}

func TestConfigInvalid(t *testing.T) {
	h, _, m := setup(t)
	ctx := context.Background()

	for name, tt := range map[string]struct {
		profile int
		node    NodeConfig
	}{
		"profile zero": {0, NodeConfig{URL: "http://a"}},
		"profile six":  {6, NodeConfig{URL: "http://a"}},
		"no url":       {1, NodeConfig{}},
		"scheme":       {1, NodeConfig{URL: "ftp://a"}},
		"long user":    {1, NodeConfig{URL: "http://a", User: string(make([]byte, MaxCred))}},
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, h.Config(ctx, tt.profile, tt.node), altcom.ErrInvalidParam)
		})
	}
	assert.Empty(t, m.Requests(CmdConfig))
}

func TestSendAndEvents(t *testing.T) {
	h, c, m := setup(t)
	ctx := context.Background()
	m.Respond(CmdSend, modemtest.Result(0))

	status := make(chan *Event, 1)
	body := make(chan *Event, 1)
	require.NoError(t, h.SetCallback(EventStatus, 2, func(ev *Event, _ any) { status <- ev }, nil))
	require.NoError(t, h.SetCallback(EventBody, 2, func(ev *Event, _ any) { body <- ev }, nil))
	require.NoError(t, h.SetCallback(EventStatus, 4, func(*Event, any) { t.Error("wrong profile") }, nil))

	require.NoError(t, h.Send(ctx, 2, Request{
		Method:  MethodPost,
		Headers: []string{"Content-Type: text/plain", "X-Id: 7"},
		Body:    []byte("hi"),
	}))

	d := wire.NewDecoder(m.Requests(CmdSend)[0].Payload)
	assert.Equal(t, uint8(2), d.Uint8())
	assert.Equal(t, uint8(MethodPost), d.Uint8())
	assert.Equal(t, "Content-Type: text/plain\r\nX-Id: 7", string(d.Raw(int(d.Uint16()))))
	assert.Equal(t, "hi", string(d.Raw(int(d.Uint16()))))
	assert.NoError(t, d.Finish())

	require.NoError(t, m.Emit(ClassURC, modemtest.Payload(func(e *wire.Encoder) {
		e.Uint8(uint8(EventStatus))
		e.Uint8(2)
		e.Uint16(201)
		e.Int64(5)
	})))
	require.NoError(t, m.Emit(ClassURC, modemtest.Payload(func(e *wire.Encoder) {
		e.Uint8(uint8(EventBody))
		e.Uint8(2)
		e.Uint16(5)
		e.Raw([]byte("hello"))
		e.Bool(true)
	})))

	select {
	case ev := <-status:
		assert.Equal(t, &Event{Type: EventStatus, Profile: 2, StatusCode: 201, ContentLength: 5, Valid: true}, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("status not delivered")
	}
	select {
	case ev := <-body:
		assert.Equal(t, "hello", string(ev.Body))
		assert.True(t, ev.Last)
		assert.True(t, ev.Valid)
	case <-time.After(2 * time.Second):
		t.Fatal("body not delivered")
	}

	require.NoError(t, h.SetCallback(EventStatus, 2, nil, nil))
	assert.False(t, c.Registered(ClassURC, slot(EventStatus, 2)))
	assert.True(t, c.Registered(ClassURC, slot(EventBody, 2)))
}

func TestSendIsSerialisedPerProfile(t *testing.T) {
	h, _, m := setup(t)
	ctx := context.Background()

	release := make(chan struct{})
	m.Handle(CmdSend, func(req modemtest.Request) modemtest.Reply {
		if req.Payload[0] == 1 {
			<-release
		}
		return modemtest.Reply{Payload: modemtest.Result(0)}
	})

	first := make(chan error, 1)
	go func() { first <- h.Send(ctx, 1, Request{}) }()
	assert.Eventually(t, h.sending[0].Busy, time.Second, time.Millisecond)

	assert.ErrorIs(t, h.Send(ctx, 1, Request{}), altcom.ErrBusy)
	close(release)
	require.NoError(t, <-first)
	require.NoError(t, h.Send(ctx, 1, Request{}))
}

func TestSendInvalid(t *testing.T) {
	h, _, _ := setup(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.Send(ctx, 1, Request{Method: Method(9)}), altcom.ErrInvalidParam)
	assert.ErrorIs(t, h.Send(ctx, 1, Request{Body: make([]byte, MaxBody+1)}), altcom.ErrInvalidParam)
	assert.ErrorIs(t, h.Send(ctx, 1, Request{Headers: []string{string(make([]byte, MaxHeaders+1))}}), altcom.ErrInvalidParam)
	assert.ErrorIs(t, h.Abort(ctx, 0), altcom.ErrInvalidParam)
	assert.ErrorIs(t, h.SetCallback(EventType(9), 1, nil, nil), altcom.ErrInvalidParam)
}

func TestAbort(t *testing.T) {
	h, _, m := setup(t)
	m.Respond(CmdAbort, modemtest.Result(0))

	require.NoError(t, h.Abort(context.Background(), 5))
	assert.Equal(t, []byte{5}, m.Requests(CmdAbort)[0].Payload)
}

func TestDecodeURC(t *testing.T) {
	t.Run("body above maximum", func(t *testing.T) {
		idx, raw, err := decodeURC(modemtest.Payload(func(e *wire.Encoder) {
			e.Uint8(uint8(EventBody))
			e.Uint8(1)
			e.Uint16(MaxBody + 10)
			e.Raw(make([]byte, MaxBody+10))
			e.Bool(false)
		}))
		require.NoError(t, err)
		assert.Equal(t, slot(EventBody, 1), idx)
		ev := raw.(*Event)
		assert.False(t, ev.Valid)
		assert.Len(t, ev.Body, MaxBody)
	})

	t.Run("bad status", func(t *testing.T) {
		_, raw, err := decodeURC(modemtest.Payload(func(e *wire.Encoder) {
			e.Uint8(uint8(EventStatus))
			e.Uint8(1)
			e.Uint16(42)
			e.Int64(0)
		}))
		require.NoError(t, err)
		assert.False(t, raw.(*Event).Valid)
	})

	t.Run("error", func(t *testing.T) {
		idx, raw, err := decodeURC(modemtest.Payload(func(e *wire.Encoder) {
			e.Uint8(uint8(EventError))
			e.Uint8(5)
			e.Int32(-110)
		}))
		require.NoError(t, err)
		assert.Equal(t, slot(EventError, 5), idx)
		assert.Equal(t, int32(-110), raw.(*Event).ErrCode)
	})

	t.Run("profile out of range", func(t *testing.T) {
		_, _, err := decodeURC(modemtest.Payload(func(e *wire.Encoder) {
			e.Uint8(uint8(EventError))
			e.Uint8(6)
			e.Int32(-1)
		}))
		assert.Error(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, _, err := decodeURC([]byte{7, 1})
		assert.Error(t, err)
	})
}
