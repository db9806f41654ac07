package sms

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

func setup(t *testing.T) (*SMS, *altcom.Client, *modemtest.Modem) {
	t.Helper()
	m, link := modemtest.New(t)
	c, err := altcom.New(link, altcom.DefaultConfig())
	require.NoError(t, err)
	c.Start()
	t.Cleanup(func() { _ = c.Close() })

	s := New(c)
	s.Timeout = time.Second
	return s, c, m
}

func timestamp(e *wire.Encoder, month uint8) {
	e.Uint16(2024)
	e.Uint8(month)
	e.Uint8(17)
	e.Uint8(9)
	e.Uint8(45)
	e.Uint8(3)
	e.Int8(8)
}

func received(text string, month uint8) []byte {
	return modemtest.Payload(func(e *wire.Encoder) {
		e.Uint8(uint8(EventReceived))
		e.Uint16(4)
		e.FixedString("+4912345", MaxAddress)
		timestamp(e, month)
		e.Uint16(uint16(len(text)))
		e.Raw([]byte(text))
	})
}

func TestInitAndReceive(t *testing.T) {
	s, c, m := setup(t)
	ctx := context.Background()
	m.Respond(CmdInit, modemtest.Result(0))

	msgs := make(chan *Message, 1)
	reports := make(chan *Report, 1)
	require.NoError(t, s.Init(ctx, func(msg *Message, priv any) {
		assert.Equal(t, 7, priv)
		msgs <- msg
	}, func(rep *Report, _ any) { reports <- rep }, 7))
	assert.Equal(t, []byte{1}, m.Requests(CmdInit)[0].Payload)

	require.NoError(t, m.Emit(ClassSMS, received("hello", 6)))
	select {
	case msg := <-msgs:
		assert.True(t, msg.Valid)
		assert.Equal(t, uint16(4), msg.Index)
		assert.Equal(t, "+4912345", msg.Sender)
		assert.Equal(t, "hello", msg.Text)
		assert.Equal(t, time.Date(2024, time.June, 17, 7, 45, 3, 0, time.UTC), msg.Time.UTC())
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	require.NoError(t, m.Emit(ClassSMS, modemtest.Payload(func(e *wire.Encoder) {
		e.Uint8(uint8(EventReport))
		e.Uint16(33)
		e.Uint8(uint8(StatusDelivered))
		timestamp(e, 6)
	})))
	select {
	case rep := <-reports:
		assert.True(t, rep.Valid)
		assert.Equal(t, uint16(33), rep.Ref)
		assert.Equal(t, StatusDelivered, rep.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("report not delivered")
	}

	m.Respond(CmdFin, modemtest.Result(0))
	require.NoError(t, s.Fin(ctx))
	assert.False(t, c.Registered(ClassSMS, int(EventReceived)))
	assert.False(t, c.Registered(ClassSMS, int(EventReport)))
}

func TestInitWithoutReports(t *testing.T) {
	s, c, m := setup(t)
	m.Respond(CmdInit, modemtest.Result(0))

	require.NoError(t, s.Init(context.Background(), func(*Message, any) {}, nil, nil))
	assert.Equal(t, []byte{0}, m.Requests(CmdInit)[0].Payload)
	assert.True(t, c.Registered(ClassSMS, int(EventReceived)))
	assert.False(t, c.Registered(ClassSMS, int(EventReport)))
}

func TestFailedInitClearsCallbacks(t *testing.T) {
	s, c, m := setup(t)
	m.Respond(CmdInit, modemtest.Result(-5))

	err := s.Init(context.Background(), func(*Message, any) {}, func(*Report, any) {}, nil)
	code, ok := altcom.ModemCode(err)
	require.True(t, ok)
	assert.Equal(t, int32(-5), code)
	assert.False(t, c.Registered(ClassSMS, int(EventReceived)))
	assert.False(t, c.Registered(ClassSMS, int(EventReport)))

	assert.ErrorIs(t, s.Init(context.Background(), nil, nil, nil), altcom.ErrInvalidParam)
}

func TestFinClearsOnModemError(t *testing.T) {
	s, c, m := setup(t)
	m.Respond(CmdInit, modemtest.Result(0))
	m.Respond(CmdFin, modemtest.Result(-1))

	require.NoError(t, s.Init(context.Background(), func(*Message, any) {}, nil, nil))
	assert.ErrorIs(t, s.Fin(context.Background()), altcom.ErrModem)
	assert.False(t, c.Registered(ClassSMS, int(EventReceived)))
}

func TestSend(t *testing.T) {
	s, _, m := setup(t)
	ctx := context.Background()
	m.Respond(CmdSend, modemtest.Result(0, func(e *wire.Encoder) { e.Uint16(12) }))

	ref, err := s.Send(ctx, "+491701234", "ping")
	require.NoError(t, err)
	assert.Equal(t, uint16(12), ref)

	d := wire.NewDecoder(m.Requests(CmdSend)[0].Payload)
	assert.Equal(t, "+491701234", d.FixedString(MaxAddress))
	assert.Equal(t, "ping", string(d.Raw(int(d.Uint16()))))
	assert.NoError(t, d.Finish())
}

func TestSendInvalid(t *testing.T) {
	s, _, m := setup(t)
	ctx := context.Background()

	for name, tt := range map[string]struct {
		dest, text string
	}{
		"empty dest": {"", "x"},
		"letters":    {"+49abc", "x"},
		"inner plus": {"49+1", "x"},
		"long dest":  {"123456789012345678901234", "x"},
		"empty text": {"123", ""},
		"long text":  {"123", string(make([]byte, MaxText+1))},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Send(ctx, tt.dest, tt.text)
			assert.ErrorIs(t, err, altcom.ErrInvalidParam)
		})
	}
	assert.Empty(t, m.Requests(CmdSend))
}

func TestDelete(t *testing.T) {
	s, _, m := setup(t)
	m.Respond(CmdDelete, modemtest.Result(0))

	require.NoError(t, s.Delete(context.Background(), 0x0102))
	assert.Equal(t, []byte{1, 2}, m.Requests(CmdDelete)[0].Payload)
}

func TestDecodeEvent(t *testing.T) {
	t.Run("bad timestamp", func(t *testing.T) {
		idx, ev, err := decodeEvent(received("x", 13))
		require.NoError(t, err)
		assert.Equal(t, int(EventReceived), idx)
		assert.False(t, ev.(*Message).Valid)
	})

	t.Run("text above maximum", func(t *testing.T) {
		_, ev, err := decodeEvent(received(string(make([]byte, MaxText+5)), 1))
		require.NoError(t, err)
		msg := ev.(*Message)
		assert.False(t, msg.Valid)
		assert.Len(t, msg.Text, MaxText)
	})

	t.Run("text beyond payload", func(t *testing.T) {
		p := received("hello", 1)
		_, _, err := decodeEvent(p[:len(p)-2])
		assert.ErrorIs(t, err, wire.ErrShort)
	})

	t.Run("unknown status", func(t *testing.T) {
		_, ev, err := decodeEvent(modemtest.Payload(func(e *wire.Encoder) {
			e.Uint8(uint8(EventReport))
			e.Uint16(1)
			e.Uint8(9)
			timestamp(e, 1)
		}))
		require.NoError(t, err)
		assert.False(t, ev.(*Report).Valid)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, _, err := decodeEvent([]byte{3})
		assert.Error(t, err)
	})
}
