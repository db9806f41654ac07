// Package modemtest is an in-memory modem speaking the ALTCOM frame format
// over net.Pipe. Tests install per-command handlers and push events.
package modemtest

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/LeoCommon/altcom/pkg/bufpool"
	"github.com/LeoCommon/altcom/pkg/frame"
	"github.com/LeoCommon/altcom/pkg/wire"
)

// ResultUnsupported is returned for commands without a handler
const ResultUnsupported int32 = -95

// Request is a received command with a copy of its payload
type Request struct {
	frame.Header
	Payload []byte
}

// Reply controls the response of one command
type Reply struct {
	// Payload is the complete response payload, result code included
	Payload []byte
	// Drop sends no response at all
	Drop bool
	// Delay postpones the response
	Delay time.Duration
	// TransID overrides the transaction id of the response when non zero
	TransID uint16
}

type HandlerFunc func(req Request) Reply

type Modem struct {
	conn   net.Conn
	pool   *bufpool.Pool
	writer *frame.Writer

	mu       sync.Mutex
	handlers map[frame.CommandID]HandlerFunc
	requests []Request

	wg sync.WaitGroup
}

// New returns the modem and the host side of the link. The modem is
// stopped when the test ends.
func New(t testing.TB) (*Modem, net.Conn) {
	t.Helper()

	pool, err := bufpool.New(bufpool.DefaultClasses())
	if err != nil {
		t.Fatal(err)
	}

	host, dev := net.Pipe()
	m := &Modem{
		conn:     dev,
		pool:     pool,
		writer:   frame.NewWriter(dev),
		handlers: make(map[frame.CommandID]HandlerFunc),
	}

	m.wg.Add(1)
	go m.serve()
	t.Cleanup(m.Close)

	return m, host
}

func (m *Modem) Handle(cmd frame.CommandID, h HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[cmd] = h
}

// Respond installs a handler that always answers with the given payload
func (m *Modem) Respond(cmd frame.CommandID, payload []byte) {
	m.Handle(cmd, func(Request) Reply { return Reply{Payload: payload} })
}

// Requests returns the commands received so far with the given id
func (m *Modem) Requests(cmd frame.CommandID) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Request
	for _, r := range m.requests {
		if r.CommandID == cmd {
			out = append(out, r)
		}
	}
	return out
}

// Emit sends an unsolicited event frame to the host
func (m *Modem) Emit(class frame.CommandID, payload []byte) error {
	return m.send(frame.Header{CommandID: class}, payload)
}

// Send writes an arbitrary frame, used for stray and late responses
func (m *Modem) Send(h frame.Header, payload []byte) error {
	return m.send(h, payload)
}

func (m *Modem) send(h frame.Header, payload []byte) error {
	buf := make([]byte, frame.Size(len(payload)))
	raw, err := frame.Encode(buf, h, payload)
	if err != nil {
		return err
	}
	return m.writer.WriteFrame(raw)
}

// WriteRaw puts bytes on the link unframed
func (m *Modem) WriteRaw(p []byte) error {
	return m.writer.WriteFrame(p)
}

func (m *Modem) Close() {
	_ = m.conn.Close()
	m.wg.Wait()
}

func (m *Modem) serve() {
	defer m.wg.Done()

	r := frame.NewReader(m.conn, m.pool)
	for {
		f, err := r.ReadFrame()
		if err != nil {
			return
		}

		req := Request{Header: f.Header, Payload: append([]byte(nil), f.Payload()...)}
		f.Release()

		m.mu.Lock()
		m.requests = append(m.requests, req)
		h := m.handlers[req.CommandID]
		m.mu.Unlock()

		reply := Reply{Payload: Result(ResultUnsupported)}
		if h != nil {
			reply = h(req)
		}
		if reply.Drop {
			continue
		}
		if reply.Delay > 0 {
			time.Sleep(reply.Delay)
		}

		trans := req.TransID
		if reply.TransID != 0 {
			trans = reply.TransID
		}
		err = m.send(frame.Header{Flags: frame.FlagResponse, TransID: trans, CommandID: req.CommandID}, reply.Payload)
		if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return
		}
	}
}

// Result builds a response payload from the result code and the encoded body
func Result(code int32, body ...func(e *wire.Encoder)) []byte {
	return Payload(func(e *wire.Encoder) {
		e.Int32(code)
		for _, b := range body {
			b(e)
		}
	})
}

// Payload encodes fn into a fresh slice
func Payload(fn func(e *wire.Encoder)) []byte {
	buf := make([]byte, frame.MaxPayload)
	e := wire.NewEncoder(buf)
	fn(e)
	if e.Err() != nil {
		panic(e.Err())
	}
	return e.Bytes()
}
