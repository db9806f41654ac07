// Package apicmdgw turns a command frame into a blocking call: it tags the
// command with a transaction id, writes it to the link and parks the caller
// until the matching response is delivered, the timeout fires or the context
// ends. Every transaction resolves exactly once.
package apicmdgw

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/LeoCommon/altcom/pkg/bufpool"
	"github.com/LeoCommon/altcom/pkg/frame"
	"github.com/LeoCommon/altcom/pkg/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	// WaitForever disables the transaction timer
	WaitForever time.Duration = -1

	DefaultTimeout = 5 * time.Second

	// LateGraceFactor multiplies the timeout of an abandoned transaction to
	// get how long its id stays reserved for a late response
	LateGraceFactor = 4
)

// Command is a pool buffer sized for one encoded frame, tagged with its id
type Command struct {
	ID  frame.CommandID
	buf *bufpool.Buffer
	n   int
}

// Payload is the writable payload area inside the frame buffer
func (c *Command) Payload() []byte {
	return c.buf.Bytes()[frame.HeaderSize : frame.HeaderSize+c.n]
}

// SetPayloadLen shrinks the payload to what the encoder actually wrote
func (c *Command) SetPayloadLen(n int) error {
	if n < 0 || frame.Size(n) > c.buf.Len() {
		return fmt.Errorf("%w: payload length %d", ErrInvalidArgument, n)
	}
	c.n = n
	return nil
}

type result struct {
	buf *bufpool.Buffer
	err error
}

type transaction struct {
	id      uint16
	cmd     frame.CommandID
	respCap int
	// exactly one result is ever sent, by whoever removes the entry from pending
	done chan result

	// set under Gateway.mu once the caller gave up, the entry then only
	// reserves the id until the late response or the deadline
	abandoned bool
	reserved  time.Time
}

type Option func(*Gateway)

func WithDefaultTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d != 0 {
			g.defaultTimeout = d
		}
	}
}

// WithTransactionLimit caps the transaction id space, ids wrap back to 1
func WithTransactionLimit(n uint16) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.idLimit = n
		}
	}
}

type Gateway struct {
	w              *frame.Writer
	pool           *bufpool.Pool
	defaultTimeout time.Duration
	idLimit        uint16

	mu      sync.Mutex
	pending map[uint16]*transaction
	lastID  uint16
	closed  bool

	sent      atomic.Uint64
	completed atomic.Uint64
	timedOut  atomic.Uint64
	unmatched atomic.Uint64
}

func New(w io.Writer, pool *bufpool.Pool, opts ...Option) *Gateway {
	g := &Gateway{
		w:              frame.NewWriter(w),
		pool:           pool,
		defaultTimeout: DefaultTimeout,
		idLimit:        math.MaxUint16,
		pending:        make(map[uint16]*transaction),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AllocCommand reserves a frame buffer for a payload of up to size bytes
func (g *Gateway) AllocCommand(id frame.CommandID, size int) (*Command, error) {
	if size < 0 || size > frame.MaxPayload {
		return nil, fmt.Errorf("%w: payload size %d", ErrInvalidArgument, size)
	}

	buf, err := g.pool.Alloc(frame.Size(size))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoMemory, err)
	}
	return &Command{ID: id, buf: buf, n: size}, nil
}

// FreeCommand releases a command buffer, nil is ignored
func (g *Gateway) FreeCommand(c *Command) {
	if c != nil {
		g.pool.Free(c.buf)
		c.buf = nil
	}
}

// FreeResponse releases a response buffer returned by Send
func (g *Gateway) FreeResponse(b *bufpool.Buffer) {
	g.pool.Free(b)
}

// Send transmits the command and waits for its response.
// The returned buffer holds the response payload and belongs to the caller,
// the command buffer stays with the caller as well. Both go back through
// FreeCommand and FreeResponse.
func (g *Gateway) Send(ctx context.Context, c *Command, respCap int, timeout time.Duration) (*bufpool.Buffer, error) {
	if c == nil || c.buf == nil {
		return nil, fmt.Errorf("%w: nil command", ErrInvalidArgument)
	}
	if respCap <= 0 {
		return nil, fmt.Errorf("%w: response capacity %d", ErrInvalidArgument, respCap)
	}
	if timeout == 0 {
		timeout = g.defaultTimeout
	}

	t := &transaction{cmd: c.ID, respCap: respCap, done: make(chan result, 1)}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrClosed
	}
	id, err := g.nextIDLocked()
	if err != nil {
		g.mu.Unlock()
		return nil, err
	}
	t.id = id
	g.pending[id] = t
	g.mu.Unlock()

	raw, err := frame.Encode(c.buf.Bytes(), frame.Header{TransID: id, CommandID: c.ID}, c.Payload())
	if err != nil {
		g.abandon(t)
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	if err := g.w.WriteFrame(raw); err != nil {
		g.abandon(t)
		log.Error("command write failed", zap.Stringer("cmd", c.ID), zap.Uint16("trans", id), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	g.sent.Inc()
	log.Debug("command sent", zap.Stringer("cmd", c.ID), zap.Uint16("trans", id), zap.Int("len", c.n))

	var expired <-chan time.Time
	if timeout != WaitForever {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case r := <-t.done:
		return r.buf, r.err
	case <-expired:
		return g.expire(t, timeout, NewTimedOutError(c.ID, timeout))
	case <-ctx.Done():
		return g.expire(t, timeout, fmt.Errorf("command %s cancelled: %w", c.ID, ctx.Err()))
	}
}

func (g *Gateway) nextIDLocked() (uint16, error) {
	for i := 0; i < int(g.idLimit); i++ {
		g.lastID++
		if g.lastID == 0 || g.lastID > g.idLimit {
			g.lastID = 1
		}
		t, busy := g.pending[g.lastID]
		if !busy {
			return g.lastID, nil
		}
		if t.abandoned && time.Now().After(t.reserved) {
			delete(g.pending, g.lastID)
			return g.lastID, nil
		}
	}
	return 0, ErrTooManyPending
}

func (g *Gateway) abandon(t *transaction) {
	g.mu.Lock()
	if g.pending[t.id] == t {
		delete(g.pending, t.id)
	}
	g.mu.Unlock()
}

// expire abandons the transaction unless the response already claimed it,
// in which case that response is the result. An abandoned id stays reserved
// so its late response cannot reach a newer transaction.
func (g *Gateway) expire(t *transaction, timeout time.Duration, err error) (*bufpool.Buffer, error) {
	g.mu.Lock()
	if g.pending[t.id] == t {
		t.abandoned = true
		t.reserved = time.Now().Add(g.lateGrace(timeout))
		g.mu.Unlock()

		g.timedOut.Inc()
		log.Warn("transaction abandoned", zap.Stringer("cmd", t.cmd), zap.Uint16("trans", t.id), zap.Error(err))
		return nil, err
	}
	g.mu.Unlock()

	r := <-t.done
	return r.buf, r.err
}

func (g *Gateway) lateGrace(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = g.defaultTimeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return LateGraceFactor * timeout
}

// Deliver hands a response frame to its waiting transaction. It returns
// false when nothing waits for it, the caller keeps ownership of the frame
// in that case.
func (g *Gateway) Deliver(f *frame.Frame) bool {
	g.mu.Lock()
	t, ok := g.pending[f.TransID]
	if !ok || t.cmd != f.CommandID {
		g.mu.Unlock()
		g.unmatched.Inc()
		return false
	}
	delete(g.pending, f.TransID)
	g.mu.Unlock()

	if t.abandoned {
		g.unmatched.Inc()
		log.Debug("late response discarded", zap.Stringer("cmd", f.CommandID), zap.Uint16("trans", f.TransID))
		return false
	}

	if n := len(f.Payload()); n > t.respCap {
		f.Release()
		t.done <- result{err: fmt.Errorf("%w: %d byte response exceeds capacity of %d", ErrProtocol, n, t.respCap)}
		return true
	}

	g.completed.Inc()
	t.done <- result{buf: f.Detach()}
	return true
}

// Close fails every pending transaction, later calls to Send return ErrClosed
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	for id, t := range g.pending {
		delete(g.pending, id)
		if !t.abandoned {
			t.done <- result{err: ErrClosed}
		}
	}
}

// Pending counts transactions with a waiting caller
func (g *Gateway) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pendingLocked()
}

func (g *Gateway) pendingLocked() int {
	n := 0
	for _, t := range g.pending {
		if !t.abandoned {
			n++
		}
	}
	return n
}

// Reserved counts ids held back for the late response of an abandoned call
func (g *Gateway) Reserved() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending) - g.pendingLocked()
}

type Stats struct {
	Sent      uint64
	Completed uint64
	TimedOut  uint64
	Unmatched uint64
}

func (g *Gateway) Stats() Stats {
	return Stats{
		Sent:      g.sent.Load(),
		Completed: g.completed.Load(),
		TimedOut:  g.timedOut.Load(),
		Unmatched: g.unmatched.Load(),
	}
}
