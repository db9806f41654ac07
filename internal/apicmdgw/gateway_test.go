package apicmdgw

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LeoCommon/altcom/pkg/bufpool"
	"github.com/LeoCommon/altcom/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type sentFrame struct {
	frame.Header
	payload []byte
}

// linkRecorder decodes everything the gateway writes
type linkRecorder struct {
	frames chan sentFrame
	err    error
}

func newLinkRecorder() *linkRecorder {
	return &linkRecorder{frames: make(chan sentFrame, 64)}
}

func (l *linkRecorder) Write(p []byte) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	h, err := frame.UnmarshalHeader(p)
	if err != nil {
		return 0, err
	}
	payload := append([]byte(nil), p[frame.HeaderSize:frame.HeaderSize+int(h.PayloadLen)]...)
	l.frames <- sentFrame{h, payload}
	return len(p), nil
}

func (l *linkRecorder) next(t *testing.T) sentFrame {
	t.Helper()
	select {
	case f := <-l.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame written")
		return sentFrame{}
	}
}

func setup(t *testing.T, opts ...Option) (*Gateway, *linkRecorder, *bufpool.Pool) {
	t.Helper()
	pool, err := bufpool.New(bufpool.DefaultClasses())
	require.NoError(t, err)
	link := newLinkRecorder()
	return New(link, pool, opts...), link, pool
}

func command(t *testing.T, g *Gateway, id frame.CommandID, payload string) *Command {
	t.Helper()
	c, err := g.AllocCommand(id, len(payload))
	require.NoError(t, err)
	copy(c.Payload(), payload)
	return c
}

func response(t *testing.T, pool *bufpool.Pool, trans uint16, id frame.CommandID, payload string) *frame.Frame {
	t.Helper()
	buf, err := pool.Alloc(max(len(payload), 1))
	require.NoError(t, err)
	require.NoError(t, buf.SetLen(len(payload)))
	copy(buf.Bytes(), payload)
	return frame.NewFrame(frame.Header{Flags: frame.FlagResponse, TransID: trans, CommandID: id}, buf, pool)
}

type sendResult struct {
	buf *bufpool.Buffer
	err error
}

func sendAsync(g *Gateway, c *Command, respCap int, timeout time.Duration) chan sendResult {
	ch := make(chan sendResult, 1)
	go func() {
		buf, err := g.Send(context.Background(), c, respCap, timeout)
		ch <- sendResult{buf, err}
	}()
	return ch
}

func TestSendReceivesMatchingResponse(t *testing.T) {
	defer goleak.VerifyNone(t)
	g, link, pool := setup(t)

	c := command(t, g, 0x0101, "ping")
	res := sendAsync(g, c, 16, time.Second)

	sent := link.next(t)
	assert.Equal(t, frame.CommandID(0x0101), sent.CommandID)
	assert.False(t, sent.IsResponse())
	assert.NotZero(t, sent.TransID)
	assert.Equal(t, []byte("ping"), sent.payload)

	assert.True(t, g.Deliver(response(t, pool, sent.TransID, sent.CommandID, "pong")))

	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, []byte("pong"), r.buf.Bytes())

	g.FreeResponse(r.buf)
	g.FreeCommand(c)
	assert.Zero(t, pool.Stats().Outstanding())
	assert.Equal(t, Stats{Sent: 1, Completed: 1}, g.Stats())
	assert.Zero(t, g.Pending())
}

func TestSendShrunkPayload(t *testing.T) {
	g, link, pool := setup(t)

	c, err := g.AllocCommand(0x0102, 32)
	require.NoError(t, err)
	copy(c.Payload(), "abc")
	require.NoError(t, c.SetPayloadLen(3))
	assert.Error(t, c.SetPayloadLen(33))

	res := sendAsync(g, c, 16, time.Second)
	sent := link.next(t)
	assert.Equal(t, []byte("abc"), sent.payload)
	assert.True(t, g.Deliver(response(t, pool, sent.TransID, sent.CommandID, "")))

	r := <-res
	require.NoError(t, r.err)
	assert.Zero(t, r.buf.Len())
	g.FreeResponse(r.buf)
	g.FreeCommand(c)
	assert.Zero(t, pool.Stats().Outstanding())
}

func TestSendTimeoutAndLateResponse(t *testing.T) {
	defer goleak.VerifyNone(t)
	g, link, pool := setup(t)

	c := command(t, g, 0x0201, "x")
	start := time.Now()
	buf, err := g.Send(context.Background(), c, 16, 20*time.Millisecond)
	assert.Nil(t, buf)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Zero(t, g.Pending())
	assert.Equal(t, 1, g.Reserved())

	sent := link.next(t)
	late := response(t, pool, sent.TransID, sent.CommandID, "late")
	assert.False(t, g.Deliver(late))
	late.Release()
	assert.Zero(t, g.Reserved())

	g.FreeCommand(c)
	assert.Zero(t, pool.Stats().Outstanding())
	assert.Equal(t, uint64(1), g.Stats().TimedOut)
	assert.Equal(t, uint64(1), g.Stats().Unmatched)
}

func TestLateResponseDoesNotHitReusedSlot(t *testing.T) {
	defer goleak.VerifyNone(t)
	g, link, pool := setup(t, WithTransactionLimit(1))

	a := command(t, g, 0x0206, "a")
	_, err := g.Send(context.Background(), a, 16, 10*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	sentA := link.next(t)

	// the only id is held back until the late response shows up
	b := command(t, g, 0x0206, "b")
	_, err = g.Send(context.Background(), b, 16, time.Second)
	require.ErrorIs(t, err, ErrTooManyPending)

	late := response(t, pool, sentA.TransID, sentA.CommandID, "for a")
	assert.False(t, g.Deliver(late))
	late.Release()
	assert.Zero(t, g.Reserved())

	res := sendAsync(g, b, 16, time.Second)
	sentB := link.next(t)
	require.Equal(t, sentA.TransID, sentB.TransID)

	assert.True(t, g.Deliver(response(t, pool, sentB.TransID, sentB.CommandID, "for b")))
	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, []byte("for b"), r.buf.Bytes())

	g.FreeResponse(r.buf)
	g.FreeCommand(a)
	g.FreeCommand(b)
	assert.Zero(t, pool.Stats().Outstanding())
	assert.Equal(t, uint64(1), g.Stats().Unmatched)
}

func TestReservedIDReleasedAfterGrace(t *testing.T) {
	g, link, pool := setup(t, WithTransactionLimit(1))

	a := command(t, g, 0x0207, "a")
	_, err := g.Send(context.Background(), a, 16, 5*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	sentA := link.next(t)
	g.FreeCommand(a)

	time.Sleep(LateGraceFactor*5*time.Millisecond + 10*time.Millisecond)

	b := command(t, g, 0x0207, "b")
	defer g.FreeCommand(b)
	res := sendAsync(g, b, 16, time.Second)
	sentB := link.next(t)
	assert.Equal(t, sentA.TransID, sentB.TransID)
	assert.Zero(t, g.Reserved())

	assert.True(t, g.Deliver(response(t, pool, sentB.TransID, sentB.CommandID, "ok")))
	r := <-res
	require.NoError(t, r.err)
	g.FreeResponse(r.buf)
}

func TestCloseDropsReservedIDs(t *testing.T) {
	g, link, _ := setup(t)

	c := command(t, g, 0x0208, "x")
	defer g.FreeCommand(c)
	_, err := g.Send(context.Background(), c, 16, 5*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	link.next(t)
	require.Equal(t, 1, g.Reserved())

	g.Close()
	assert.Zero(t, g.Reserved())
	assert.Zero(t, g.Pending())
}

func TestSendTransportFailure(t *testing.T) {
	g, link, pool := setup(t)
	link.err = errors.New("cable unplugged")

	c := command(t, g, 0x0401, "x")
	start := time.Now()
	buf, err := g.Send(context.Background(), c, 16, WaitForever)
	assert.Nil(t, buf)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "cable unplugged")
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, g.Pending())

	g.FreeCommand(c)
	assert.Zero(t, pool.Stats().Outstanding())
}

func TestOversizedResponseIsProtocolError(t *testing.T) {
	g, link, pool := setup(t)

	c := command(t, g, 0x0501, "x")
	res := sendAsync(g, c, 2, time.Second)
	sent := link.next(t)

	assert.True(t, g.Deliver(response(t, pool, sent.TransID, sent.CommandID, "too long")))
	r := <-res
	assert.Nil(t, r.buf)
	assert.ErrorIs(t, r.err, ErrProtocol)

	g.FreeCommand(c)
	assert.Zero(t, pool.Stats().Outstanding())
}

func TestSendContextCancel(t *testing.T) {
	g, _, pool := setup(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	c := command(t, g, 0x0601, "x")
	_, err := g.Send(ctx, c, 16, WaitForever)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Zero(t, g.Pending())

	g.FreeCommand(c)
	assert.Zero(t, pool.Stats().Outstanding())
}

func TestCloseFailsPending(t *testing.T) {
	defer goleak.VerifyNone(t)
	g, link, _ := setup(t)

	c := command(t, g, 0x0701, "x")
	res := sendAsync(g, c, 16, WaitForever)
	link.next(t)

	g.Close()
	r := <-res
	assert.ErrorIs(t, r.err, ErrClosed)

	_, err := g.Send(context.Background(), c, 16, time.Second)
	assert.ErrorIs(t, err, ErrClosed)
	g.FreeCommand(c)
}

func TestTransactionIDsExhausted(t *testing.T) {
	g, link, pool := setup(t, WithTransactionLimit(1))

	a := command(t, g, 0x0801, "a")
	res := sendAsync(g, a, 16, time.Second)
	sent := link.next(t)

	b := command(t, g, 0x0802, "b")
	_, err := g.Send(context.Background(), b, 16, time.Second)
	assert.ErrorIs(t, err, ErrTooManyPending)

	assert.True(t, g.Deliver(response(t, pool, sent.TransID, sent.CommandID, "ok")))
	r := <-res
	require.NoError(t, r.err)
	g.FreeResponse(r.buf)
	g.FreeCommand(a)
	g.FreeCommand(b)
}

func TestInvalidArguments(t *testing.T) {
	g, _, _ := setup(t)

	_, err := g.AllocCommand(1, frame.MaxPayload+1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = g.Send(context.Background(), nil, 16, time.Second)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	c := command(t, g, 1, "x")
	defer g.FreeCommand(c)
	_, err = g.Send(context.Background(), c, 0, time.Second)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAllocCommandExhausted(t *testing.T) {
	pool, err := bufpool.New([]bufpool.Class{{Size: frame.Size(8), Count: 1}})
	require.NoError(t, err)
	g := New(newLinkRecorder(), pool)

	c, err := g.AllocCommand(1, 8)
	require.NoError(t, err)
	_, err = g.AllocCommand(2, 8)
	assert.ErrorIs(t, err, ErrNoMemory)
	assert.ErrorIs(t, err, bufpool.ErrExhausted)
	g.FreeCommand(c)
}

// Every concurrent caller gets exactly its own response
func TestConcurrentTransactions(t *testing.T) {
	defer goleak.VerifyNone(t)
	g, link, pool := setup(t)

	const callers = 12
	stop := make(chan struct{})
	responder := sync.WaitGroup{}
	responder.Add(1)
	go func() {
		defer responder.Done()
		for {
			select {
			case f := <-link.frames:
				g.Deliver(response(t, pool, f.TransID, f.CommandID, string(f.payload)))
			case <-stop:
				return
			}
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := string(rune('a' + i))
			c, err := g.AllocCommand(frame.CommandID(0x0900+i), 1)
			if err != nil {
				errs <- err
				return
			}
			defer g.FreeCommand(c)
			copy(c.Payload(), payload)

			buf, err := g.Send(context.Background(), c, 16, 2*time.Second)
			if err != nil {
				errs <- err
				return
			}
			defer g.FreeResponse(buf)
			if string(buf.Bytes()) != payload {
				errs <- errors.New("response routed to the wrong caller")
			}
		}(i)
	}
	wg.Wait()
	close(stop)
	responder.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Zero(t, pool.Stats().Outstanding())
	assert.Equal(t, uint64(callers), g.Stats().Completed)
}
