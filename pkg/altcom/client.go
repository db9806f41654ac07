// Package altcom connects host code to the modem resident ALTCOM services.
// A Client owns the link: commands go out through the command gateway, a
// single receive goroutine reads every inbound frame and hands responses
// back to their caller and events to a worker pool.
package altcom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/LeoCommon/altcom/internal/apicmdgw"
	"github.com/LeoCommon/altcom/internal/evtdisp"
	"github.com/LeoCommon/altcom/internal/worker"
	"github.com/LeoCommon/altcom/pkg/bufpool"
	"github.com/LeoCommon/altcom/pkg/frame"
	"github.com/LeoCommon/altcom/pkg/log"
	"github.com/LeoCommon/altcom/pkg/transport"
	"github.com/LeoCommon/altcom/pkg/wire"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Every response payload starts with the signed result code
const resultSize = 4

type Config struct {
	Pool             []bufpool.Class
	Workers          int
	QueueSize        int
	DefaultTimeout   time.Duration
	TransactionLimit uint16
}

func DefaultConfig() Config {
	return Config{
		Pool:           bufpool.DefaultClasses(),
		Workers:        worker.DefaultWorkers,
		QueueSize:      worker.DefaultQueueSize,
		DefaultTimeout: apicmdgw.DefaultTimeout,
	}
}

// Request is a command payload that knows its encoded size
type Request interface {
	WireSize() int
	MarshalWire(e *wire.Encoder)
}

// Response decodes the payload following the result code. MaxWireSize bounds
// what the modem may send, UnmarshalWire must consume the payload exactly.
type Response interface {
	MaxWireSize() int
	UnmarshalWire(d *wire.Decoder)
}

type Client struct {
	link   transport.Transport
	pool   *bufpool.Pool
	gw     *apicmdgw.Gateway
	jobs   *worker.Pool
	disp   *evtdisp.Dispatcher
	reader *frame.Reader

	// lifecycle orders Start against Close
	lifecycle sync.Mutex
	started   atomic.Bool
	closed    atomic.Bool

	done    chan struct{}
	errLock sync.Mutex
	recvErr error
}

func New(link transport.Transport, conf Config) (*Client, error) {
	if link == nil {
		return nil, NewInvalidParamError("link", "nil transport")
	}
	if len(conf.Pool) == 0 {
		conf.Pool = bufpool.DefaultClasses()
	}

	pool, err := bufpool.New(conf.Pool)
	if err != nil {
		return nil, err
	}
	if pool.MaxSize() < frame.Size(frame.MaxPayload) {
		return nil, fmt.Errorf("%w: largest class %d cannot hold a %d byte frame",
			bufpool.ErrInvalidClass, pool.MaxSize(), frame.Size(frame.MaxPayload))
	}

	gw := apicmdgw.New(link, pool,
		apicmdgw.WithDefaultTimeout(conf.DefaultTimeout),
		apicmdgw.WithTransactionLimit(conf.TransactionLimit))
	jobs := worker.NewPool(conf.Workers, conf.QueueSize)

	return &Client{
		link:   link,
		pool:   pool,
		gw:     gw,
		jobs:   jobs,
		disp:   evtdisp.New(gw, jobs, decoderTable()),
		reader: frame.NewReader(link, pool),
		done:   make(chan struct{}),
	}, nil
}

// Dial opens the link and starts a client on it
func Dial(ctx context.Context, d transport.Dialer, conf Config) (*Client, error) {
	link, err := d.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	c, err := New(link, conf)
	if err != nil {
		return nil, multierr.Append(err, link.Close())
	}
	c.Start()
	return c, nil
}

// Start launches the workers and the receive loop, it is safe to call twice
func (c *Client) Start() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.closed.Load() || !c.started.CompareAndSwap(false, true) {
		return
	}

	c.jobs.Start()
	go c.receive()
}

// Ready reports whether commands can be issued
func (c *Client) Ready() bool {
	return c != nil && c.started.Load() && !c.closed.Load()
}

func (c *Client) receive() {
	defer close(c.done)

	for {
		f, err := c.reader.ReadFrame()
		if err != nil {
			if !c.closed.Load() {
				log.Error("link receive failed, failing pending commands", zap.Error(err))
				c.errLock.Lock()
				c.recvErr = err
				c.errLock.Unlock()
			}
			// Nothing can answer pending callers anymore
			c.gw.Close()
			return
		}

		outcome := c.disp.Classify(f)
		log.Debug("inbound frame", zap.Stringer("cmd", f.CommandID), zap.Uint16("trans", f.TransID), zap.Stringer("outcome", outcome))
	}
}

// Done is closed once the receive loop has stopped, or by Close on a
// client that was never started
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err is the receive error that stopped the client, nil after a regular Close
func (c *Client) Err() error {
	c.errLock.Lock()
	defer c.errLock.Unlock()
	return c.recvErr
}

// Close fails pending commands, closes the link and stops the workers
// after their current callback. Events still queued are released unseen.
func (c *Client) Close() error {
	c.lifecycle.Lock()
	if !c.closed.CompareAndSwap(false, true) {
		c.lifecycle.Unlock()
		return nil
	}
	started := c.started.Load()
	c.lifecycle.Unlock()

	c.gw.Close()
	err := c.link.Close()
	if errors.Is(err, io.ErrClosedPipe) {
		err = nil
	}

	if started {
		<-c.done
	} else {
		// no receive loop ever ran to close it
		close(c.done)
	}
	c.jobs.Shutdown()

	return multierr.Combine(err, c.Err())
}

// Call sends cmd with the encoded request and waits for the response.
// A negative result code is returned as *ModemError, otherwise resp is
// decoded and the non-negative result code returned. A zero timeout uses
// the client default, apicmdgw.WaitForever disables it.
func (c *Client) Call(ctx context.Context, cmd frame.CommandID, req Request, resp Response, timeout time.Duration) (int32, error) {
	if !c.Ready() {
		return 0, ErrNotInitialized
	}

	size := 0
	if req != nil {
		size = req.WireSize()
	}
	command, err := c.gw.AllocCommand(cmd, size)
	if err != nil {
		return 0, gatewayError(err)
	}
	defer c.gw.FreeCommand(command)

	if req != nil {
		enc := wire.NewEncoder(command.Payload())
		req.MarshalWire(enc)
		if err := enc.Err(); err != nil {
			return 0, &InvalidParamError{Param: "request", Reason: err.Error()}
		}
		if err := command.SetPayloadLen(enc.Len()); err != nil {
			return 0, gatewayError(err)
		}
	}

	respCap := resultSize
	if resp != nil {
		respCap += resp.MaxWireSize()
	}

	buf, err := c.gw.Send(ctx, command, respCap, timeout)
	if err != nil {
		return 0, gatewayError(err)
	}
	defer c.gw.FreeResponse(buf)

	dec := wire.NewDecoder(buf.Bytes())
	code := dec.Int32()
	if err := dec.Err(); err != nil {
		return 0, fmt.Errorf("%w: command %s: %w", ErrProtocol, cmd, err)
	}
	if code < 0 {
		return code, &ModemError{Cmd: cmd, Code: code}
	}

	if resp != nil {
		resp.UnmarshalWire(dec)
	}
	if err := dec.Finish(); err != nil {
		return 0, fmt.Errorf("%w: command %s: %w", ErrProtocol, cmd, err)
	}
	return code, nil
}

type Stats struct {
	Pool     bufpool.Stats
	Gateway  apicmdgw.Stats
	Events   evtdisp.Stats
	Resyncs  uint64
	Dropped  uint64
	Pending  int
	QueueLen int
}

func (c *Client) Stats() Stats {
	return Stats{
		Pool:     c.pool.Stats(),
		Gateway:  c.gw.Stats(),
		Events:   c.disp.Stats(),
		Resyncs:  c.reader.Resyncs(),
		Dropped:  c.reader.Dropped(),
		Pending:  c.gw.Pending(),
		QueueLen: c.jobs.Queued(),
	}
}
