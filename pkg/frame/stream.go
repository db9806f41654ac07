package frame

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/LeoCommon/altcom/pkg/bufpool"
	"github.com/LeoCommon/altcom/pkg/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Frame is a received frame whose payload lives in a pool buffer.
// Whoever holds the frame owns the buffer and must Release or Detach it.
type Frame struct {
	Header

	buf  *bufpool.Buffer
	pool *bufpool.Pool
}

// NewFrame wraps a pool buffer, used by the reader and by tests injecting frames
func NewFrame(h Header, buf *bufpool.Buffer, pool *bufpool.Pool) *Frame {
	h.PayloadLen = uint16(buf.Len())
	return &Frame{Header: h, buf: buf, pool: pool}
}

func (f *Frame) Payload() []byte {
	if f.buf == nil {
		return nil
	}
	return f.buf.Bytes()
}

// Detach hands the payload buffer to the caller, the frame no longer owns it
func (f *Frame) Detach() *bufpool.Buffer {
	b := f.buf
	f.buf = nil
	return b
}

// Release returns the payload buffer to the pool, calling it twice is harmless
func (f *Frame) Release() {
	if f.buf != nil {
		f.pool.Free(f.buf)
		f.buf = nil
	}
}

// Reader splits a byte stream into frames. Corrupt or unallocatable frames
// are dropped and logged; only errors of the underlying reader are returned.
type Reader struct {
	r    *bufio.Reader
	pool *bufpool.Pool

	resyncs atomic.Uint64
	dropped atomic.Uint64
}

func NewReader(r io.Reader, pool *bufpool.Pool) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, HeaderSize+MaxPayload+TrailerSize), pool: pool}
}

func (fr *Reader) ReadFrame() (*Frame, error) {
	for {
		raw, err := fr.r.Peek(HeaderSize)
		if err != nil {
			return nil, err
		}

		h, err := UnmarshalHeader(raw)
		if err != nil {
			// Slide one byte and look for the next magic
			if binary.BigEndian.Uint32(raw) == Magic {
				log.Debug("dropping frame header", zap.Error(err))
			}
			fr.resyncs.Inc()
			if _, err := fr.r.Discard(1); err != nil {
				return nil, err
			}
			continue
		}

		if _, err := fr.r.Discard(HeaderSize); err != nil {
			return nil, err
		}

		n := int(h.PayloadLen)
		buf, err := fr.pool.Alloc(max(n, 1))
		if err != nil {
			log.Warn("no buffer for inbound frame, dropping", zap.Stringer("cmd", h.CommandID), zap.Int("len", n), zap.Error(err))
			fr.dropped.Inc()
			if _, err := fr.r.Discard(n + TrailerSize); err != nil {
				return nil, err
			}
			continue
		}
		if err := buf.SetLen(n); err != nil {
			fr.pool.Free(buf)
			return nil, err
		}

		if _, err := io.ReadFull(fr.r, buf.Bytes()); err != nil {
			fr.pool.Free(buf)
			return nil, err
		}

		var trailer [TrailerSize]byte
		if _, err := io.ReadFull(fr.r, trailer[:]); err != nil {
			fr.pool.Free(buf)
			return nil, err
		}

		if err := VerifyPayload(buf.Bytes(), trailer[:]); err != nil {
			log.Warn("dropping frame", zap.Stringer("cmd", h.CommandID), zap.Error(err))
			fr.dropped.Inc()
			fr.pool.Free(buf)
			continue
		}

		return &Frame{Header: h, buf: buf, pool: fr.pool}, nil
	}
}

// Resyncs is the number of bytes skipped while hunting for a header
func (fr *Reader) Resyncs() uint64 {
	return fr.resyncs.Load()
}

func (fr *Reader) Dropped() uint64 {
	return fr.dropped.Load()
}

// Writer serialises whole frames onto a shared stream
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (fw *Writer) WriteFrame(b []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	n, err := fw.w.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("short frame write: %d of %d bytes", n, len(b))
	}
	return nil
}
