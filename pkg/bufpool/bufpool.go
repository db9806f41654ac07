// Package bufpool hands out fixed-size buffers from a small set of size
// classes. It never grows and never blocks: when every block of a fitting
// class is in use, Alloc fails with ErrExhausted.
package bufpool

import (
	"errors"
	"fmt"
	"sort"

	"github.com/LeoCommon/altcom/pkg/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	ErrExhausted    = errors.New("no free block in a fitting size class")
	ErrTooLarge     = errors.New("requested size exceeds the largest size class")
	ErrInvalidSize  = errors.New("requested size must be positive")
	ErrInvalidClass = errors.New("invalid size class configuration")
)

// Class describes one block size and the number of blocks preallocated for it
type Class struct {
	Size  int `toml:"size"`
	Count int `toml:"count"`
}

// DefaultClasses covers a command header, small responses, a 1k data chunk
// and a maximum sized frame payload.
func DefaultClasses() []Class {
	return []Class{
		{Size: 64, Count: 32},
		{Size: 256, Count: 16},
		{Size: 1100, Count: 8},
		{Size: 4128, Count: 4},
	}
}

type class struct {
	size int
	free chan *Buffer

	inUse atomic.Int64
}

// Buffer is a block owned by exactly one holder at a time.
// The holder must hand it back through Pool.Free exactly once.
type Buffer struct {
	data  []byte
	n     int
	class *class
	pool  *Pool
	live  atomic.Bool
}

// Bytes returns the used portion of the block
func (b *Buffer) Bytes() []byte {
	return b.data[:b.n]
}

func (b *Buffer) Len() int {
	return b.n
}

func (b *Buffer) Cap() int {
	return len(b.data)
}

// SetLen adjusts the used portion, it cannot exceed the block size
func (b *Buffer) SetLen(n int) error {
	if n < 0 || n > len(b.data) {
		return fmt.Errorf("length %d outside block of %d bytes", n, len(b.data))
	}
	b.n = n
	return nil
}

type Pool struct {
	classes []*class

	allocs      atomic.Uint64
	frees       atomic.Uint64
	failures    atomic.Uint64
	doubleFrees atomic.Uint64
}

func New(classes []Class) (*Pool, error) {
	if len(classes) == 0 {
		return nil, ErrInvalidClass
	}

	sorted := append([]Class(nil), classes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Size < sorted[j].Size })

	p := &Pool{}
	for i, c := range sorted {
		if c.Size <= 0 || c.Count <= 0 {
			return nil, fmt.Errorf("%w: class %d has size %d count %d", ErrInvalidClass, i, c.Size, c.Count)
		}
		if i > 0 && sorted[i-1].Size == c.Size {
			return nil, fmt.Errorf("%w: duplicate size %d", ErrInvalidClass, c.Size)
		}

		cl := &class{size: c.Size, free: make(chan *Buffer, c.Count)}
		for k := 0; k < c.Count; k++ {
			cl.free <- &Buffer{data: make([]byte, c.Size), class: cl, pool: p}
		}
		p.classes = append(p.classes, cl)
	}

	return p, nil
}

// Alloc returns a block from the smallest class that fits size.
// Larger classes are not used as a fallback, a full class is reported as ErrExhausted.
func (p *Pool) Alloc(size int) (*Buffer, error) {
	if size <= 0 {
		p.failures.Inc()
		return nil, ErrInvalidSize
	}

	for _, cl := range p.classes {
		if cl.size < size {
			continue
		}

		select {
		case b := <-cl.free:
			b.n = size
			b.live.Store(true)
			cl.inUse.Inc()
			p.allocs.Inc()
			return b, nil
		default:
			p.failures.Inc()
			log.Debug("buffer class exhausted", zap.Int("class", cl.size), zap.Int("size", size))
			return nil, ErrExhausted
		}
	}

	p.failures.Inc()
	return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
}

// Free returns a block to its class. Nil is ignored.
func (p *Pool) Free(b *Buffer) {
	if b == nil {
		return
	}

	if b.pool != p {
		log.Error("buffer returned to a foreign pool", zap.Int("class", b.class.size))
		return
	}

	if !b.live.CompareAndSwap(true, false) {
		p.doubleFrees.Inc()
		log.Error("double free of pool buffer ignored", zap.Int("class", b.class.size))
		return
	}

	b.n = 0
	b.class.inUse.Dec()
	p.frees.Inc()
	b.class.free <- b
}

// MaxSize is the size of the largest class
func (p *Pool) MaxSize() int {
	return p.classes[len(p.classes)-1].size
}

type ClassStats struct {
	Size  int
	InUse int64
	Free  int
}

type Stats struct {
	Allocs      uint64
	Frees       uint64
	Failures    uint64
	DoubleFrees uint64
	Classes     []ClassStats
}

// Outstanding is the number of blocks currently held by callers
func (s Stats) Outstanding() int64 {
	var n int64
	for _, c := range s.Classes {
		n += c.InUse
	}
	return n
}

func (p *Pool) Stats() Stats {
	s := Stats{
		Allocs:      p.allocs.Load(),
		Frees:       p.frees.Load(),
		Failures:    p.failures.Load(),
		DoubleFrees: p.doubleFrees.Load(),
	}
	for _, cl := range p.classes {
		s.Classes = append(s.Classes, ClassStats{Size: cl.size, InUse: cl.inUse.Load(), Free: len(cl.free)})
	}
	return s
}
