// Package evtdisp classifies every inbound frame. Responses go back to the
// command gateway, recognised events are decoded and handed to their
// registered callback on a worker, anything else is logged and released.
package evtdisp

import (
	"context"
	"fmt"

	"github.com/LeoCommon/altcom/internal/worker"
	"github.com/LeoCommon/altcom/pkg/frame"
	"github.com/LeoCommon/altcom/pkg/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Decoder turns an event payload into the slot index and a decoded record.
// The record must not reference the payload, the frame is released after
// the callback returns.
type Decoder func(payload []byte) (index int, event any, err error)

// Replier takes response frames, implemented by the command gateway
type Replier interface {
	Deliver(f *frame.Frame) bool
}

// Submitter runs event jobs away from the receive path
type Submitter interface {
	Submit(job *worker.Job) error
}

type Outcome int

const (
	OutcomeReply Outcome = iota
	OutcomeReplyDropped
	OutcomeEventQueued
	OutcomeEventDropped
	OutcomeUnsupported
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReply:
		return "reply"
	case OutcomeReplyDropped:
		return "reply-dropped"
	case OutcomeEventQueued:
		return "event-queued"
	case OutcomeEventDropped:
		return "event-dropped"
	case OutcomeUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("%d", int(o))
	}
}

type Dispatcher struct {
	replies  Replier
	jobs     Submitter
	registry *Registry
	decoders map[frame.CommandID]Decoder

	delivered    atomic.Uint64
	unhandled    atomic.Uint64
	decodeErrors atomic.Uint64
}

func New(replies Replier, jobs Submitter, decoders map[frame.CommandID]Decoder) *Dispatcher {
	table := make(map[frame.CommandID]Decoder, len(decoders))
	for k, v := range decoders {
		table[k] = v
	}

	return &Dispatcher{
		replies:  replies,
		jobs:     jobs,
		registry: NewRegistry(),
		decoders: table,
	}
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Supports reports whether events of this class are recognised
func (d *Dispatcher) Supports(class frame.CommandID) bool {
	_, ok := d.decoders[class]
	return ok
}

// Classify routes f and takes ownership of it in every case
func (d *Dispatcher) Classify(f *frame.Frame) Outcome {
	if f.IsResponse() {
		if d.replies.Deliver(f) {
			return OutcomeReply
		}
		log.Debug("dropping unmatched response", zap.Stringer("cmd", f.CommandID), zap.Uint16("trans", f.TransID))
		f.Release()
		return OutcomeReplyDropped
	}

	if _, ok := d.decoders[f.CommandID]; !ok {
		log.Info("unsupported event", zap.Stringer("cmd", f.CommandID), zap.Int("len", len(f.Payload())))
		f.Release()
		return OutcomeUnsupported
	}

	job := worker.NewJob("event "+f.CommandID.String(), d.runEvent, f)
	job.Discard = f.Release
	if err := d.jobs.Submit(job); err != nil {
		log.Warn("event dropped", zap.Stringer("cmd", f.CommandID), zap.Error(err))
		f.Release()
		return OutcomeEventDropped
	}
	return OutcomeEventQueued
}

func (d *Dispatcher) runEvent(_ context.Context, arg interface{}) error {
	f := arg.(*frame.Frame)
	defer f.Release()

	index, event, err := d.decoders[f.CommandID](f.Payload())
	if err != nil {
		d.decodeErrors.Inc()
		return fmt.Errorf("decode event %s: %w", f.CommandID, err)
	}

	reg := d.registry.lookup(Key{Class: f.CommandID, Index: index})
	if reg == nil {
		d.unhandled.Inc()
		log.Debug("no callback for event", zap.Stringer("cmd", f.CommandID), zap.Int("index", index))
		return nil
	}

	reg.handler(event, reg.priv)
	d.delivered.Inc()
	return nil
}

type Stats struct {
	Delivered    uint64
	Unhandled    uint64
	DecodeErrors uint64
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered:    d.delivered.Load(),
		Unhandled:    d.unhandled.Load(),
		DecodeErrors: d.decodeErrors.Load(),
	}
}
