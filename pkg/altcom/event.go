package altcom

import (
	"fmt"
	"sync"

	"github.com/LeoCommon/altcom/internal/evtdisp"
	"github.com/LeoCommon/altcom/pkg/frame"
)

// EventDecoder turns an event payload into the callback slot index and a
// decoded record. Records that fail validity checks are still returned with
// their validity flag cleared, err is reserved for payloads that cannot be
// parsed at all.
type EventDecoder func(payload []byte) (index int, event any, err error)

// Handler receives a decoded event on a worker goroutine
type Handler func(event any, priv any)

var (
	decodersMu sync.Mutex
	decoders   = map[frame.CommandID]EventDecoder{}
)

// RegisterEventDecoder installs the decoder for an event class. Feature
// packages call it from init, clients created afterwards recognise the class.
func RegisterEventDecoder(class frame.CommandID, d EventDecoder) {
	decodersMu.Lock()
	defer decodersMu.Unlock()

	if _, dup := decoders[class]; dup {
		panic(fmt.Sprintf("altcom: event decoder for %s registered twice", class))
	}
	decoders[class] = d
}

func decoderTable() map[frame.CommandID]evtdisp.Decoder {
	decodersMu.Lock()
	defer decodersMu.Unlock()

	table := make(map[frame.CommandID]evtdisp.Decoder, len(decoders))
	for class, d := range decoders {
		table[class] = evtdisp.Decoder(d)
	}
	return table
}

// Register sets the callback for (class, index), replacing any previous one.
// A nil handler clears the slot. It reports whether a callback was replaced.
func (c *Client) Register(class frame.CommandID, index int, h Handler, priv any) bool {
	return c.disp.Registry().Register(evtdisp.Key{Class: class, Index: index}, evtdisp.Handler(h), priv)
}

func (c *Client) Unregister(class frame.CommandID, index int) {
	c.disp.Registry().Unregister(evtdisp.Key{Class: class, Index: index})
}

func (c *Client) Registered(class frame.CommandID, index int) bool {
	return c.disp.Registry().Registered(evtdisp.Key{Class: class, Index: index})
}

// SupportsEvent reports whether this client decodes events of the class
func (c *Client) SupportsEvent(class frame.CommandID) bool {
	return c.disp.Supports(class)
}
