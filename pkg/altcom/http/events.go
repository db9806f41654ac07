package http

import (
	"fmt"

	"github.com/LeoCommon/altcom/pkg/altcom"
	"github.com/LeoCommon/altcom/pkg/wire"
)

type EventType uint8

const (
	EventStatus EventType = 1
	EventBody   EventType = 2
	EventError  EventType = 3
)

// Event is one HTTP report for a profile. Status carries StatusCode and
// ContentLength, Body one chunk of the response body, Error the modem code.
type Event struct {
	Type          EventType
	Profile       int
	StatusCode    int
	ContentLength int64
	Body          []byte
	Last          bool
	ErrCode       int32
	Valid         bool
}

type Handler func(ev *Event, priv any)

func slot(event EventType, profile int) int {
	return profile<<8 | int(event)
}

func init() {
	altcom.RegisterEventDecoder(ClassURC, decodeURC)
}

func decodeURC(payload []byte) (int, any, error) {
	d := wire.NewDecoder(payload)
	ev := &Event{Type: EventType(d.Uint8()), Profile: int(d.Uint8()), Valid: true}

	switch ev.Type {
	case EventStatus:
		ev.StatusCode = int(d.Uint16())
		ev.ContentLength = d.Int64()
		ev.Valid = ev.StatusCode >= 100 && ev.StatusCode <= 599
	case EventBody:
		n, declared, clamped := d.Count(MaxBody)
		// the body is copied, the frame goes back to the pool after the callback
		ev.Body = append([]byte(nil), d.Raw(n)...)
		if clamped {
			d.Skip(declared - n)
			ev.Valid = false
		}
		ev.Last = d.Bool()
	case EventError:
		ev.ErrCode = d.Int32()
	default:
		return 0, nil, fmt.Errorf("unknown http event type %d", ev.Type)
	}

	if err := d.Finish(); err != nil {
		return 0, nil, err
	}
	if ev.Profile < 1 || ev.Profile > MaxProfiles {
		return 0, nil, fmt.Errorf("http event for profile %d", ev.Profile)
	}
	return slot(ev.Type, ev.Profile), ev, nil
}
