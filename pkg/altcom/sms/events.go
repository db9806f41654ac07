package sms

import (
	"fmt"
	"time"

	"github.com/LeoCommon/altcom/pkg/altcom"
	"github.com/LeoCommon/altcom/pkg/wire"
)

type EventType uint8

const (
	EventReceived EventType = 1
	EventReport   EventType = 2
)

type Message struct {
	Index  uint16
	Sender string
	Time   time.Time
	Text   string
	// Valid is false when the timestamp is out of range or the text was cut
	Valid bool
}

type ReportStatus uint8

const (
	StatusDelivered ReportStatus = 0
	StatusPending   ReportStatus = 1
	StatusFailed    ReportStatus = 2
)

type Report struct {
	Ref    uint16
	Status ReportStatus
	Time   time.Time
	Valid  bool
}

func init() {
	altcom.RegisterEventDecoder(ClassSMS, decodeEvent)
}

// timestamp is year, month, day, hour, minute, second and the zone in quarter hours
func decodeTimestamp(d *wire.Decoder) (time.Time, bool) {
	year := int(d.Uint16())
	month, day := d.Uint8(), d.Uint8()
	hour, minute, second := d.Uint8(), d.Uint8(), d.Uint8()
	quarters := int(d.Int8())

	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || second > 59 || quarters < -48 || quarters > 56 {
		return time.Time{}, false
	}
	zone := time.FixedZone("", quarters*15*60)
	return time.Date(year, time.Month(month), int(day), int(hour), int(minute), int(second), 0, zone), true
}

func decodeEvent(payload []byte) (int, any, error) {
	d := wire.NewDecoder(payload)
	typ := EventType(d.Uint8())

	var ev any
	switch typ {
	case EventReceived:
		m := &Message{Index: d.Uint16(), Sender: d.FixedString(MaxAddress)}
		var tsOK bool
		m.Time, tsOK = decodeTimestamp(d)
		n, declared, clamped := d.Count(MaxText)
		m.Text = string(d.Raw(n))
		if clamped {
			d.Skip(declared - n)
		}
		m.Valid = tsOK && !clamped
		ev = m
	case EventReport:
		r := &Report{Ref: d.Uint16(), Status: ReportStatus(d.Uint8())}
		var tsOK bool
		r.Time, tsOK = decodeTimestamp(d)
		r.Valid = tsOK && r.Status <= StatusFailed
		ev = r
	default:
		return 0, nil, fmt.Errorf("unknown sms event type %d", typ)
	}

	if err := d.Finish(); err != nil {
		return 0, nil, err
	}
	return int(typ), ev, nil
}
