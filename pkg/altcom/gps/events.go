package gps

import (
	"fmt"
	"time"

	"github.com/LeoCommon/altcom/pkg/altcom"
	"github.com/LeoCommon/altcom/pkg/frame"
	"github.com/LeoCommon/altcom/pkg/wire"
)

// ClassReport carries every GPS report, the first payload byte is the EventType
const ClassReport frame.CommandID = 0x8301

type EventType uint8

const (
	EventNMEA EventType = 1
	EventFix  EventType = 2
)

type NMEAType uint8

const (
	NMEAGGA NMEAType = 1
	NMEARMC NMEAType = 2
	NMEAGSV NMEAType = 3
)

func (t NMEAType) String() string {
	switch t {
	case NMEAGGA:
		return "GGA"
	case NMEARMC:
		return "RMC"
	case NMEAGSV:
		return "GSV"
	default:
		return fmt.Sprintf("NMEA(%d)", uint8(t))
	}
}

// MaxSatellites bounds the satellite list of a GSV report
const MaxSatellites = 16

// UTC time of day as reported in NMEA sentences
type UTC struct {
	Hour, Minute, Second uint8
	Millis               uint16
}

func (u UTC) valid() bool {
	return u.Hour < 24 && u.Minute < 60 && u.Second < 61 && u.Millis < 1000
}

type GGA struct {
	Time      UTC
	Latitude  float64
	Longitude float64
	// 0 invalid, 1 GPS fix, 2 DGPS fix ... 8 simulation
	Quality  uint8
	NumSV    uint8
	HDOP     float64
	Altitude float64
}

type RMC struct {
	Time      UTC
	Active    bool
	Latitude  float64
	Longitude float64
	// Speed over ground in knots
	Speed  float64
	Course float64
	Day    uint8
	Month  uint8
	Year   uint16
}

type Satellite struct {
	PRN       uint8
	Elevation int8
	Azimuth   uint16
	SNR       uint8
}

type GSV struct {
	Messages   uint8
	Message    uint8
	InView     uint8
	Satellites []Satellite
	// Declared is the satellite count the modem sent, it exceeds
	// len(Satellites) when the list was clamped
	Declared int
}

// NMEAEvent holds exactly one of GGA, RMC or GSV, selected by NMEAType.
// Valid is false when a field is out of range, the record is delivered anyway.
type NMEAEvent struct {
	Type     EventType
	NMEAType NMEAType
	GGA      *GGA
	RMC      *RMC
	GSV      *GSV
	Valid    bool
}

type Fix struct {
	Type      EventType
	Time      time.Time
	Latitude  float64
	Longitude float64
	Altitude  float64
	NumSV     uint8
	Valid     bool
}

func init() {
	altcom.RegisterEventDecoder(ClassReport, decodeReport)
}

func decodeReport(payload []byte) (int, any, error) {
	d := wire.NewDecoder(payload)
	typ := EventType(d.Uint8())

	var ev any
	switch typ {
	case EventNMEA:
		ev = decodeNMEA(d)
	case EventFix:
		ev = decodeFix(d)
	default:
		return 0, nil, fmt.Errorf("unknown gps report type %d", typ)
	}

	if err := d.Finish(); err != nil {
		return 0, nil, fmt.Errorf("gps report type %d: %w", typ, err)
	}
	return int(typ), ev, nil
}

func decodeUTC(d *wire.Decoder) UTC {
	return UTC{Hour: d.Uint8(), Minute: d.Uint8(), Second: d.Uint8(), Millis: d.Uint16()}
}

func validPosition(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func decodeNMEA(d *wire.Decoder) *NMEAEvent {
	ev := &NMEAEvent{Type: EventNMEA, NMEAType: NMEAType(d.Uint8()), Valid: true}

	switch ev.NMEAType {
	case NMEAGGA:
		g := &GGA{
			Time:      decodeUTC(d),
			Latitude:  d.Float64(),
			Longitude: d.Float64(),
			Quality:   d.Uint8(),
			NumSV:     d.Uint8(),
			HDOP:      d.Float64(),
			Altitude:  d.Float64(),
		}
		ev.GGA = g
		ev.Valid = g.Time.valid() && validPosition(g.Latitude, g.Longitude) && g.Quality <= 8
	case NMEARMC:
		r := &RMC{
			Time:      decodeUTC(d),
			Active:    d.Bool(),
			Latitude:  d.Float64(),
			Longitude: d.Float64(),
			Speed:     d.Float64(),
			Course:    d.Float64(),
			Day:       d.Uint8(),
			Month:     d.Uint8(),
			Year:      d.Uint16(),
		}
		ev.RMC = r
		ev.Valid = r.Time.valid() && validPosition(r.Latitude, r.Longitude) &&
			r.Day >= 1 && r.Day <= 31 && r.Month >= 1 && r.Month <= 12
	case NMEAGSV:
		g := &GSV{Messages: d.Uint8(), Message: d.Uint8(), InView: d.Uint8()}
		n, declared, clamped := d.Count(MaxSatellites)
		g.Declared = declared
		g.Satellites = make([]Satellite, 0, n)
		for i := 0; i < n; i++ {
			g.Satellites = append(g.Satellites, Satellite{
				PRN:       d.Uint8(),
				Elevation: d.Int8(),
				Azimuth:   d.Uint16(),
				SNR:       d.Uint8(),
			})
		}
		if clamped {
			d.Skip((declared - n) * satelliteSize)
		}
		ev.GSV = g
		ev.Valid = !clamped && g.Message >= 1 && g.Message <= g.Messages
		for _, s := range g.Satellites {
			if s.Elevation < -90 || s.Elevation > 90 || s.Azimuth >= 360 {
				ev.Valid = false
			}
		}
	default:
		// unknown sentence types carry no body we could check
		ev.Valid = false
	}
	return ev
}

const satelliteSize = 1 + 1 + 2 + 1

func decodeFix(d *wire.Decoder) *Fix {
	valid := d.Bool()
	year, month, day := int(d.Uint16()), d.Uint8(), d.Uint8()
	hour, minute, second := d.Uint8(), d.Uint8(), d.Uint8()

	f := &Fix{
		Type:      EventFix,
		Latitude:  d.Float64(),
		Longitude: d.Float64(),
		Altitude:  d.Float64(),
		NumSV:     d.Uint8(),
	}

	dateOK := month >= 1 && month <= 12 && day >= 1 && day <= 31 && hour < 24 && minute < 60 && second < 61
	if dateOK {
		f.Time = time.Date(year, time.Month(month), int(day), int(hour), int(minute), int(second), 0, time.UTC)
	}
	f.Valid = valid && dateOK && validPosition(f.Latitude, f.Longitude)
	return f
}
