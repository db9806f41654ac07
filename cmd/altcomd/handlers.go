package main

import (
	"github.com/LeoCommon/altcom/pkg/altcom/gps"
	"github.com/LeoCommon/altcom/pkg/altcom/lte"
	"github.com/LeoCommon/altcom/pkg/altcom/sms"
	"github.com/LeoCommon/altcom/pkg/log"
	"go.uber.org/zap"
)

func logNMEA(ev *gps.NMEAEvent, _ any) {
	if !ev.Valid {
		log.Warn("invalid nmea sentence", zap.Uint8("type", uint8(ev.NMEAType)))
		return
	}

	switch {
	case ev.GGA != nil:
		log.Info("gga",
			zap.Float64("lat", ev.GGA.Latitude),
			zap.Float64("lon", ev.GGA.Longitude),
			zap.Float64("alt", ev.GGA.Altitude),
			zap.Uint8("quality", ev.GGA.Quality),
			zap.Uint8("numsv", ev.GGA.NumSV))
	case ev.RMC != nil:
		log.Debug("rmc",
			zap.Bool("active", ev.RMC.Active),
			zap.Float64("speed", ev.RMC.Speed),
			zap.Float64("course", ev.RMC.Course))
	case ev.GSV != nil:
		log.Debug("gsv", zap.Int("satellites", len(ev.GSV.Satellites)))
	}
}

func logCellInfo(info *lte.CellInfo, _ any) {
	log.Info("cell info",
		zap.Bool("valid", info.Valid),
		zap.String("mcc", info.MCC),
		zap.String("mnc", info.MNC),
		zap.Uint32("cell_id", info.CellID),
		zap.Uint16("tac", info.TAC),
		zap.Int16("rsrp", info.RSRP),
		zap.Int16("rsrq", info.RSRQ),
		zap.Int("neighbours", len(info.Neighbours)))
}

func logMessage(msg *sms.Message, _ any) {
	log.Info("sms received",
		zap.Uint16("index", msg.Index),
		zap.String("sender", msg.Sender),
		zap.Time("time", msg.Time),
		zap.Int("length", len(msg.Text)),
		zap.Bool("valid", msg.Valid))
}

func logDeliveryReport(rep *sms.Report, _ any) {
	log.Info("sms delivery report",
		zap.Uint16("ref", rep.Ref),
		zap.Uint8("status", uint8(rep.Status)),
		zap.Bool("valid", rep.Valid))
}
