package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/LeoCommon/altcom/internal/config"
	"github.com/LeoCommon/altcom/pkg/log"
	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"
)

type Options struct {
	Config        string        `short:"c" long:"config" description:"relative or absolute path to the config file" default:"/etc/altcom/config.toml"`
	AcceptMissing bool          `long:"accept-missing" description:"start with defaults when the config file does not exist"`
	Debug         bool          `short:"d" long:"debug" description:"enable debug logging"`
	Port          string        `short:"p" long:"port" description:"serial port, overrides the config file"`
	Address       string        `short:"a" long:"address" description:"connect over tcp to host:port instead of a serial port"`
	GPS           bool          `long:"gps" description:"activate the GNSS receiver and log NMEA sentences"`
	CellReport    time.Duration `long:"cell-report" description:"period of LTE cell info reports, 0 disables" default:"0s"`
	SMS           bool          `long:"sms" description:"log received short messages"`
	StatsInterval time.Duration `long:"stats" description:"interval of the statistics log line" default:"1m"`
}

func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	conf := config.NewManager()
	if err := conf.Load(opts.Config, opts.AcceptMissing); err != nil {
		fmt.Fprintf(os.Stderr, "could not load config %s: %s\n", opts.Config, err)
		os.Exit(1)
	}

	log.Init(opts.Debug || conf.Client().C().Debug)
	defer func() { _ = log.Sync() }()

	if err := applyOverrides(conf, &opts); err != nil {
		log.Error("invalid command line override", zap.Error(err))
		os.Exit(1)
	}

	os.Exit(run(conf, &opts))
}

// applyOverrides lets the command line replace the link section
func applyOverrides(conf *config.Manager, opts *Options) error {
	switch {
	case opts.Address != "":
		conf.Link().Set(func(c *config.LinkConfig) {
			c.Network = config.NetworkTCP
			c.Address = opts.Address
		})
	case opts.Port != "":
		conf.Link().Set(func(c *config.LinkConfig) {
			c.Network = config.NetworkSerial
			c.Port = opts.Port
		})
	default:
		return nil
	}
	return conf.Link().Verify()
}
