package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/LeoCommon/altcom/internal/config"
	"github.com/LeoCommon/altcom/pkg/altcom"
	"github.com/LeoCommon/altcom/pkg/altcom/gps"
	"github.com/LeoCommon/altcom/pkg/altcom/lte"
	"github.com/LeoCommon/altcom/pkg/altcom/sms"
	"github.com/LeoCommon/altcom/pkg/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const setupTimeout = 30 * time.Second

// App holds the connection to the modem and the services running on it
type App struct {
	WG sync.WaitGroup

	ReloadSignal chan os.Signal
	ExitSignal   chan os.Signal

	Conf   *config.Manager
	Client *altcom.Client

	GPS *gps.GPS
	LTE *lte.LTE
	SMS *sms.SMS

	gpsActive  bool
	cellActive bool
	smsActive  bool
}

func setup(ctx context.Context, conf *config.Manager, opts *Options) (*App, error) {
	app := &App{Conf: conf}

	app.ExitSignal = make(chan os.Signal, 1)
	signal.Notify(app.ExitSignal, os.Interrupt, syscall.SIGTERM)

	app.ReloadSignal = make(chan os.Signal, 1)
	signal.Notify(app.ReloadSignal, syscall.SIGUSR1, syscall.SIGHUP)

	dialer, err := conf.Link().Dialer()
	if err != nil {
		return nil, err
	}
	client, err := altcom.Dial(ctx, dialer, conf.AltcomConfig())
	if err != nil {
		return nil, err
	}
	client.Start()
	app.attach(client, conf.Gateway().C().DefaultTimeout.Value())

	if err := app.startServices(ctx, opts); err != nil {
		return app, multierr.Append(err, app.Shutdown())
	}
	return app, nil
}

func (a *App) attach(client *altcom.Client, timeout time.Duration) {
	a.Client = client
	a.GPS = gps.New(client)
	a.GPS.Timeout = timeout
	a.LTE = lte.New(client)
	a.LTE.Timeout = timeout
	a.SMS = sms.New(client)
	a.SMS.Timeout = timeout
}

func (a *App) startServices(ctx context.Context, opts *Options) error {
	if opts.GPS {
		if err := a.GPS.Activate(ctx, gps.StartHot); err != nil {
			return err
		}
		a.gpsActive = true
		if err := a.GPS.SetNMEAEvent(ctx, true, gps.MaskGGA|gps.MaskRMC|gps.MaskGSV, logNMEA, nil); err != nil {
			return err
		}
	}

	if opts.CellReport > 0 {
		if err := a.LTE.SetCellInfoReport(ctx, opts.CellReport, logCellInfo, nil); err != nil {
			return err
		}
		a.cellActive = true
	}

	if opts.SMS {
		if err := a.SMS.Init(ctx, logMessage, logDeliveryReport, nil); err != nil {
			return err
		}
		a.smsActive = true
	}
	return nil
}

// Shutdown stops the services that were started and closes the client.
// Every step runs even when an earlier one failed.
func (a *App) Shutdown() error {
	var err error
	if a.Client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	if a.Client.Ready() {
		if a.smsActive {
			err = multierr.Append(err, a.SMS.Fin(ctx))
		}
		if a.cellActive {
			err = multierr.Append(err, a.LTE.SetCellInfoReport(ctx, 0, nil, nil))
		}
		if a.gpsActive {
			err = multierr.Append(err, a.GPS.SetNMEAEvent(ctx, false, 0, nil, nil))
			err = multierr.Append(err, a.GPS.Inactivate(ctx))
		}
	}

	err = multierr.Append(err, a.Client.Close())
	signal.Stop(a.ExitSignal)
	signal.Stop(a.ReloadSignal)
	return err
}

func logStats(c *altcom.Client) {
	s := c.Stats()
	log.Info("client statistics",
		zap.Int64("buffers_outstanding", s.Pool.Outstanding()),
		zap.Uint64("sent", s.Gateway.Sent),
		zap.Uint64("completed", s.Gateway.Completed),
		zap.Uint64("timed_out", s.Gateway.TimedOut),
		zap.Uint64("unmatched", s.Gateway.Unmatched),
		zap.Uint64("events", s.Events.Delivered),
		zap.Uint64("events_unhandled", s.Events.Unhandled),
		zap.Uint64("decode_errors", s.Events.DecodeErrors),
		zap.Uint64("resyncs", s.Resyncs),
		zap.Uint64("dropped", s.Dropped),
		zap.Int("pending", s.Pending),
		zap.Int("queue", s.QueueLen),
	)
}
