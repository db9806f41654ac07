package main

import (
	"context"
	"errors"
	"time"

	"github.com/LeoCommon/altcom/internal/config"
	"github.com/LeoCommon/altcom/pkg/log"
	"github.com/LeoCommon/altcom/pkg/systemd"
	"go.uber.org/zap"
)

func notify(fn func() error) {
	if err := fn(); err != nil && !errors.Is(err, systemd.ErrNoNotifySocket) {
		log.Warn("systemd notification failed", zap.Error(err))
	}
}

// run returns the process exit code
func run(conf *config.Manager, opts *Options) int {
	log.Info("altcomd starting", zap.String("config", conf.Path()))

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	app, err := setup(ctx, conf, opts)
	cancel()
	if err != nil {
		log.Error("could not set up the modem connection", zap.Error(err))
		return 1
	}

	notify(systemd.Ready)
	notify(func() error { return systemd.Status("modem connected") })

	watchdog := systemd.WatchdogInterval()
	if watchdog <= 0 {
		watchdog = time.Hour
	}
	watchdogTicker := time.NewTicker(watchdog)
	interval := opts.StatsInterval
	if interval <= 0 {
		interval = time.Minute
	}
	statsTicker := time.NewTicker(interval)

	exitCode := 0
	app.WG.Add(1)
	go func() {
		defer app.WG.Done()
		defer watchdogTicker.Stop()
		defer statsTicker.Stop()

		for {
			select {
			case <-watchdogTicker.C:
				notify(systemd.EntertainWatchdog)

			case <-statsTicker.C:
				logStats(app.Client)

			case <-app.ReloadSignal:
				log.Info("reload signal received")
				logStats(app.Client)

			case <-app.Client.Done():
				// the link is gone, let systemd restart us
				log.Error("modem connection lost", zap.Error(app.Client.Err()))
				exitCode = 1
				return

			case <-app.ExitSignal:
				log.Info("exit signal received - shutting down")
				return
			}
		}
	}()

	app.WG.Wait()
	notify(systemd.Stopping)

	if err := app.Shutdown(); err != nil {
		log.Warn("shutdown finished with errors", zap.Error(err))
	}
	logStats(app.Client)
	log.Info("altcomd stopped")
	return exitCode
}
