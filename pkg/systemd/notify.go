// Package systemd talks to the service manager over the notify socket
package systemd

import (
	"errors"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/LeoCommon/altcom/pkg/log"
)

var ErrNoNotifySocket = errors.New("systemd-notify socket was not available")

// EntertainWatchdog sends a notification to the systemd watchdog
func EntertainWatchdog() error {
	log.Debug("Notifying systemd watchdog")
	return Notify(NotifyWatchdog)
}

func Ready() error {
	return Notify(NotifyReady)
}

func Stopping() error {
	return Notify(NotifyStopping)
}

func Status(line string) error {
	return Notify(NotifyStatusPrefix + line)
}

// WatchdogInterval returns half the configured watchdog timeout, zero when
// the unit has no watchdog
func WatchdogInterval() time.Duration {
	usec, err := strconv.ParseInt(os.Getenv(WatchdogUsecEnvVar), 10, 64)
	if err != nil || usec <= 0 {
		return 0
	}
	return time.Duration(usec) * time.Microsecond / 2
}

// Notify sends the provided msg to the systemd socket
func Notify(msg string) error {
	name := os.Getenv(NotifySocketEnvVar)
	if name == "" {
		return ErrNoNotifySocket
	}

	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Net: "unixgram", Name: name})
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Write([]byte(msg))
	return err
}
