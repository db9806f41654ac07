package systemd

const (
	NotifySocketEnvVar = "NOTIFY_SOCKET"
	NotifyWatchdog     = "WATCHDOG=1"
	NotifyReloading    = "RELOADING=1"
	NotifyStopping     = "STOPPING=1"
	NotifyReady        = "READY=1"
	// NotifyStatusPrefix is followed by a free form line shown by systemctl status
	NotifyStatusPrefix = "STATUS="

	WatchdogUsecEnvVar = "WATCHDOG_USEC"
)
