package daemon

import (
	"os"
	"time"
)

// scheduleRestart exits the process after delay so the acknowledging
// response drains first. Under a supervisor (PASEO_SUPERVISED=1) exit 0
// means "restart me"; unsupervised it is a plain shutdown, also 0.
func (d *Daemon) scheduleRestart(delay time.Duration) {
	d.restartOnce.Do(func() {
		supervised := os.Getenv("PASEO_SUPERVISED") == "1"
		d.logger.Info("daemon_restart_scheduled", "delay", delay, "supervised", supervised)
		time.AfterFunc(delay, func() {
			d.logger.Info("daemon_restarting")
			os.Exit(0)
		})
	})
}
