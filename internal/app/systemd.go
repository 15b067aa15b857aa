package app

import (
	"context"
	"time"

	logx "dialajoke/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

// startSystemd reports readiness and, when WatchdogSec is set on the unit,
// pings the watchdog at half its interval. Outside systemd both are no-ops.
func (a *App) startSystemd() {
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					a.log.Warn("systemd watchdog ping failed", logx.Err(err))
				}
			}
		}
	})
}

func notifyStopping(log logx.Logger) {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		log.Debug("systemd stopping notify failed", logx.Err(err))
	}
}
