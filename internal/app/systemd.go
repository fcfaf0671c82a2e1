package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "workhub/pkg/logx"
)

const (
	systemdReady    = daemon.SdNotifyReady
	systemdStopping = daemon.SdNotifyStopping
)

// notifySystemd is a no-op outside a systemd unit with Type=notify.
func notifySystemd(state string) bool {
	sent, _ := daemon.SdNotify(false, state)
	return sent
}

// startSystemd reports READY and, when WatchdogSec is set on the unit, keeps
// the watchdog fed while the supervisor is healthy.
func (a *App) startSystemd(ctx context.Context) {
	if notifySystemd(systemdReady) {
		a.log.Info("systemd notified", logx.String("state", "ready"))
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog config unreadable", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	every := interval / 2
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				// A failed supervisor stops the keep-alives so systemd restarts us.
				if a.sup.Err() != nil {
					return
				}
				notifySystemd(daemon.SdNotifyWatchdog)
			}
		}
	})
}
