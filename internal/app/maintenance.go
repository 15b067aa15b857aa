package app

import (
	"context"
	"strings"
	"time"

	"dialajoke/internal/config"
	logx "dialajoke/pkg/logx"
)

// registerMaintenance adds the recurring storage.prune and
// scheduler.report jobs, removing whichever is no longer configured.
func (a *App) registerMaintenance(cfg *config.Config) error {
	retention, err := mapRetention(cfg)
	if err != nil {
		return err
	}
	if a.store != nil && retention > 0 {
		spec := strings.TrimSpace(cfg.Maintenance.PruneSchedule)
		if spec == "" {
			spec = defaultPruneSchedule
		}
		if err := a.cron.AddSchedule("storage.prune", spec, time.Minute, a.pruneJob(retention)); err != nil {
			return err
		}
	} else {
		a.cron.Remove("storage.prune")
	}
	if spec := strings.TrimSpace(cfg.Maintenance.ReportSchedule); spec != "" {
		if err := a.cron.AddSchedule("scheduler.report", spec, 10*time.Second, a.reportJob); err != nil {
			return err
		}
	} else {
		a.cron.Remove("scheduler.report")
	}
	return nil
}

func (a *App) pruneJob(retention time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		before := time.Now().Add(-retention)
		n, err := a.store.PruneCalls(ctx, before)
		if err != nil {
			return err
		}
		if n > 0 {
			a.log.Info("call history pruned", logx.Int("removed", n), logx.Time("before", before))
		}
		return nil
	}
}

func (a *App) reportJob(context.Context) error {
	s := a.sched.Snapshot()
	e := a.engine.Snapshot()
	var goroutines int64
	if a.sup != nil {
		goroutines = a.sup.Snapshot().Active
	}
	a.log.Debug("scheduler report",
		logx.Int("pending", s.Pending),
		logx.Int("in_flight", s.InFlight),
		logx.Bool("armed", s.Armed),
		logx.Uint64("dispatched", s.Dispatched),
		logx.Uint64("failed", s.Failed),
		logx.Uint64("timed_out", s.TimedOut),
		logx.Int("engine_queue", e.QueueLen),
		logx.Int("engine_in_flight", e.InFlight),
		logx.Int("circuits_open", e.CircuitOpen),
		logx.Int64("goroutines", goroutines),
	)
	return nil
}
