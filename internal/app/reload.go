package app

import (
	"context"
	"slices"
	"strings"

	"dialajoke/internal/config"
	"dialajoke/internal/transport/telegram"
	logx "dialajoke/pkg/logx"
)

// restartRequired lists sections whose changes only take effect after a
// restart.
var restartRequired = []string{"http", "jokes", "phone", "storage", "templates_dir"}

func (a *App) startReloader() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				newCfg = latest(sub, newCfg)
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

// latest drains queued updates and returns the newest.
func latest(sub chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer := <-sub:
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		if slices.Contains(restartRequired, s) {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}
	if oldCfg != nil && (oldCfg.Telnyx.APIKey != newCfg.Telnyx.APIKey ||
		oldCfg.Telnyx.BaseURL != newCfg.Telnyx.BaseURL ||
		oldCfg.Telnyx.WebhookPublicKey != newCfg.Telnyx.WebhookPublicKey) {
		a.log.Warn("telnyx credentials changed; restart required for them to take effect")
	}

	if slices.Contains(sections, "telegram") || slices.Contains(sections, "logging") {
		a.applyLogSink(newCfg)
	}
	a.logs.Apply(mapLogConfig(newCfg))

	if sc, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(sc)
	}
	if ec, err := mapTaskEngineConfig(newCfg); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, ec)
	}
	if cc, err := mapCallConfig(newCfg); err != nil {
		a.log.Warn("invalid telnyx call settings; keeping previous", logx.Err(err))
	} else {
		a.calls.Apply(cc)
	}
	a.cron.Apply(mapCronConfig(newCfg))
	if slices.Contains(sections, "maintenance") || slices.Contains(sections, "storage") {
		if err := a.registerMaintenance(newCfg); err != nil {
			a.log.Warn("maintenance schedules not updated", logx.Err(err))
		}
	}

	a.log.Info("config reloaded", fields...)
}

// applyLogSink rebuilds the Telegram sender for the new target.
func (a *App) applyLogSink(cfg *config.Config) {
	if !cfg.Logging.Telegram.Enabled {
		a.logs.SetSender(nil)
		return
	}
	ts, err := telegram.New(mapTelegramConfig(cfg))
	if err != nil {
		a.log.Warn("telegram log sink unavailable", logx.Err(err))
		a.logs.SetSender(nil)
		return
	}
	a.logs.SetSender(ts)
}
