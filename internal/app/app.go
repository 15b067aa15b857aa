package app

import (
	"context"
	"fmt"
	"time"

	"dialajoke/internal/callcontrol"
	"dialajoke/internal/config"
	"dialajoke/internal/eventbus"
	"dialajoke/internal/jokes"
	"dialajoke/internal/runtime/supervisor"
	"dialajoke/internal/storage"
	"dialajoke/internal/task/cron"
	"dialajoke/internal/task/engine"
	"dialajoke/internal/task/scheduler"
	"dialajoke/internal/telephony"
	"dialajoke/internal/transport/telegram"
	"dialajoke/internal/web"
	logx "dialajoke/pkg/logx"

	"github.com/hashicorp/go-multierror"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine *engine.Service
	sched  *scheduler.Service[callcontrol.CallRequest]
	cron   *cron.Service
	calls  *callcontrol.Service
	web    *web.Service
}

// NewApp loads and validates the config at cfgPath and builds every
// service. Nothing runs until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateMapped(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logCfg := mapLogConfig(cfg)
	var sender logx.Sender
	if logCfg.Telegram.Enabled {
		ts, err := telegram.New(mapTelegramConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("telegram log sink: %w", err)
		}
		sender = ts
	}
	logSvc, root := logx.New(logCfg, sender)
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	engineSvc := engine.New(engCfg, root.With(logx.String("comp", "taskengine")), bus)

	telCfg, err := mapTelephonyConfig(cfg)
	if err != nil {
		return nil, err
	}
	tel := telephony.New(telCfg, nil, root.With(logx.String("comp", "telephony")))

	jokesTimeout, err := config.ParseDurationField("jokes.timeout", cfg.Jokes.Timeout)
	if err != nil {
		return nil, err
	}
	jokeSrc := jokes.New(cfg.Jokes.URL, jokesTimeout, nil)

	callCfg, err := mapCallConfig(cfg)
	if err != nil {
		return nil, err
	}
	calls := callcontrol.New(callCfg, tel, jokeSrc, engineSvc, store, root.With(logx.String("comp", "callcontrol")), bus)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New[callcontrol.CallRequest](schedCfg, calls, root.With(logx.String("comp", "scheduler")), bus)

	cronSvc := cron.New(mapCronConfig(cfg), engineSvc, root.With(logx.String("comp", "cron")))

	webCfg, err := mapWebConfig(cfg)
	if err != nil {
		return nil, err
	}
	deps := web.Deps{Scheduler: sched, Calls: calls}
	if store != nil {
		deps.History = store
	}
	webSvc, err := web.New(webCfg, deps, nil, root.With(logx.String("comp", "http")))
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		engine:  engineSvc,
		sched:   sched,
		cron:    cronSvc,
		calls:   calls,
		web:     webSvc,
	}
	if err := a.registerMaintenance(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// CheckConfig parses and validates the config at cfgPath without building
// any service.
func CheckConfig(cfgPath string) error {
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		return err
	}
	return validateMapped(cfg)
}

// Done is closed when the app supervisor context is canceled (fatal error
// or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateMapped(cfg)
	})

	// Engine first: call control and cron enqueue into it.
	a.engine.Start(runCtx)
	a.sched.Start(runCtx)
	a.cron.Start(runCtx)
	a.web.Start(runCtx)

	a.startRecorder()
	a.startReloader()
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.startSystemd()

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// Stop shuts services down in dependency order. Each step is bounded so one
// component cannot stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping(a.log)
	a.sup.Cancel()

	var errs *multierror.Error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		if err := a.runStopStep(ctx, name, limit, fn); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("http", 3*time.Second, func(c context.Context) error { a.web.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("cron", time.Second, func(c context.Context) error { a.cron.Stop(c); return nil })
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errs.ErrorOrNil()
}

func (a *App) runStopStep(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	stepCtx := ctx
	if limit > 0 {
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, max(time.Until(dl), 0))
		}
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		} else if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return err
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline",
				logx.String("name", name),
				logx.Duration("took", time.Since(start)),
				logx.Err(err),
			)
		}()
		return stepCtx.Err()
	}
}
