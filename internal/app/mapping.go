package app

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"dialajoke/internal/callcontrol"
	"dialajoke/internal/config"
	"dialajoke/internal/storage"
	"dialajoke/internal/task/cron"
	"dialajoke/internal/task/engine"
	"dialajoke/internal/task/scheduler"
	"dialajoke/internal/telephony"
	"dialajoke/internal/transport/telegram"
	"dialajoke/internal/web"
	logx "dialajoke/pkg/logx"
)

const (
	defaultHTTPHost      = "127.0.0.1"
	defaultHTTPPort      = 8080
	defaultPruneSchedule = "@daily"
	defaultSQLiteBusy    = time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:    strings.TrimSpace(cfg.Telegram.Token),
		ChatID:   cfg.Telegram.ChatID,
		ThreadID: cfg.Telegram.ThreadID,
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultSQLiteBusy)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapRetention(cfg *config.Config) (time.Duration, error) {
	if cfg.Storage == nil {
		return 0, nil
	}
	return config.ParseDurationField("storage.retention", cfg.Storage.Retention)
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	var out scheduler.Config
	if config.IsOff(sc.DispatchTimeout) {
		out.DispatchTimeout = -1
	} else {
		d, err := config.ParseDurationField("scheduler.dispatch_timeout", sc.DispatchTimeout)
		if err != nil {
			return scheduler.Config{}, err
		}
		out.DispatchTimeout = d
	}
	var err error
	if out.Epsilon, err = config.ParseDurationField("scheduler.epsilon", sc.Epsilon); err != nil {
		return scheduler.Config{}, err
	}
	if out.MaxWait, err = config.ParseDurationField("scheduler.max_wait", sc.MaxWait); err != nil {
		return scheduler.Config{}, err
	}
	out.HistorySize = sc.HistorySize
	return out, nil
}

// mapTaskEngineConfig resolves task_engine. Call control runs on the
// engine, so it cannot be disabled.
func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{Enabled: true}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Enabled != nil && !*te.Enabled {
		return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false: call control runs on the task engine")
	}
	if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 {
		return engine.Config{}, fmt.Errorf("task_engine.workers, queue_size and history_size must be >= 0")
	}
	out.Workers = te.Workers
	out.QueueSize = te.QueueSize
	out.HistorySize = te.HistorySize
	out.RetryMax = te.RetryMax
	out.CircuitTripFailures = te.CircuitTripFailures

	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	if out.CircuitBaseDelay, err = config.ParseDurationField("task_engine.circuit_base_delay", te.CircuitBaseDelay); err != nil {
		return engine.Config{}, err
	}
	if out.CircuitMaxDelay, err = config.ParseDurationField("task_engine.circuit_max_delay", te.CircuitMaxDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

func mapTelephonyConfig(cfg *config.Config) (telephony.Config, error) {
	t := cfg.Telnyx
	timeout, err := config.ParseDurationField("telnyx.timeout", t.Timeout)
	if err != nil {
		return telephony.Config{}, err
	}
	return telephony.Config{
		APIKey:     t.APIKey,
		BaseURL:    t.BaseURL,
		Timeout:    timeout,
		RatePerSec: t.RatePerSec,
	}, nil
}

func mapCallConfig(cfg *config.Config) (callcontrol.Config, error) {
	t := cfg.Telnyx
	out := callcontrol.Config{
		ConnectionID: strings.TrimSpace(t.ConnectionID),
		SrcNumber:    strings.TrimSpace(t.SrcNumber),
		Voice:        strings.TrimSpace(t.Voice),
		Language:     strings.TrimSpace(t.Language),
	}
	if config.IsOff(t.SpeakDelay) {
		out.SpeakDelay = -1
		return out, nil
	}
	d, err := config.ParseDurationField("telnyx.speak_delay", t.SpeakDelay)
	if err != nil {
		return callcontrol.Config{}, err
	}
	out.SpeakDelay = d
	return out, nil
}

func mapLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Phone.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("phone.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func mapWebConfig(cfg *config.Config) (web.Config, error) {
	h := cfg.HTTP
	host := strings.TrimSpace(h.Host)
	if host == "" {
		host = defaultHTTPHost
	}
	port := h.Port
	if port == 0 {
		port = defaultHTTPPort
	}
	loc, err := mapLocation(cfg)
	if err != nil {
		return web.Config{}, err
	}
	out := web.Config{
		Addr:             net.JoinHostPort(host, strconv.Itoa(port)),
		TemplatesDir:     strings.TrimSpace(cfg.TemplatesDir),
		DefaultRegion:    strings.TrimSpace(cfg.Phone.DefaultRegion),
		Location:         loc,
		Hostname:         config.Hostname(),
		WebhookPublicKey: strings.TrimSpace(cfg.Telnyx.WebhookPublicKey),
		Debug: web.DebugConfig{
			Enabled: h.Debug.Enabled,
			Prefix:  h.Debug.Prefix,
			Token:   h.Debug.Token,
		},
	}
	if out.ReadTimeout, err = config.ParseDurationField("http.read_timeout", h.ReadTimeout); err != nil {
		return web.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("http.write_timeout", h.WriteTimeout); err != nil {
		return web.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationField("http.idle_timeout", h.IdleTimeout); err != nil {
		return web.Config{}, err
	}
	if out.WebhookTolerance, err = config.ParseDurationField("telnyx.webhook_tolerance", cfg.Telnyx.WebhookTolerance); err != nil {
		return web.Config{}, err
	}
	return out, nil
}

func mapCronConfig(cfg *config.Config) cron.Config {
	return cron.Config{Timezone: strings.TrimSpace(cfg.Phone.Timezone)}
}

// validateMapped runs every mapper so a reload is rejected before it is
// committed.
func validateMapped(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTelephonyConfig(cfg); err != nil {
		return err
	}
	if _, err := mapCallConfig(cfg); err != nil {
		return err
	}
	if _, err := mapWebConfig(cfg); err != nil {
		return err
	}
	for _, sched := range []struct{ path, spec string }{
		{"maintenance.prune_schedule", cfg.Maintenance.PruneSchedule},
		{"maintenance.report_schedule", cfg.Maintenance.ReportSchedule},
	} {
		if strings.TrimSpace(sched.spec) == "" {
			continue
		}
		if _, err := cron.ParseSchedule(sched.spec); err != nil {
			return fmt.Errorf("%s: %w", sched.path, err)
		}
	}
	return nil
}
