package config

import (
	"reflect"
	"sort"
	"strings"

	logx "dialajoke/pkg/logx"
)

// SummarizeConfigChange lists the changed top-level sections and returns
// log fields describing the new values. Secrets are reported only as
// "_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)
	section := func(name string, differ bool, fields ...logx.Field) {
		if differ {
			changed = append(changed, name)
			attrs = append(attrs, fields...)
		}
	}
	set := func(s string) bool { return strings.TrimSpace(s) != "" }

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	section("http", !reflect.DeepEqual(redactHTTP(oh), redactHTTP(nh)) || set(oh.Debug.Token) != set(nh.Debug.Token),
		logx.String("http.host", nh.Host),
		logx.Int("http.port", nh.Port),
		logx.Bool("http.debug", nh.Debug.Enabled),
		logx.Bool("http.debug_token_set", set(nh.Debug.Token)),
	)

	section("jokes", oldCfg.Jokes != newCfg.Jokes,
		logx.String("jokes.url", newCfg.Jokes.URL),
		logx.String("jokes.timeout", newCfg.Jokes.Timeout),
	)

	ot, nt := oldCfg.Telnyx, newCfg.Telnyx
	section("telnyx", redactTelnyx(ot) != redactTelnyx(nt) || ot.APIKey != nt.APIKey || ot.WebhookPublicKey != nt.WebhookPublicKey,
		logx.Bool("telnyx.api_key_set", set(nt.APIKey)),
		logx.Bool("telnyx.api_key_changed", ot.APIKey != nt.APIKey),
		logx.Bool("telnyx.webhook_key_set", set(nt.WebhookPublicKey)),
		logx.String("telnyx.voice", nt.Voice),
		logx.String("telnyx.language", nt.Language),
		logx.String("telnyx.speak_delay", nt.SpeakDelay),
	)

	section("phone", oldCfg.Phone != newCfg.Phone,
		logx.String("phone.default_region", newCfg.Phone.DefaultRegion),
		logx.String("phone.timezone", newCfg.Phone.Timezone),
	)

	section("scheduler", oldCfg.Scheduler != newCfg.Scheduler,
		logx.String("scheduler.dispatch_timeout", newCfg.Scheduler.DispatchTimeout),
		logx.String("scheduler.max_wait", newCfg.Scheduler.MaxWait),
		logx.Int("scheduler.history_size", newCfg.Scheduler.HistorySize),
	)

	ote, nte := derefTaskEngine(oldCfg.TaskEngine), derefTaskEngine(newCfg.TaskEngine)
	section("task_engine", (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || !reflect.DeepEqual(ote, nte),
		logx.Bool("task_engine.present", newCfg.TaskEngine != nil),
		logx.Int("task_engine.workers", nte.Workers),
		logx.Int("task_engine.queue_size", nte.QueueSize),
		logx.Int("task_engine.retry_max", nte.RetryMax),
	)

	section("maintenance", oldCfg.Maintenance != newCfg.Maintenance,
		logx.String("maintenance.prune_schedule", newCfg.Maintenance.PruneSchedule),
		logx.String("maintenance.report_schedule", newCfg.Maintenance.ReportSchedule),
	)

	ost, nst := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	section("storage", ost != nst,
		logx.String("storage.driver", nst.Driver),
		logx.Bool("storage.path_set", set(nst.Path)),
		logx.String("storage.retention", nst.Retention),
	)

	ol, nl := oldCfg.Logging, newCfg.Logging
	section("logging", ol != nl,
		logx.String("logging.level", nl.Level),
		logx.Bool("logging.console", nl.Console),
		logx.Bool("logging.file_enabled", nl.File.Enabled),
		logx.Bool("logging.telegram_enabled", nl.Telegram.Enabled),
	)

	og, ng := oldCfg.Telegram, newCfg.Telegram
	section("telegram", og != ng,
		logx.Bool("telegram.token_set", set(ng.Token)),
		logx.Int64("telegram.chat_id", ng.ChatID),
		logx.Int("telegram.thread_id", ng.ThreadID),
	)

	section("templates_dir", oldCfg.TemplatesDir != newCfg.TemplatesDir,
		logx.String("templates_dir", newCfg.TemplatesDir),
	)

	sort.Strings(changed)
	return changed, attrs
}

func redactHTTP(h HTTPConfig) HTTPConfig {
	h.Debug.Token = ""
	return h
}

func redactTelnyx(t TelnyxConfig) TelnyxConfig {
	t.APIKey = ""
	t.WebhookPublicKey = ""
	return t
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

func derefStorage(st *StorageConfig) StorageConfig {
	if st == nil {
		return StorageConfig{}
	}
	return *st
}
