package config

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Validate reports every problem at once so an operator can fix the file in
// one pass.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	var errs *multierror.Error
	add := func(err error) {
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	require := func(path, v string) {
		if strings.TrimSpace(v) == "" {
			add(fmt.Errorf("%s is required", path))
		}
	}
	duration := func(path, v string) {
		_, err := ParseDurationField(path, v)
		add(err)
	}

	if cfg.HTTP.Port < 0 || cfg.HTTP.Port > 65535 {
		add(fmt.Errorf("http.port out of range: %d", cfg.HTTP.Port))
	}
	duration("http.read_timeout", cfg.HTTP.ReadTimeout)
	duration("http.write_timeout", cfg.HTTP.WriteTimeout)
	duration("http.idle_timeout", cfg.HTTP.IdleTimeout)

	require("jokes.url", cfg.Jokes.URL)
	duration("jokes.timeout", cfg.Jokes.Timeout)

	require("telnyx.api_key", cfg.Telnyx.APIKey)
	require("telnyx.connection_id", cfg.Telnyx.ConnectionID)
	require("telnyx.src_number", cfg.Telnyx.SrcNumber)
	duration("telnyx.timeout", cfg.Telnyx.Timeout)
	if !IsOff(cfg.Telnyx.SpeakDelay) {
		duration("telnyx.speak_delay", cfg.Telnyx.SpeakDelay)
	}
	duration("telnyx.webhook_tolerance", cfg.Telnyx.WebhookTolerance)
	if cfg.Telnyx.RatePerSec < 0 {
		add(fmt.Errorf("telnyx.rate_per_sec must be >= 0"))
	}
	if k := strings.TrimSpace(cfg.Telnyx.WebhookPublicKey); k != "" {
		if b, err := base64.StdEncoding.DecodeString(k); err != nil || len(b) != 32 {
			add(fmt.Errorf("telnyx.webhook_public_key must be a base64 ed25519 public key"))
		}
	}

	if !IsOff(cfg.Scheduler.DispatchTimeout) {
		duration("scheduler.dispatch_timeout", cfg.Scheduler.DispatchTimeout)
	}
	duration("scheduler.epsilon", cfg.Scheduler.Epsilon)
	duration("scheduler.max_wait", cfg.Scheduler.MaxWait)

	if te := cfg.TaskEngine; te != nil {
		duration("task_engine.default_timeout", te.DefaultTimeout)
		duration("task_engine.max_queue_delay", te.MaxQueueDelay)
		duration("task_engine.circuit_base_delay", te.CircuitBaseDelay)
		duration("task_engine.circuit_max_delay", te.CircuitMaxDelay)
		if te.Workers < 0 || te.QueueSize < 0 {
			add(fmt.Errorf("task_engine.workers and queue_size must be >= 0"))
		}
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			require("storage.path", st.Path)
		default:
			add(fmt.Errorf("storage.driver unknown: %q", st.Driver))
		}
		duration("storage.busy_timeout", st.BusyTimeout)
		duration("storage.retention", st.Retention)
	}

	if cfg.Logging.Telegram.Enabled {
		require("telegram.token", cfg.Telegram.Token)
		if cfg.Telegram.ChatID == 0 {
			add(fmt.Errorf("telegram.chat_id is required when logging.telegram.enabled"))
		}
	}
	return errs.ErrorOrNil()
}

// ValidateFunc adapts Validate to ConfigManager.SetValidator.
func ValidateFunc(ctx context.Context, cfg *Config) error { return Validate(cfg) }

// IsOff reports whether a duration field is set to disable its feature
// ("off", "none" or "disabled").
func IsOff(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "off", "none", "disabled":
		return true
	}
	return false
}
