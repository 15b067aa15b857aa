package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("500ms", "30s", "24h").
type Config struct {
	HTTP        HTTPConfig        `json:"http"`
	Jokes       JokesConfig       `json:"jokes"`
	Telnyx      TelnyxConfig      `json:"telnyx"`
	Phone       PhoneConfig       `json:"phone"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	TaskEngine  *TaskEngineConfig `json:"task_engine,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Logging     LoggingConfig     `json:"logging"`
	Telegram    TelegramConfig    `json:"telegram"`

	// TemplatesDir holds index.html. Defaults to "templates".
	TemplatesDir string `json:"templates_dir,omitempty"`
}

type HTTPConfig struct {
	Host         string      `json:"host"`
	Port         int         `json:"port"`
	ReadTimeout  string      `json:"read_timeout,omitempty"`
	WriteTimeout string      `json:"write_timeout,omitempty"`
	IdleTimeout  string      `json:"idle_timeout,omitempty"`
	Debug        DebugConfig `json:"debug,omitempty"`
}

// DebugConfig mounts net/http/pprof under Prefix. A non-loopback listener
// requires Token.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Prefix  string `json:"prefix,omitempty"`
	Token   string `json:"token,omitempty"`
}

type JokesConfig struct {
	URL     string `json:"url"`
	Timeout string `json:"timeout,omitempty"`
}

type TelnyxConfig struct {
	APIKey       string  `json:"api_key"`
	ConnectionID string  `json:"connection_id"`
	SrcNumber    string  `json:"src_number"`
	BaseURL      string  `json:"base_url,omitempty"`
	Timeout      string  `json:"timeout,omitempty"`
	RatePerSec   float64 `json:"rate_per_sec,omitempty"`

	Voice      string `json:"voice,omitempty"`
	Language   string `json:"language,omitempty"`
	SpeakDelay string `json:"speak_delay,omitempty"`

	// WebhookPublicKey is the base64 ed25519 key from the Telnyx portal.
	// Empty disables signature checks.
	WebhookPublicKey string `json:"webhook_public_key,omitempty"`
	WebhookTolerance string `json:"webhook_tolerance,omitempty"`
}

type PhoneConfig struct {
	// DefaultRegion is a CLDR region ("US", "GB") for numbers without a
	// leading '+'. Empty requires E.164 input.
	DefaultRegion string `json:"default_region,omitempty"`
	// Timezone used to read the date/time form fields. Empty means Local.
	Timezone string `json:"timezone,omitempty"`
}

// SchedulerConfig tunes the call dispatch scheduler.
type SchedulerConfig struct {
	DispatchTimeout string `json:"dispatch_timeout,omitempty"`
	Epsilon         string `json:"epsilon,omitempty"`
	MaxWait         string `json:"max_wait,omitempty"`
	HistorySize     int    `json:"history_size,omitempty"`
}

// TaskEngineConfig controls the worker pool running call-control actions
// and maintenance jobs. Enabled defaults to true when omitted.
type TaskEngineConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`

	CircuitTripFailures int    `json:"circuit_trip_failures,omitempty"`
	CircuitBaseDelay    string `json:"circuit_base_delay,omitempty"`
	CircuitMaxDelay     string `json:"circuit_max_delay,omitempty"`
}

type MaintenanceConfig struct {
	// PruneSchedule drops call history older than storage.retention.
	PruneSchedule string `json:"prune_schedule,omitempty"`
	// ReportSchedule logs a scheduler snapshot at debug level.
	ReportSchedule string `json:"report_schedule,omitempty"`
}

// StorageConfig enables call history. Nil or an empty driver disables it.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	Retention   string `json:"retention,omitempty"`
}

type LoggingConfig struct {
	Level    string            `json:"level"`
	Console  bool              `json:"console"`
	File     LogFileConfig     `json:"file"`
	Telegram LogTelegramConfig `json:"telegram"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LogTelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// TelegramConfig is the bot used as a log sink.
type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}
