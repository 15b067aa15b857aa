package web

import (
	"context"
	"time"

	"dialajoke/internal/callcontrol"
	"dialajoke/internal/storage"
	"dialajoke/internal/task/scheduler"
	"dialajoke/internal/telephony"
)

const (
	defaultAddr         = "127.0.0.1:8080"
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 60 * time.Second
	defaultHistoryLimit = 20
)

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	TemplatesDir string
	// DefaultRegion is used for numbers without a leading '+'.
	DefaultRegion string
	// Location reads the date and time form fields. nil means time.Local.
	Location *time.Location
	Hostname string

	// WebhookPublicKey enables signature checks when set (base64 ed25519).
	WebhookPublicKey string
	WebhookTolerance time.Duration

	HistoryLimit int
	Debug        DebugConfig
}

// DebugConfig mounts net/http/pprof. A non-loopback Addr requires Token.
type DebugConfig struct {
	Enabled bool
	Prefix  string
	Token   string
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.TemplatesDir == "" {
		c.TemplatesDir = "templates"
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
	return c
}

// Scheduler is the dispatch scheduler holding pending calls.
type Scheduler interface {
	Put(req callcontrol.CallRequest, deadline time.Time) error
	Pending() []scheduler.Pending[callcontrol.CallRequest]
}

type EventHandler interface {
	HandleEvent(ctx context.Context, ev telephony.Event) error
}

// History lists past calls. It is optional.
type History interface {
	RecentCalls(ctx context.Context, limit int) ([]storage.CallRecord, error)
}

type Deps struct {
	Scheduler Scheduler
	Calls     EventHandler
	History   History
}
