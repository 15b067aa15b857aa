package scheduler

import (
	"context"
	"time"
)

const (
	DefaultDispatchTimeout = 30 * time.Second
	DefaultEpsilon         = time.Microsecond
	DefaultMaxWait         = time.Minute
	DefaultHistorySize     = 100
)

// Config tunes a Service. Zero values pick the defaults above; a negative
// DispatchTimeout disables the per-dispatch deadline.
type Config struct {
	DispatchTimeout time.Duration
	Epsilon         time.Duration
	// MaxWait caps a single timer arm so wall-clock jumps are picked up on
	// the next wake.
	MaxWait     time.Duration
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.DispatchTimeout == 0 {
		c.DispatchTimeout = DefaultDispatchTimeout
	}
	if c.Epsilon <= 0 {
		c.Epsilon = DefaultEpsilon
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

// Handler performs the action for one payload.
type Handler[T any] interface {
	Dispatch(ctx context.Context, payload T) error
}

type HandlerFunc[T any] func(ctx context.Context, payload T) error

func (f HandlerFunc[T]) Dispatch(ctx context.Context, payload T) error { return f(ctx, payload) }

// Pending is a queued payload as returned by Service.Pending.
type Pending[T any] struct {
	Deadline time.Time
	Seq      uint64
	Payload  T
}

// DispatchEvent describes one completed dispatch. It is published on the
// bus as "dispatch.ok" or "dispatch.failed".
type DispatchEvent struct {
	Seq      uint64        `json:"seq"`
	Label    string        `json:"label,omitempty"`
	Deadline time.Time     `json:"deadline"`
	Started  time.Time     `json:"started"`
	Lateness time.Duration `json:"lateness"`
	Duration time.Duration `json:"duration"`
	Cycle    uint64        `json:"cycle"`
	Error    string        `json:"error,omitempty"`
}

type Snapshot struct {
	Running         bool            `json:"running"`
	Pending         int             `json:"pending"`
	InFlight        int             `json:"in_flight"`
	Armed           bool            `json:"armed"`
	ArmedAt         time.Time       `json:"armed_at,omitempty"`
	Dispatched      uint64          `json:"dispatched"`
	Failed          uint64          `json:"failed"`
	TimedOut        uint64          `json:"timed_out"`
	Panicked        uint64          `json:"panicked"`
	Cycles          uint64          `json:"cycles"`
	DispatchTimeout time.Duration   `json:"dispatch_timeout"`
	History         []DispatchEvent `json:"history"`
}
