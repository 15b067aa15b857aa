package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the task engine. It executes follow-up work that must not
// block its caller: call-control actions triggered by webhooks and
// maintenance jobs triggered by cron.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout applies when Task.Timeout is 0.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops tasks that waited in the queue longer than this.
	// 0 disables stale dropping.
	MaxQueueDelay time.Duration

	HistorySize int
	RetryMax    int

	// Consecutive-failure circuit breaker, keyed by task name.
	// CircuitTripFailures < 0 disables it; 0 picks the default.
	CircuitTripFailures int
	CircuitBaseDelay    time.Duration
	CircuitMaxDelay     time.Duration
	CircuitResetAfter   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	// A negative RetryMax disables retries.
	if c.RetryMax == 0 {
		c.RetryMax = 3
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	if c.CircuitTripFailures == 0 {
		c.CircuitTripFailures = 5
	}
	if c.CircuitBaseDelay <= 0 {
		c.CircuitBaseDelay = 5 * time.Second
	}
	if c.CircuitMaxDelay <= 0 {
		c.CircuitMaxDelay = 2 * time.Minute
	}
	if c.CircuitResetAfter <= 0 {
		c.CircuitResetAfter = 5 * time.Minute
	}
	return c
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	// OverlapSkipIfRunning skips a task while another one with the same key
	// is queued or running.
	OverlapSkipIfRunning
)

type TaskOptions struct {
	Overlap       OverlapPolicy
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%

	// CircuitTripFailures overrides the engine threshold for this task.
	// < 0 disables the breaker for it.
	CircuitTripFailures int
}

func (o TaskOptions) withDefaults(cfg Config) TaskOptions {
	if o.RetryMax == 0 {
		o.RetryMax = cfg.RetryMax
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 15 * time.Second
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = 0.2
	}
	return o
}

// runState gates OverlapSkipIfRunning.
type runState struct {
	mu   sync.Mutex
	busy bool
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *runState) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// Task is a unit of work. Key groups tasks for the overlap policy and
// defaults to Name.
type Task struct {
	ID      string
	Name    string
	Key     string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
}

type HistoryItem struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// TaskEvent is published as task.started, task.finished, task.failed,
// task.skipped or task.dropped.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

type Snapshot struct {
	Enabled          bool          `json:"enabled"`
	Workers          int           `json:"workers"`
	QueueLen         int           `json:"queue_len"`
	QueueCap         int           `json:"queue_cap"`
	InFlight         int           `json:"in_flight"`
	Dropped          uint64        `json:"dropped"`
	DroppedQueueFull uint64        `json:"dropped_queue_full"`
	DroppedStale     uint64        `json:"dropped_stale"`
	DefaultTimeout   time.Duration `json:"default_timeout"`
	RetryMax         int           `json:"retry_max"`
	CircuitTotal     int           `json:"circuit_total"`
	CircuitOpen      int           `json:"circuit_open"`
	History          []HistoryItem `json:"history"`
}
