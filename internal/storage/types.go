package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config selects a backend.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database at Path (modernc.org/sqlite, no cgo)
//
// An empty Driver or "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only
}

// CallRecord is one entry of the call history: a dial attempt or a
// telephony event for a call.
type CallRecord struct {
	At            time.Time `json:"at"`
	CallID        string    `json:"call_id"`
	To            string    `json:"to,omitempty"`
	Event         string    `json:"event"`
	CallControlID string    `json:"call_control_id,omitempty"`
	Error         string    `json:"error,omitempty"`
	TookMS        int64     `json:"took_ms,omitempty"`
}

// Store persists call history and webhook dedup keys. Pending scheduled
// calls are never stored.
type Store interface {
	AppendCall(ctx context.Context, r CallRecord) error
	// RecentCalls returns up to limit records, newest first.
	RecentCalls(ctx context.Context, limit int) ([]CallRecord, error)
	// PruneCalls deletes records older than before and reports how many.
	PruneCalls(ctx context.Context, before time.Time) (int, error)
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}
