package callcontrol

import (
	"context"
	"time"

	"dialajoke/internal/telephony"
)

const (
	DefaultSpeakDelay = 500 * time.Millisecond
	DefaultDedupTTL   = 24 * time.Hour
)

// CallRequest is the payload queued in the dispatch scheduler.
type CallRequest struct {
	ID        string    `json:"id"`
	To        string    `json:"to"`
	CreatedAt time.Time `json:"created_at"`
}

// String labels dispatch events and logs.
func (r CallRequest) String() string {
	if r.ID == "" {
		return r.To
	}
	short := r.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return short + ":" + r.To
}

type Config struct {
	ConnectionID string
	SrcNumber    string

	Voice      string
	Language   string
	SpeakDelay time.Duration

	// DedupTTL is how long a webhook event id is remembered.
	DedupTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Voice == "" {
		c.Voice = telephony.DefaultVoice
	}
	if c.Language == "" {
		c.Language = telephony.DefaultLanguage
	}
	// A negative SpeakDelay speaks immediately.
	if c.SpeakDelay == 0 {
		c.SpeakDelay = DefaultSpeakDelay
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = DefaultDedupTTL
	}
	return c
}

// Telephony is the subset of *telephony.Client used here.
type Telephony interface {
	Dial(ctx context.Context, req telephony.DialRequest) (telephony.Call, error)
	Speak(ctx context.Context, callControlID string, req telephony.SpeakRequest) error
	Hangup(ctx context.Context, callControlID string) error
}

type JokeSource interface {
	Fetch(ctx context.Context) (string, error)
}

// CallEvent is published on the bus as call.dialed, call.dial_failed,
// call.webhook, call.spoke, call.hung_up or call.action_failed.
type CallEvent struct {
	CallID        string        `json:"call_id,omitempty"`
	To            string        `json:"to,omitempty"`
	CallControlID string        `json:"call_control_id,omitempty"`
	Event         string        `json:"event"`
	Took          time.Duration `json:"took,omitempty"`
	Error         string        `json:"error,omitempty"`
}
