package telephony

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	EventCallInitiated = "call.initiated"
	EventCallAnswered  = "call.answered"
	EventSpeakStarted  = "call.speak.started"
	EventSpeakEnded    = "call.speak.ended"
	EventCallHangup    = "call.hangup"
)

const maxEventBody = 1 << 20

// Event is the subset of a Telnyx webhook the app acts on.
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"event_type"`
	OccurredAt    time.Time `json:"occurred_at"`
	CallControlID string    `json:"call_control_id"`
	CallLegID     string    `json:"call_leg_id,omitempty"`
	To            string    `json:"to,omitempty"`
	From          string    `json:"from,omitempty"`
}

type webhookEnvelope struct {
	Data struct {
		ID         string    `json:"id"`
		EventType  string    `json:"event_type"`
		OccurredAt time.Time `json:"occurred_at"`
		Payload    struct {
			CallControlID string `json:"call_control_id"`
			CallLegID     string `json:"call_leg_id"`
			To            string `json:"to"`
			From          string `json:"from"`
		} `json:"payload"`
	} `json:"data"`
}

// ParseEvent decodes a webhook body. event_type and call_control_id are
// required.
func ParseEvent(r io.Reader) (Event, error) {
	var env webhookEnvelope
	if err := json.NewDecoder(io.LimitReader(r, maxEventBody)).Decode(&env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	d := env.Data
	ev := Event{
		ID:            strings.TrimSpace(d.ID),
		Type:          strings.TrimSpace(d.EventType),
		OccurredAt:    d.OccurredAt,
		CallControlID: strings.TrimSpace(d.Payload.CallControlID),
		CallLegID:     d.Payload.CallLegID,
		To:            d.Payload.To,
		From:          d.Payload.From,
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing data.event_type", ErrInvalidEvent)
	}
	if ev.CallControlID == "" {
		return Event{}, fmt.Errorf("%w: missing data.payload.call_control_id", ErrInvalidEvent)
	}
	return ev, nil
}
