package app

import (
	"context"
	"time"

	"dialajoke/internal/callcontrol"
	"dialajoke/internal/eventbus"
	"dialajoke/internal/storage"
	"dialajoke/internal/task/scheduler"
	logx "dialajoke/pkg/logx"
)

// startRecorder turns call.* events into call history and debug-logs
// dispatch and task events.
func (a *App) startRecorder() {
	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("events.record", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.recordEvent(c, e)
			}
		}
	})
}

func (a *App) recordEvent(ctx context.Context, e eventbus.Event) {
	switch ev := e.Data.(type) {
	case callcontrol.CallEvent:
		if a.store == nil {
			a.log.Debug("call event", logx.String("type", e.Type), logx.String("call_id", ev.CallID))
			return
		}
		rec := callRecordFromEvent(e.Type, e.Time, ev)
		wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := a.store.AppendCall(wctx, rec)
		cancel()
		if err != nil {
			a.log.Warn("call history write failed", logx.String("type", e.Type), logx.Err(err))
		}
	case scheduler.DispatchEvent:
		a.log.Debug("dispatch",
			logx.String("type", e.Type),
			logx.String("label", ev.Label),
			logx.Duration("lateness", ev.Lateness),
			logx.Duration("took", ev.Duration),
			logx.String("error", ev.Error),
		)
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

// callRecordFromEvent stores webhook events under their telephony type
// ("call.answered") and everything else under the bus type.
func callRecordFromEvent(typ string, at time.Time, ev callcontrol.CallEvent) storage.CallRecord {
	event := typ
	if typ == "call.webhook" && ev.Event != "" {
		event = ev.Event
	}
	return storage.CallRecord{
		At:            at,
		CallID:        ev.CallID,
		To:            ev.To,
		Event:         event,
		CallControlID: ev.CallControlID,
		Error:         ev.Error,
		TookMS:        ev.Took.Milliseconds(),
	}
}
