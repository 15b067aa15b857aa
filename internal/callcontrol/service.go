package callcontrol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dialajoke/internal/eventbus"
	"dialajoke/internal/storage"
	"dialajoke/internal/task/engine"
	"dialajoke/internal/telephony"
	logx "dialajoke/pkg/logx"
)

// Enqueuer is the task engine as seen by call control.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

type Service struct {
	mu  sync.RWMutex
	cfg Config

	tel   Telephony
	jokes JokeSource
	tasks Enqueuer
	store storage.Store // nil when storage is disabled
	log   logx.Logger
	bus   eventbus.Bus

	// call_control_id -> request for calls still in progress
	callsMu sync.Mutex
	calls   map[string]trackedCall

	// serialises dedup checks; dedup is used when store is nil
	dedupMu sync.Mutex
	dedup   map[string]time.Time

	now func() time.Time
}

func New(cfg Config, tel Telephony, jokes JokeSource, tasks Enqueuer, store storage.Store, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg.withDefaults(),
		tel:   tel,
		jokes: jokes,
		tasks: tasks,
		store: store,
		log:   log,
		bus:   bus,
		calls: map[string]trackedCall{},
		dedup: map[string]time.Time{},
		now:   time.Now,
	}
}

// Apply swaps the runtime settings. Calls already in progress pick them up
// at their next step.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Dispatch places the call. It runs on the scheduler's drain loop.
func (s *Service) Dispatch(ctx context.Context, req CallRequest) error {
	cfg := s.config()
	start := s.now()
	call, err := s.tel.Dial(ctx, telephony.DialRequest{
		ConnectionID: cfg.ConnectionID,
		To:           req.To,
		From:         cfg.SrcNumber,
	})
	took := s.now().Sub(start)
	if err != nil {
		s.log.Warn("dial failed", logx.String("call_id", req.ID), logx.String("to", req.To), logx.Err(err))
		s.publish("call.dial_failed", CallEvent{CallID: req.ID, To: req.To, Event: "dial_failed", Took: took, Error: err.Error()})
		return err
	}

	if call.CallControlID != "" {
		s.track(call.CallControlID, req, cfg.DedupTTL)
	}
	s.log.Info("call dialed",
		logx.String("call_id", req.ID),
		logx.String("to", req.To),
		logx.String("call_control_id", call.CallControlID),
		logx.Duration("took", took),
	)
	s.publish("call.dialed", CallEvent{CallID: req.ID, To: req.To, CallControlID: call.CallControlID, Event: "dialed", Took: took})
	return nil
}

// HandleEvent reacts to a webhook. Duplicate deliveries (same event id) are
// ignored. The returned error only reports failure to hand the work off.
func (s *Service) HandleEvent(ctx context.Context, ev telephony.Event) error {
	dup, err := s.seen(ctx, ev.ID)
	if err != nil {
		s.log.Warn("webhook dedup failed", logx.String("event_id", ev.ID), logx.Err(err))
	}
	if dup {
		s.log.Debug("duplicate webhook ignored", logx.String("event_id", ev.ID), logx.String("type", ev.Type))
		return nil
	}

	req := s.lookup(ev.CallControlID, ev.Type == telephony.EventCallHangup)
	s.publish("call.webhook", CallEvent{CallID: req.ID, To: req.To, CallControlID: ev.CallControlID, Event: ev.Type})

	switch ev.Type {
	case telephony.EventCallAnswered:
		return s.enqueue("call.speak", ev.CallControlID, req, s.speak)
	case telephony.EventSpeakEnded:
		return s.enqueue("call.hangup", ev.CallControlID, req, s.hangup)
	default:
		s.log.Debug("webhook ignored", logx.String("type", ev.Type), logx.String("call_control_id", ev.CallControlID))
		return nil
	}
}

func (s *Service) enqueue(name, ccid string, req CallRequest, fn func(ctx context.Context, ccid string) error) error {
	err := s.tasks.Enqueue(engine.Task{
		Name: name,
		Key:  name + ":" + ccid,
		Run: func(ctx context.Context) error {
			start := s.now()
			err := fn(ctx, ccid)
			ev := CallEvent{CallID: req.ID, To: req.To, CallControlID: ccid, Took: s.now().Sub(start)}
			if err != nil {
				ev.Event, ev.Error = name+"_failed", err.Error()
				s.publish("call.action_failed", ev)
				return classify(err)
			}
			switch name {
			case "call.speak":
				ev.Event = "spoke"
				s.publish("call.spoke", ev)
			case "call.hangup":
				ev.Event = "hung_up"
				s.publish("call.hung_up", ev)
			}
			return nil
		},
		Opt: engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", name, err)
	}
	return nil
}

func (s *Service) speak(ctx context.Context, ccid string) error {
	cfg := s.config()
	joke, err := s.jokes.Fetch(ctx)
	if err != nil {
		return err
	}
	if cfg.SpeakDelay > 0 {
		t := time.NewTimer(cfg.SpeakDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	s.log.Debug("speaking joke", logx.String("call_control_id", ccid), logx.Int("chars", len(joke)))
	return s.tel.Speak(ctx, ccid, telephony.SpeakRequest{
		Payload:  joke,
		Voice:    cfg.Voice,
		Language: cfg.Language,
	})
}

func (s *Service) hangup(ctx context.Context, ccid string) error {
	return s.tel.Hangup(ctx, ccid)
}

type trackedCall struct {
	req   CallRequest
	until time.Time
}

// track remembers req for ccid until ttl passes, dropping expired entries
// whose hangup webhook never arrived.
func (s *Service) track(ccid string, req CallRequest, ttl time.Duration) {
	now := s.now()
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	for k, c := range s.calls {
		if !c.until.After(now) {
			delete(s.calls, k)
		}
	}
	s.calls[ccid] = trackedCall{req: req, until: now.Add(ttl)}
}

// lookup returns the request that created the call, if known.
func (s *Service) lookup(ccid string, forget bool) CallRequest {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	c, ok := s.calls[ccid]
	if forget {
		delete(s.calls, ccid)
	}
	if !ok || !c.until.After(s.now()) {
		return CallRequest{}
	}
	return c.req
}

// seen records id and reports whether it was already recorded and not
// expired.
func (s *Service) seen(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}
	now := s.now()
	until := now.Add(s.config().DedupTTL)
	key := "webhook:" + id

	s.dedupMu.Lock()
	defer s.dedupMu.Unlock()
	if s.store != nil {
		prev, ok, err := s.store.GetDedup(ctx, key)
		if err != nil {
			return false, err
		}
		if ok && prev.After(now) {
			return true, nil
		}
		return false, s.store.PutDedup(ctx, key, until)
	}

	if prev, ok := s.dedup[key]; ok && prev.After(now) {
		return true, nil
	}
	for k, v := range s.dedup {
		if !v.After(now) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = until
	return false, nil
}

func (s *Service) publish(typ string, ev CallEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

// classify maps telephony failures onto engine retry semantics: rate limits
// and server errors retry (honouring Retry-After), other API errors do not.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, telephony.ErrNoAPIKey) {
		return engine.NoRetry(err)
	}
	var apiErr *telephony.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if !apiErr.Temporary() {
		return engine.NoRetry(err)
	}
	if apiErr.RetryAfter > 0 {
		return engine.RetryAfter(err, apiErr.RetryAfter)
	}
	return err
}
