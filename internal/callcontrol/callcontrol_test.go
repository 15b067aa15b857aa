package callcontrol

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dialajoke/internal/eventbus"
	"dialajoke/internal/storage"
	"dialajoke/internal/task/engine"
	"dialajoke/internal/telephony"
	logx "dialajoke/pkg/logx"
)

type fakeTelephony struct {
	mu      sync.Mutex
	dials   []telephony.DialRequest
	speaks  []telephony.SpeakRequest
	hangups []string
	dialErr error
	actErr  error
}

func (f *fakeTelephony) Dial(_ context.Context, req telephony.DialRequest) (telephony.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials = append(f.dials, req)
	if f.dialErr != nil {
		return telephony.Call{}, f.dialErr
	}
	return telephony.Call{CallControlID: "cc-" + req.To}, nil
}

func (f *fakeTelephony) Speak(_ context.Context, _ string, req telephony.SpeakRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speaks = append(f.speaks, req)
	return f.actErr
}

func (f *fakeTelephony) Hangup(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, id)
	return f.actErr
}

type staticJoke string

func (j staticJoke) Fetch(context.Context) (string, error) { return string(j), nil }

// inlineTasks runs tasks synchronously and keeps their errors.
type inlineTasks struct {
	names []string
	errs  []error
}

func (r *inlineTasks) Enqueue(t engine.Task) error {
	r.names = append(r.names, t.Name)
	r.errs = append(r.errs, t.Run(context.Background()))
	return nil
}

func newService(t *testing.T, tel *fakeTelephony, store storage.Store) (*Service, *inlineTasks, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	tasks := &inlineTasks{}
	cfg := Config{ConnectionID: "conn", SrcNumber: "+15550001111", SpeakDelay: -1}
	return New(cfg, tel, staticJoke("a joke"), tasks, store, logx.Nop(), bus), tasks, bus
}

func TestDispatchDialsFromConfiguredNumber(t *testing.T) {
	t.Parallel()

	tel := &fakeTelephony{}
	s, _, bus := newService(t, tel, nil)
	events, unsub := bus.Subscribe(4, "call.")
	defer unsub()

	req := CallRequest{ID: "req-1", To: "+15551234567"}
	if err := s.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("Dispatch error = %v", err)
	}
	want := telephony.DialRequest{ConnectionID: "conn", To: "+15551234567", From: "+15550001111"}
	if len(tel.dials) != 1 || tel.dials[0] != want {
		t.Fatalf("dials = %+v, want [%+v]", tel.dials, want)
	}
	ev := <-events
	if ev.Type != "call.dialed" {
		t.Fatalf("event = %q, want call.dialed", ev.Type)
	}
	if got := ev.Data.(CallEvent).CallControlID; got != "cc-+15551234567" {
		t.Fatalf("CallControlID = %q", got)
	}
}

func TestDispatchFailurePublishesAndReturns(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tel := &fakeTelephony{dialErr: boom}
	s, _, bus := newService(t, tel, nil)
	events, unsub := bus.Subscribe(4, "call.")
	defer unsub()

	if err := s.Dispatch(context.Background(), CallRequest{To: "+1"}); !errors.Is(err, boom) {
		t.Fatalf("Dispatch error = %v, want boom", err)
	}
	if ev := <-events; ev.Type != "call.dial_failed" {
		t.Fatalf("event = %q, want call.dial_failed", ev.Type)
	}
}

func TestWebhookFlow(t *testing.T) {
	t.Parallel()

	tel := &fakeTelephony{}
	s, tasks, _ := newService(t, tel, nil)
	ctx := context.Background()

	if err := s.Dispatch(ctx, CallRequest{ID: "r", To: "+15551234567"}); err != nil {
		t.Fatalf("Dispatch error = %v", err)
	}
	ccid := "cc-+15551234567"
	steps := []telephony.Event{
		{ID: "e1", Type: telephony.EventCallInitiated, CallControlID: ccid},
		{ID: "e2", Type: telephony.EventCallAnswered, CallControlID: ccid},
		{ID: "e3", Type: telephony.EventSpeakEnded, CallControlID: ccid},
		{ID: "e4", Type: telephony.EventCallHangup, CallControlID: ccid},
	}
	for _, ev := range steps {
		if err := s.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("HandleEvent(%s) error = %v", ev.Type, err)
		}
	}

	if len(tasks.names) != 2 || tasks.names[0] != "call.speak" || tasks.names[1] != "call.hangup" {
		t.Fatalf("tasks = %v, want [call.speak call.hangup]", tasks.names)
	}
	if len(tel.speaks) != 1 {
		t.Fatalf("speaks = %d, want 1", len(tel.speaks))
	}
	sp := tel.speaks[0]
	if sp.Payload != "a joke" || sp.Voice != "male" || sp.Language != "en-GB" {
		t.Fatalf("speak = %+v", sp)
	}
	if len(tel.hangups) != 1 || tel.hangups[0] != ccid {
		t.Fatalf("hangups = %v, want [%s]", tel.hangups, ccid)
	}
	if got := s.lookup(ccid, false); got.ID != "" {
		t.Fatalf("call still tracked after hangup: %+v", got)
	}
}

func TestDuplicateWebhookIgnored(t *testing.T) {
	t.Parallel()

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open error = %v", err)
	}
	defer st.Close()

	for _, store := range []storage.Store{nil, st} {
		tel := &fakeTelephony{}
		s, tasks, _ := newService(t, tel, store)
		ev := telephony.Event{ID: "dup", Type: telephony.EventSpeakEnded, CallControlID: "cc"}
		for i := 0; i < 3; i++ {
			if err := s.HandleEvent(context.Background(), ev); err != nil {
				t.Fatalf("HandleEvent error = %v", err)
			}
		}
		if len(tasks.names) != 1 {
			t.Fatalf("store=%v: tasks = %v, want one hangup", store != nil, tasks.names)
		}
	}
}

// countingTasks counts enqueued tasks from concurrent callers.
type countingTasks struct {
	mu    sync.Mutex
	names []string
}

func (c *countingTasks) Enqueue(t engine.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, t.Name)
	return nil
}

func TestConcurrentDuplicateWebhookHandledOnce(t *testing.T) {
	t.Parallel()

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open error = %v", err)
	}
	defer st.Close()

	tasks := &countingTasks{}
	cfg := Config{ConnectionID: "conn", SrcNumber: "+15550001111", SpeakDelay: -1}
	s := New(cfg, &fakeTelephony{}, staticJoke("a joke"), tasks, st, logx.Nop(), nil)

	ev := telephony.Event{ID: "same", Type: telephony.EventSpeakEnded, CallControlID: "cc"}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.HandleEvent(context.Background(), ev); err != nil {
				t.Errorf("HandleEvent error = %v", err)
			}
		}()
	}
	wg.Wait()

	if len(tasks.names) != 1 {
		t.Fatalf("tasks = %v, want one hangup", tasks.names)
	}
}

func TestTrackedCallsExpire(t *testing.T) {
	t.Parallel()

	s, _, _ := newService(t, &fakeTelephony{}, nil)
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	for _, to := range []string{"+15550000001", "+15550000002"} {
		if err := s.Dispatch(ctx, CallRequest{ID: to, To: to}); err != nil {
			t.Fatalf("Dispatch error = %v", err)
		}
	}
	if got := s.lookup("cc-+15550000001", false); got.ID != "+15550000001" {
		t.Fatalf("lookup = %+v, want tracked call", got)
	}

	now = now.Add(DefaultDedupTTL + time.Minute)
	if got := s.lookup("cc-+15550000001", false); got.ID != "" {
		t.Fatalf("lookup after ttl = %+v, want empty", got)
	}
	if err := s.Dispatch(ctx, CallRequest{ID: "third", To: "+15550000003"}); err != nil {
		t.Fatalf("Dispatch error = %v", err)
	}
	s.callsMu.Lock()
	n := len(s.calls)
	s.callsMu.Unlock()
	if n != 1 {
		t.Fatalf("tracked calls = %d, want 1", n)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		wantNoRetry bool
		wantAfter   time.Duration
	}{
		{name: "bad request", err: &telephony.APIError{Status: http.StatusUnprocessableEntity}, wantNoRetry: true},
		{name: "rate limited", err: &telephony.APIError{Status: http.StatusTooManyRequests, RetryAfter: 2 * time.Second}, wantAfter: 2 * time.Second},
		{name: "server error", err: &telephony.APIError{Status: http.StatusBadGateway}},
		{name: "no api key", err: telephony.ErrNoAPIKey, wantNoRetry: true},
		{name: "network", err: errors.New("connection reset")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := classify(tt.err)
			if engine.IsNoRetry(got) != tt.wantNoRetry {
				t.Fatalf("IsNoRetry = %v, want %v", engine.IsNoRetry(got), tt.wantNoRetry)
			}
			var ra engine.RetryAfterError
			gotAfter := time.Duration(0)
			if errors.As(got, &ra) {
				gotAfter = ra.RetryAfter()
			}
			if gotAfter != tt.wantAfter {
				t.Fatalf("RetryAfter = %v, want %v", gotAfter, tt.wantAfter)
			}
			if !errors.Is(got, tt.err) {
				t.Fatalf("classify lost the cause: %v", got)
			}
		})
	}
}

func TestActionFailureIsClassified(t *testing.T) {
	t.Parallel()

	tel := &fakeTelephony{actErr: &telephony.APIError{Status: http.StatusNotFound}}
	s, tasks, _ := newService(t, tel, nil)
	ev := telephony.Event{ID: "x", Type: telephony.EventSpeakEnded, CallControlID: "cc"}
	if err := s.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent error = %v", err)
	}
	if len(tasks.errs) != 1 || !engine.IsNoRetry(tasks.errs[0]) {
		t.Fatalf("task errs = %v, want one no-retry error", tasks.errs)
	}
}

func TestCallRequestString(t *testing.T) {
	t.Parallel()

	if got := (CallRequest{ID: "0123456789", To: "+1555"}).String(); got != "01234567:+1555" {
		t.Fatalf("String() = %q", got)
	}
	if got := (CallRequest{To: "+1555"}).String(); got != "+1555" {
		t.Fatalf("String() = %q", got)
	}
}
