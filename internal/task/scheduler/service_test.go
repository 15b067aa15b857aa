package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"dialajoke/internal/eventbus"
	logx "dialajoke/pkg/logx"
)

func startService(t *testing.T, cfg Config, h Handler[string]) (*Service[string], eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	s := New[string](cfg, h, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func recordingHandler(buf int) (Handler[string], <-chan string) {
	ch := make(chan string, buf)
	return HandlerFunc[string](func(ctx context.Context, p string) error {
		ch <- p
		return nil
	}), ch
}

func receive(t *testing.T, ch <-chan string, n int, within time.Duration) []string {
	t.Helper()
	out := make([]string, 0, n)
	timer := time.NewTimer(within)
	defer timer.Stop()
	for len(out) < n {
		select {
		case p := <-ch:
			out = append(out, p)
		case <-timer.C:
			t.Fatalf("received %v, want %d items within %v", out, n, within)
		}
	}
	return out
}

func receiveEvents(t *testing.T, ch <-chan eventbus.Event, n int, within time.Duration) []DispatchEvent {
	t.Helper()
	out := make([]DispatchEvent, 0, n)
	timer := time.NewTimer(within)
	defer timer.Stop()
	for len(out) < n {
		select {
		case e := <-ch:
			out = append(out, e.Data.(DispatchEvent))
		case <-timer.C:
			t.Fatalf("received %d dispatch events, want %d within %v", len(out), n, within)
		}
	}
	return out
}

func TestDispatchOrderByDeadlineThenInsertion(t *testing.T) {
	t.Parallel()
	h, got := recordingHandler(8)
	s, _ := startService(t, Config{}, h)

	now := time.Now()
	mustPut(t, s, "A", now.Add(120*time.Millisecond))
	mustPut(t, s, "B", now.Add(40*time.Millisecond))
	mustPut(t, s, "C", now.Add(40*time.Millisecond))
	mustPut(t, s, "D", now.Add(-time.Second))

	order := receive(t, got, 4, 2*time.Second)
	want := []string{"D", "B", "C", "A"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", order, want)
		}
	}
	eventually(t, func() bool { return s.Len() == 0 })
}

func TestEarlierInsertPreemptsArmedWait(t *testing.T) {
	t.Parallel()
	h, got := recordingHandler(4)
	s, _ := startService(t, Config{}, h)

	now := time.Now()
	mustPut(t, s, "D", now.Add(5*time.Second))
	time.Sleep(20 * time.Millisecond)
	mustPut(t, s, "E", time.Now().Add(30*time.Millisecond))

	first := receive(t, got, 1, time.Second)
	if first[0] != "E" {
		t.Fatalf("first dispatch = %q, want E", first[0])
	}
	eventually(t, func() bool {
		snap := s.Snapshot()
		return s.Len() == 1 && snap.Armed && snap.InFlight == 0
	})
}

func TestLaterInsertKeepsArmedWait(t *testing.T) {
	t.Parallel()
	h, got := recordingHandler(4)
	s, _ := startService(t, Config{}, h)

	now := time.Now()
	mustPut(t, s, "A", now.Add(150*time.Millisecond))
	mustPut(t, s, "B", now.Add(50*time.Millisecond))

	order := receive(t, got, 2, 2*time.Second)
	if order[0] != "B" || order[1] != "A" {
		t.Fatalf("dispatch order = %v, want [B A]", order)
	}
}

func TestIdenticalDeadlinesDrainInOneCycle(t *testing.T) {
	t.Parallel()
	h, _ := recordingHandler(8)
	s, bus := startService(t, Config{}, h)
	events, unsub := bus.Subscribe(16, "dispatch.")
	defer unsub()

	at := time.Now().Add(50 * time.Millisecond)
	mustPut(t, s, "X", at)
	mustPut(t, s, "Y", at)
	mustPut(t, s, "Z", at)

	evs := receiveEvents(t, events, 3, 2*time.Second)
	for i := 1; i < len(evs); i++ {
		if evs[i].Cycle != evs[0].Cycle {
			t.Fatalf("cycle[%d] = %d, want %d", i, evs[i].Cycle, evs[0].Cycle)
		}
		if evs[i].Seq <= evs[i-1].Seq {
			t.Fatalf("seq order = %d after %d", evs[i].Seq, evs[i-1].Seq)
		}
	}
}

func TestPastDeadlineDispatchedPromptly(t *testing.T) {
	t.Parallel()
	h, got := recordingHandler(1)
	s, _ := startService(t, Config{}, h)

	mustPut(t, s, "late", time.Now().Add(-time.Hour))
	receive(t, got, 1, 500*time.Millisecond)
}

func TestLenCountsInFlight(t *testing.T) {
	t.Parallel()
	entered := make(chan string, 2)
	release := make(chan struct{})
	h := HandlerFunc[string](func(ctx context.Context, p string) error {
		entered <- p
		<-release
		return nil
	})
	s, _ := startService(t, Config{}, h)

	past := time.Now().Add(-time.Second)
	mustPut(t, s, "a", past)
	mustPut(t, s, "b", past)

	receive(t, entered, 1, time.Second)
	if n := s.Len(); n != 2 {
		t.Fatalf("Len() with one in flight = %d, want 2", n)
	}
	close(release)
	receive(t, entered, 1, time.Second)

	eventually(t, func() bool { return s.Len() == 0 })
}

func TestPutRejectsInvalidDeadline(t *testing.T) {
	t.Parallel()
	h, _ := recordingHandler(1)
	s := New[string](Config{}, h, logx.Nop(), nil)
	if err := s.Put("x", time.Time{}); !errors.Is(err, ErrInvalidDeadline) {
		t.Fatalf("Put(zero) = %v, want %v", err, ErrInvalidDeadline)
	}
	if n := s.Len(); n != 0 {
		t.Fatalf("Len() = %d, want 0", n)
	}
}

func TestDeadlineFromUnix(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		in      float64
		want    time.Time
		wantErr bool
	}{
		{name: "nan", in: math.NaN(), wantErr: true},
		{name: "pos_inf", in: math.Inf(1), wantErr: true},
		{name: "neg_inf", in: math.Inf(-1), wantErr: true},
		{name: "huge", in: 1e300, wantErr: true},
		{name: "epoch", in: 0, want: time.Unix(0, 0)},
		{name: "fractional", in: 1700000000.25, want: time.Unix(1700000000, 250000000)},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := DeadlineFromUnix(tc.in)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidDeadline) {
					t.Fatalf("DeadlineFromUnix(%v) err = %v, want %v", tc.in, err, ErrInvalidDeadline)
				}
				return
			}
			if err != nil {
				t.Fatalf("DeadlineFromUnix(%v) err = %v", tc.in, err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("DeadlineFromUnix(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestFailuresDoNotStopTheDrain(t *testing.T) {
	t.Parallel()
	h := HandlerFunc[string](func(ctx context.Context, p string) error {
		switch p {
		case "bad":
			return errors.New("boom")
		case "panic":
			panic("kaboom")
		}
		return nil
	})
	s, bus := startService(t, Config{}, h)
	events, unsub := bus.Subscribe(16, "dispatch.")
	defer unsub()

	past := time.Now().Add(-time.Second)
	mustPut(t, s, "bad", past)
	mustPut(t, s, "panic", past)
	mustPut(t, s, "good", past)

	evs := receiveEvents(t, events, 3, 2*time.Second)
	if evs[2].Error != "" {
		t.Fatalf("last dispatch error = %q, want none", evs[2].Error)
	}
	snap := s.Snapshot()
	if snap.Dispatched != 1 || snap.Failed != 2 || snap.Panicked != 1 {
		t.Fatalf("snapshot counters = %+v", snap)
	}
	if len(snap.History) != 3 {
		t.Fatalf("history len = %d, want 3", len(snap.History))
	}
}

func TestDispatchTimeoutMovesOn(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	got := make(chan string, 2)
	h := HandlerFunc[string](func(ctx context.Context, p string) error {
		if p == "slow" {
			<-release
		}
		got <- p
		return nil
	})
	s, _ := startService(t, Config{DispatchTimeout: 30 * time.Millisecond}, h)

	past := time.Now().Add(-time.Second)
	mustPut(t, s, "slow", past)
	mustPut(t, s, "next", past)

	if p := receive(t, got, 1, time.Second); p[0] != "next" {
		t.Fatalf("dispatched %q, want next", p[0])
	}
	eventually(t, func() bool { return s.Snapshot().Dispatched == 1 })
	if snap := s.Snapshot(); snap.TimedOut != 1 {
		t.Fatalf("TimedOut = %d, want 1", snap.TimedOut)
	}
}

func TestConcurrentProducers(t *testing.T) {
	t.Parallel()
	const producers, perProducer = 8, 50
	h, got := recordingHandler(producers * perProducer)
	s, _ := startService(t, Config{}, h)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(p)))
			for i := 0; i < perProducer; i++ {
				d := time.Now().Add(time.Duration(r.Intn(60)-10) * time.Millisecond)
				if err := s.Put(fmt.Sprintf("%d-%d", p, i), d); err != nil {
					t.Errorf("Put: %v", err)
				}
			}
		}(p)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, p := range receive(t, got, producers*perProducer, 5*time.Second) {
		if seen[p] {
			t.Fatalf("payload %q dispatched twice", p)
		}
		seen[p] = true
	}
	select {
	case extra := <-got:
		t.Fatalf("unexpected extra dispatch %q", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPendingIsSorted(t *testing.T) {
	t.Parallel()
	h, _ := recordingHandler(1)
	s := New[string](Config{}, h, logx.Nop(), nil)

	now := time.Now()
	mustPut(t, s, "late", now.Add(2*time.Hour))
	mustPut(t, s, "early", now.Add(time.Hour))
	mustPut(t, s, "early-2", now.Add(time.Hour))

	got := s.Pending()
	want := []string{"early", "early-2", "late"}
	if len(got) != len(want) {
		t.Fatalf("Pending() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Payload != want[i] {
			t.Fatalf("Pending()[%d] = %q, want %q", i, got[i].Payload, want[i])
		}
	}
}

func TestPutAfterStop(t *testing.T) {
	t.Parallel()
	h, _ := recordingHandler(1)
	s := New[string](Config{}, h, logx.Nop(), nil)
	s.Start(context.Background())
	mustPut(t, s, "never", time.Now().Add(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	if err := s.Put("x", time.Now()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Put after Stop = %v, want %v", err, ErrStopped)
	}
	if n := s.Len(); n != 0 {
		t.Fatalf("Len() after Stop = %d, want 0", n)
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func mustPut(t *testing.T, s *Service[string], p string, d time.Time) {
	t.Helper()
	if err := s.Put(p, d); err != nil {
		t.Fatalf("Put(%q) = %v", p, err)
	}
}
