package eventbus

import (
	"testing"
	"time"
)

func TestSubscribePrefixFilter(t *testing.T) {
	t.Parallel()
	b := New()
	calls, unsubCalls := b.Subscribe(4, "call.")
	defer unsubCalls()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: "dispatch.finished"})
	b.Publish(Event{Type: "call.dialed", Data: "+15550100"})

	select {
	case e := <-calls:
		if e.Type != "call.dialed" {
			t.Fatalf("Type = %q, want call.dialed", e.Type)
		}
		if e.Time.IsZero() {
			t.Fatal("Publish should stamp Time")
		}
	case <-time.After(time.Second):
		t.Fatal("prefix subscriber got nothing")
	}
	if len(calls) != 0 {
		t.Fatalf("prefix subscriber buffered %d extra events", len(calls))
	}
	if len(all) != 2 {
		t.Fatalf("catch-all subscriber buffered %d events, want 2", len(all))
	}
}

func TestPublishDropsOnFullSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	b.Publish(Event{Type: "c"})
	if got := b.Dropped(); got != 2 {
		t.Fatalf("Dropped = %d, want 2", got)
	}
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	b.Publish(Event{Type: "late"})
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}
