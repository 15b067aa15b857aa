package queue

import (
	"math/rand"
	"testing"
	"time"
)

func TestExtractMinOrder(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	q := New[string]()
	q.Insert(Item[string]{Deadline: base.Add(5 * time.Second), Seq: 1, Payload: "A"})
	q.Insert(Item[string]{Deadline: base.Add(2 * time.Second), Seq: 2, Payload: "B"})
	q.Insert(Item[string]{Deadline: base.Add(2 * time.Second), Seq: 3, Payload: "C"})
	q.Insert(Item[string]{Deadline: base, Seq: 4, Payload: "D"})

	want := []string{"D", "B", "C", "A"}
	for i, w := range want {
		it, ok := q.ExtractMin()
		if !ok {
			t.Fatalf("ExtractMin #%d: empty queue", i)
		}
		if it.Payload != w {
			t.Fatalf("ExtractMin #%d = %q, want %q", i, it.Payload, w)
		}
	}
	if _, ok := q.ExtractMin(); ok {
		t.Fatal("ExtractMin on empty queue returned ok")
	}
}

func TestPeekMinDoesNotRemove(t *testing.T) {
	t.Parallel()
	q := New[int]()
	if _, ok := q.PeekMin(); ok {
		t.Fatal("PeekMin on empty queue returned ok")
	}
	now := time.Now()
	q.Insert(Item[int]{Deadline: now.Add(time.Minute), Seq: 1, Payload: 1})
	q.Insert(Item[int]{Deadline: now, Seq: 2, Payload: 2})

	it, ok := q.PeekMin()
	if !ok || it.Payload != 2 {
		t.Fatalf("PeekMin = %v/%v, want 2/true", it.Payload, ok)
	}
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
}

func TestRandomInsertsDrainSorted(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(42))
	base := time.Now()
	q := New[int]()
	const n = 500
	for i := 0; i < n; i++ {
		// Few distinct deadlines so ties are common.
		d := base.Add(time.Duration(r.Intn(20)) * time.Millisecond)
		q.Insert(Item[int]{Deadline: d, Seq: uint64(i), Payload: i})
	}

	items := q.Items()
	if len(items) != n {
		t.Fatalf("Items len = %d, want %d", len(items), n)
	}

	var prev Item[int]
	for i := 0; i < n; i++ {
		it, ok := q.ExtractMin()
		if !ok {
			t.Fatalf("queue drained early at %d", i)
		}
		if it.Seq != items[i].Seq {
			t.Fatalf("ExtractMin #%d seq = %d, Items()[%d] seq = %d", i, it.Seq, i, items[i].Seq)
		}
		if i > 0 && it.Less(prev) {
			t.Fatalf("out of order at %d: %v before %v", i, prev, it)
		}
		prev = it
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d, want 0", q.Len())
	}
}
