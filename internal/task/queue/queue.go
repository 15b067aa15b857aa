// Package queue provides a deadline-ordered min-heap.
//
// Items are ordered by Deadline and then by Seq, so items sharing a deadline
// come out in insertion order when callers hand out increasing sequence
// numbers. A Queue is not safe for concurrent use; the owner serialises
// access.
package queue

import (
	"container/heap"
	"sort"
	"time"
)

// Item is an immutable queue entry.
type Item[T any] struct {
	Deadline time.Time
	Seq      uint64
	Payload  T
}

// Less reports whether a sorts before b.
func (a Item[T]) Less(b Item[T]) bool {
	if !a.Deadline.Equal(b.Deadline) {
		return a.Deadline.Before(b.Deadline)
	}
	return a.Seq < b.Seq
}

type Queue[T any] struct {
	h itemHeap[T]
}

func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

func (q *Queue[T]) Insert(it Item[T]) {
	heap.Push(&q.h, it)
}

// PeekMin returns the smallest item without removing it.
func (q *Queue[T]) PeekMin() (Item[T], bool) {
	if len(q.h) == 0 {
		var zero Item[T]
		return zero, false
	}
	return q.h[0], true
}

// ExtractMin removes and returns the smallest item.
func (q *Queue[T]) ExtractMin() (Item[T], bool) {
	if len(q.h) == 0 {
		var zero Item[T]
		return zero, false
	}
	return heap.Pop(&q.h).(Item[T]), true
}

func (q *Queue[T]) Len() int { return len(q.h) }

// Items returns a sorted copy of the queue contents.
func (q *Queue[T]) Items() []Item[T] {
	out := make([]Item[T], len(q.h))
	copy(out, q.h)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

type itemHeap[T any] []Item[T]

func (h itemHeap[T]) Len() int           { return len(h) }
func (h itemHeap[T]) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h itemHeap[T]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *itemHeap[T]) Push(x any) { *h = append(*h, x.(Item[T])) }

func (h *itemHeap[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	var zero Item[T]
	old[n-1] = zero
	*h = old[:n-1]
	return it
}
