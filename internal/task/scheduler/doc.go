// Package scheduler dispatches payloads at their deadlines.
//
// A Service owns a deadline-ordered queue, a single timer and one owner
// goroutine. Producers call Put from any goroutine; the owner arms the timer
// for the earliest deadline, re-arms it when an earlier item arrives, and on
// expiry drains every item whose deadline has passed, in (deadline, seq)
// order, handing each to the Handler one at a time.
//
// Handler failures, timeouts and panics are recorded and the drain moves on
// to the next item. Nothing is retried here.
package scheduler
