package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"dialajoke/internal/eventbus"
	"dialajoke/internal/task/queue"
	logx "dialajoke/pkg/logx"
)

// run is the owner loop. It is the only goroutine touching the timer.
func (s *Service[T]) run(ctx context.Context, stopCh <-chan struct{}) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		s.arm(timer)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
			s.drain(ctx)
		}
	}
}

// arm points the timer at the current minimum deadline, or leaves it
// stopped when the queue is empty.
func (s *Service[T]) arm(timer *time.Timer) {
	s.mu.Lock()
	it, ok := s.q.PeekMin()
	if !ok {
		s.armed = false
		s.armedAt = time.Time{}
		s.mu.Unlock()
		return
	}
	s.armed = true
	s.armedAt = it.Deadline
	maxWait := s.cfg.MaxWait
	s.mu.Unlock()

	d := time.Until(it.Deadline)
	if d < 0 {
		d = 0
	}
	if d > maxWait {
		d = maxWait
	}
	timer.Reset(d)
}

// drain dispatches every item due before now+Epsilon. The cutoff is fixed
// once per cycle so a slow handler cannot extend the batch indefinitely.
func (s *Service[T]) drain(ctx context.Context) {
	s.mu.Lock()
	s.armed = false
	s.armedAt = time.Time{}
	s.cycles++
	cycle := s.cycles
	cutoff := time.Now().Add(s.cfg.Epsilon)
	s.mu.Unlock()

	for ctx.Err() == nil {
		s.mu.Lock()
		it, ok := s.q.PeekMin()
		if !ok || !it.Deadline.Before(cutoff) {
			s.mu.Unlock()
			return
		}
		s.q.ExtractMin()
		s.inFlight++
		timeout := s.cfg.DispatchTimeout
		s.mu.Unlock()

		ev, err := s.dispatchOne(ctx, it, timeout)
		ev.Cycle = cycle
		s.record(ev, err)
	}
}

func (s *Service[T]) dispatchOne(ctx context.Context, it queue.Item[T], timeout time.Duration) (DispatchEvent, error) {
	label := labelOf(it.Payload)
	started := time.Now()
	ev := DispatchEvent{
		Seq:      it.Seq,
		Label:    label,
		Deadline: it.Deadline,
		Started:  started,
		Lateness: started.Sub(it.Deadline),
	}

	dctx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		dctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("dispatch panicked",
					logx.Uint64("seq", it.Seq),
					logx.String("label", label),
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())),
				)
				done <- fmt.Errorf("%w: %v", ErrDispatchPanic, r)
			}
		}()
		done <- s.handler.Dispatch(dctx, it.Payload)
	}()

	var err error
	select {
	case err = <-done:
	case <-dctx.Done():
		if ctx.Err() != nil {
			err = ctx.Err()
		} else {
			err = ErrDispatchTimeout
			s.log.Warn("dispatch abandoned after timeout", logx.Uint64("seq", it.Seq), logx.String("label", label), logx.Duration("timeout", timeout))
		}
	}
	ev.Duration = time.Since(started)
	if err != nil {
		ev.Error = err.Error()
	}
	return ev, err
}

func (s *Service[T]) record(ev DispatchEvent, err error) {
	s.mu.Lock()
	s.inFlight--
	switch {
	case err == nil:
		s.dispatched++
	case errors.Is(err, ErrDispatchTimeout):
		s.failed++
		s.timedOut++
	case errors.Is(err, ErrDispatchPanic):
		s.failed++
		s.panicked++
	default:
		s.failed++
	}
	s.history = append(s.history, ev)
	if n := s.cfg.HistorySize; len(s.history) > n {
		s.history = s.history[len(s.history)-n:]
	}
	s.mu.Unlock()

	typ := "dispatch.ok"
	if err != nil {
		typ = "dispatch.failed"
		s.log.Warn("dispatch failed",
			logx.Uint64("seq", ev.Seq),
			logx.String("label", ev.Label),
			logx.Uint64("cycle", ev.Cycle),
			logx.Err(err),
		)
	} else {
		s.log.Debug("dispatched",
			logx.Uint64("seq", ev.Seq),
			logx.String("label", ev.Label),
			logx.Duration("lateness", ev.Lateness),
			logx.Duration("took", ev.Duration),
		)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
	}
}
