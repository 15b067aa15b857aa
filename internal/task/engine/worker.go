package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	logx "dialajoke/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask, idx int) {
	// Per-worker RNG so concurrent retries don't contend on the global source.
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(idx)<<32))

	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, stopCh, qt, rng)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, rng *rand.Rand) {
	if qt.state != nil {
		defer qt.state.release()
	}
	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if cfg.MaxQueueDelay > 0 && queueDelay > cfg.MaxQueueDelay {
		s.onStaleDropped(start, qt.task, queueDelay)
		s.history.add(HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"}, cfg.HistorySize)
		return
	}

	log := s.log.With(logx.String("task", qt.task.Name), logx.String("id", qt.task.ID))
	log.Debug("task.started", logx.Duration("queue_delay", queueDelay))
	s.publish("task.started", TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay})

	maxAttempts := 1 + max(qt.opt.RetryMax, 0)
	attempts := 0
	var err error
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		err = s.runAttempt(ctx, qt, log)
		if err == nil {
			break
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if attempt == maxAttempts {
			break
		}

		delay := backoffDelayWithHint(qt.opt, attempt, err, rng)
		log.Debug("task retry scheduled", logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			err = ctx.Err()
			break attemptLoop
		case <-stopCh:
			tmr.Stop()
			err = ErrStopping
			break attemptLoop
		case <-tmr.C:
		}
	}

	s.circuitRecordResult(time.Now(), qt.task.Name, cfg, qt.opt, err)

	dur := time.Since(start)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	ev := TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		log.Warn("task.failed", logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.publish("task.failed", ev)
	} else {
		log.Debug("task.completed", logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.publish("task.finished", ev)
	}
	s.history.add(item, cfg.HistorySize)
}

// runAttempt converts a panic into an error so one bad task cannot kill a
// worker.
func (s *Service) runAttempt(ctx context.Context, qt queuedTask, log logx.Logger) (err error) {
	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error("task.panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return qt.task.Run(runCtx)
}

func backoffDelayWithHint(opt TaskOptions, retry int, err error, rng *rand.Rand) time.Duration {
	var ra RetryAfterError
	if !errors.As(err, &ra) {
		return backoffDelay(opt, retry, rng)
	}
	d := min(max(ra.RetryAfter(), 0), opt.RetryMaxDelay)
	return clampDelay(jitter(d, opt.RetryJitter, rng), opt.RetryMaxDelay)
}

func backoffDelay(opt TaskOptions, retry int, rng *rand.Rand) time.Duration {
	d := opt.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= opt.RetryMaxDelay {
			d = opt.RetryMaxDelay
			break
		}
	}
	return clampDelay(jitter(d, opt.RetryJitter, rng), opt.RetryMaxDelay)
}

func jitter(d time.Duration, j float64, rng *rand.Rand) time.Duration {
	if j <= 0 || d <= 0 || rng == nil {
		return d
	}
	r := (rng.Float64()*2 - 1) * j
	return max(time.Duration(float64(d)*(1+r)), 0)
}

func clampDelay(d, maxD time.Duration) time.Duration {
	if maxD > 0 && d > maxD {
		return maxD
	}
	return d
}
