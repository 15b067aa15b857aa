package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dialajoke/internal/eventbus"
	rtsup "dialajoke/internal/runtime/supervisor"
	"dialajoke/internal/task/queue"
	logx "dialajoke/pkg/logx"
)

// Service dispatches payloads to a Handler at their deadlines.
type Service[T any] struct {
	log     logx.Logger
	bus     eventbus.Bus
	handler Handler[T]

	// wake has capacity 1 so producers never block and repeated signals
	// coalesce.
	wake chan struct{}

	mu       sync.Mutex
	cfg      Config
	q        *queue.Queue[T]
	seq      uint64
	armed    bool
	armedAt  time.Time
	inFlight int
	stopped  bool

	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	cycles     uint64
	dispatched uint64
	failed     uint64
	timedOut   uint64
	panicked   uint64
	history    []DispatchEvent
}

// New returns a Service that dispatches nothing until Start. bus may be nil.
func New[T any](cfg Config, h Handler[T], log logx.Logger, bus eventbus.Bus) *Service[T] {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service[T]{
		log:     log,
		bus:     bus,
		handler: h,
		wake:    make(chan struct{}, 1),
		cfg:     cfg.withDefaults(),
		q:       queue.New[T](),
	}
}

// Apply swaps tunables at runtime. The owner re-arms on the next wake.
func (s *Service[T]) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	if len(s.history) > s.cfg.HistorySize {
		s.history = append([]DispatchEvent(nil), s.history[len(s.history)-s.cfg.HistorySize:]...)
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Service[T]) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopped || s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	pending := s.q.Len()
	s.mu.Unlock()

	// The loop keeps no state of its own, so a restart after a crash picks
	// up the queue exactly where it was.
	sup.GoRestart("scheduler.loop", func(c context.Context) error {
		return s.run(c, stopCh)
	},
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(10*time.Millisecond, time.Second),
	)
	s.signal()

	s.log.Info("scheduler started", logx.Int("pending", pending))
}

// Stop halts the owner goroutine. Items still pending are dropped; Put
// returns ErrStopped afterwards.
func (s *Service[T]) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	s.stopped = true
	done := make(chan struct{})
	s.stopDone = done
	sup := s.sup
	if s.stopCh != nil {
		close(s.stopCh)
	}
	s.mu.Unlock()

	go func() {
		if sup != nil {
			sup.Cancel()
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		dropped := s.q.Len()
		s.q = queue.New[T]()
		s.armed = false
		s.armedAt = time.Time{}
		s.mu.Unlock()
		if dropped > 0 {
			s.log.Warn("scheduler stopped with pending items", logx.Int("dropped", dropped))
		}
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out", logx.Err(ctx.Err()))
	}
}

// Put queues payload for dispatch at deadline. Past deadlines are accepted
// and dispatched on the next drain. Put never blocks.
func (s *Service[T]) Put(payload T, deadline time.Time) error {
	if deadline.IsZero() {
		return ErrInvalidDeadline
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.seq++
	seq := s.seq
	s.q.Insert(queue.Item[T]{Deadline: deadline, Seq: seq, Payload: payload})
	rearm := !s.armed || deadline.Before(s.armedAt)
	s.mu.Unlock()

	s.log.Debug("scheduled", logx.Uint64("seq", seq), logx.String("label", labelOf(payload)), logx.Time("deadline", deadline))
	if rearm {
		s.signal()
	}
	return nil
}

// Len counts items not yet dispatched, including one in flight.
func (s *Service[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Len() + s.inFlight
}

// Pending returns the queued items in dispatch order.
func (s *Service[T]) Pending() []Pending[T] {
	s.mu.Lock()
	items := s.q.Items()
	s.mu.Unlock()

	out := make([]Pending[T], 0, len(items))
	for _, it := range items {
		out = append(out, Pending[T]{Deadline: it.Deadline, Seq: it.Seq, Payload: it.Payload})
	}
	return out
}

func (s *Service[T]) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := make([]DispatchEvent, len(s.history))
	copy(h, s.history)
	return Snapshot{
		Running:         s.stopCh != nil && !s.stopped,
		Pending:         s.q.Len(),
		InFlight:        s.inFlight,
		Armed:           s.armed,
		ArmedAt:         s.armedAt,
		Dispatched:      s.dispatched,
		Failed:          s.failed,
		TimedOut:        s.timedOut,
		Panicked:        s.panicked,
		Cycles:          s.cycles,
		DispatchTimeout: s.cfg.DispatchTimeout,
		History:         h,
	}
}

func (s *Service[T]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func labelOf(v any) string {
	if st, ok := v.(fmt.Stringer); ok {
		return st.String()
	}
	return ""
}
