package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SubscribeOptions tunes delivery for one subscriber.
type SubscribeOptions struct {
	// Debounce overrides the engine default when positive. A negative
	// value disables debouncing; the callback then fires synchronously
	// on every publish.
	Debounce time.Duration
	// Immediate delivers the current snapshot once at subscribe time.
	Immediate bool
	// Filter, when set, suppresses deliveries it returns false for.
	Filter func(Snapshot) bool
}

type subscriber struct {
	fn       func(Snapshot)
	debounce time.Duration
	filter   func(Snapshot) bool
	logger   *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending Snapshot
	closed  bool
}

// Subscribe registers fn for snapshot notifications. Rapid successive
// publishes within the debounce window coalesce into one delivery
// carrying the latest snapshot. The returned function unsubscribes and
// cancels any pending delivery.
func (e *Engine) Subscribe(fn func(Snapshot), opts SubscribeOptions) func() {
	debounce := opts.Debounce
	if debounce == 0 {
		debounce = e.cfg.NotifyDebounce
	}
	if debounce == 0 {
		debounce = 300 * time.Millisecond
	}

	sub := &subscriber{fn: fn, debounce: debounce, filter: opts.Filter, logger: e.logger}

	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = sub
	e.subMu.Unlock()

	if opts.Immediate {
		snap := e.State()
		if sub.filter == nil || sub.filter(snap) {
			sub.deliver(snap)
		}
	}

	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
		sub.close()
	}
}

// SubscriberCount reports the number of active subscribers.
func (e *Engine) SubscriberCount() int {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	return len(e.subs)
}

func (e *Engine) notifySubscribers(snap Snapshot) {
	e.subMu.Lock()
	subs := make([]*subscriber, 0, len(e.subs))
	for _, sub := range e.subs {
		subs = append(subs, sub)
	}
	e.subMu.Unlock()

	delivered := 0
	for _, sub := range subs {
		if sub.filter != nil && !sub.filter(snap) {
			continue
		}
		sub.notify(snap)
		delivered++
	}

	if delivered > 0 && e.telemetry != nil {
		e.telemetry.RecordNotification(context.Background(), delivered)
	}
}

// notify schedules delivery of snap. A pending delivery is superseded:
// its timer resets and it will carry this newer snapshot instead.
func (s *subscriber) notify(snap Snapshot) {
	if s.debounce < 0 {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			s.deliver(snap)
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = snap
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, s.fire)
	} else {
		s.timer.Reset(s.debounce)
	}
}

func (s *subscriber) fire() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	snap := s.pending
	s.timer = nil
	s.mu.Unlock()

	s.deliver(snap)
}

// deliver invokes the callback, recovering panics so one misbehaving
// subscriber cannot take down the engine or starve its peers.
func (s *subscriber) deliver(snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("subscriber callback panicked", slog.Any("panic", r))
		}
	}()
	s.fn(snap)
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
