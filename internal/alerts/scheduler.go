package alerts

import (
	"log/slog"
	"sync"
	"time"

	"amlwatch/internal/metrics"
	"amlwatch/internal/model"
)

const DefaultDisplayDuration = 6000 * time.Millisecond

type Reason string

const (
	ReasonSurfaced   Reason = "surfaced"
	ReasonSuperseded Reason = "superseded"
	ReasonExpired    Reason = "expired"
	ReasonDismissed  Reason = "dismissed"
	ReasonReset      Reason = "reset"
)

// Change describes one transition of the current alert. Alert is nil when the
// alert was cleared.
type Change struct {
	Alert    *model.CurrentAlert
	Previous *model.CurrentAlert
	Reason   Reason
}

type Timer interface {
	Stop() bool
}

type TimerFunc func(d time.Duration, f func()) Timer

type Option func(*Scheduler)

func WithTimerFunc(fn TimerFunc) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.after = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler keeps the single alert in focus. The newest suspicious event
// always wins, and each alert carries its own expiry timer that is stopped
// when the alert leaves focus early.
type Scheduler struct {
	ttl    time.Duration
	after  TimerFunc
	now    func() time.Time
	logger *slog.Logger

	// opMu serializes observe, dismiss, reset and expiry together with the
	// listener callbacks they trigger.
	opMu sync.Mutex

	mu      sync.RWMutex
	current *model.CurrentAlert
	timer   Timer
	gen     uint64

	lmu       sync.RWMutex
	listeners []func(Change)
}

func NewScheduler(ttl time.Duration, logger *slog.Logger, opts ...Option) *Scheduler {
	if ttl <= 0 {
		ttl = DefaultDisplayDuration
	}
	s := &Scheduler{
		ttl:    ttl,
		after:  func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers fn for every later transition. Listeners run in order
// and must not call back into Observe, Dismiss or Reset.
func (s *Scheduler) OnChange(fn func(Change)) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Scheduler) Observe(ev model.TransactionEvent) {
	if !ev.Suspicious {
		return
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	now := s.now()
	next := &model.CurrentAlert{Event: ev, SetAt: now, ExpiresAt: now.Add(s.ttl)}

	s.mu.Lock()
	prev := s.current
	s.stopLocked()
	s.gen++
	gen := s.gen
	s.current = next
	s.timer = s.after(s.ttl, func() { s.expire(gen) })
	s.mu.Unlock()

	metrics.AlertsSurfaced.Inc()
	reason := ReasonSurfaced
	if prev != nil {
		reason = ReasonSuperseded
		metrics.AlertsCleared.WithLabelValues(string(ReasonSuperseded)).Inc()
	}
	if s.logger != nil {
		s.logger.Info("alert surfaced", "event_id", ev.ID, "account", ev.AccountNumber, "reason", ev.Reason())
	}
	s.notify(Change{Alert: clone(next), Previous: prev, Reason: reason})
}

func (s *Scheduler) expire(gen uint64) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if gen != s.gen || s.current == nil {
		s.mu.Unlock()
		return
	}
	prev := s.current
	s.current = nil
	s.timer = nil
	s.mu.Unlock()

	metrics.AlertsCleared.WithLabelValues(string(ReasonExpired)).Inc()
	s.notify(Change{Previous: prev, Reason: ReasonExpired})
}

// Dismiss clears the current alert ahead of its deadline. It reports whether
// there was one.
func (s *Scheduler) Dismiss() bool {
	return s.clear(ReasonDismissed)
}

// Reset clears any alert, for use when the session ends.
func (s *Scheduler) Reset() {
	s.clear(ReasonReset)
}

func (s *Scheduler) clear(reason Reason) bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	prev := s.current
	s.stopLocked()
	s.gen++
	s.current = nil
	s.mu.Unlock()

	if prev == nil {
		return false
	}
	metrics.AlertsCleared.WithLabelValues(string(reason)).Inc()
	s.notify(Change{Previous: prev, Reason: reason})
	return true
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) Current() (model.CurrentAlert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return model.CurrentAlert{}, false
	}
	return *s.current, true
}

func (s *Scheduler) notify(c Change) {
	s.lmu.RLock()
	listeners := make([]func(Change), len(s.listeners))
	copy(listeners, s.listeners)
	s.lmu.RUnlock()
	for _, fn := range listeners {
		fn(c)
	}
}

func clone(a *model.CurrentAlert) *model.CurrentAlert {
	if a == nil {
		return nil
	}
	out := *a
	return &out
}
