package stream

import (
	"sync"
	"time"

	"amlwatch/internal/model"
)

// Feed keeps the events received on one handle in arrival order and hands
// them out newest-first. A limit of zero keeps everything.
type Feed struct {
	mu    sync.RWMutex
	buf   []model.TransactionEvent
	limit int
}

func NewFeed(limit int) *Feed {
	if limit < 0 {
		limit = 0
	}
	return &Feed{limit: limit}
}

func (f *Feed) Add(ev model.TransactionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limit == 0 || len(f.buf) < f.limit {
		f.buf = append(f.buf, ev)
		return
	}
	copy(f.buf, f.buf[1:])
	f.buf[len(f.buf)-1] = ev
}

func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.buf)
}

// List returns up to limit events, newest first.
func (f *Feed) List(limit int) []model.TransactionEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if limit <= 0 || limit > len(f.buf) {
		limit = len(f.buf)
	}
	out := make([]model.TransactionEvent, 0, limit)
	for i := len(f.buf) - 1; i >= len(f.buf)-limit; i-- {
		out = append(out, f.buf[i])
	}
	return out
}

// Since returns, newest first, the events whose record timestamp is at or
// after ts.
func (f *Feed) Since(ts time.Time) []model.TransactionEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]model.TransactionEvent, 0)
	for i := len(f.buf) - 1; i >= 0; i-- {
		if !f.buf[i].Timestamp.Before(ts) {
			out = append(out, f.buf[i])
		}
	}
	return out
}

func (f *Feed) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf = nil
}
