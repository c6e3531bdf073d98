package stream

import (
	"context"
	"sync"
	"time"

	"amlwatch/internal/metrics"
	"amlwatch/internal/model"
)

// Handle is one open channel and the feed of events it has delivered. Events
// are delivered under the handle lock, so nothing is delivered once Close
// has returned.
type Handle struct {
	cancel context.CancelFunc
	feed   *Feed

	mu     sync.Mutex
	closed bool

	done    chan struct{}
	endOnce sync.Once
	err     error
}

func newHandle(cancel context.CancelFunc, feedLimit int) *Handle {
	return &Handle{
		cancel: cancel,
		feed:   NewFeed(feedLimit),
		done:   make(chan struct{}),
	}
}

func (h *Handle) deliver(ev model.TransactionEvent, publish func(model.TransactionEvent)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.feed.Add(ev)
	publish(ev)
	return true
}

// Close releases the channel and clears the feed. It is safe to call more
// than once.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.feed.Clear()
	h.mu.Unlock()
	h.cancel()
	metrics.StreamOpen.Dec()
}

func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) live() bool {
	if h.Closed() {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *Handle) finish(err error) {
	h.endOnce.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Done is closed once the connection goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err waits for Done and reports why the channel ended. It is nil after an
// explicit Close.
func (h *Handle) Err() error {
	<-h.done
	return h.err
}

// Feed returns the delivered events, newest first.
func (h *Handle) Feed() []model.TransactionEvent {
	return h.feed.List(0)
}

func (h *Handle) FeedSince(ts time.Time) []model.TransactionEvent {
	return h.feed.Since(ts)
}
