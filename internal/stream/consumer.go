package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"amlwatch/internal/metrics"
	"amlwatch/internal/model"
	"amlwatch/internal/session"
)

const maxLoggedFrame = 256

// Sessions is the slice of the session manager the consumer depends on.
type Sessions interface {
	Authenticated() bool
	Token() string
	Subscribe(fn session.Observer) func()
}

type RejectionHandler interface {
	HandleRejection(ctx context.Context, cause error)
}

type Subscriber func(model.TransactionEvent)

type subscriber struct {
	id uint64
	fn Subscriber
}

type Options struct {
	// ReconnectDelay > 0 enables reconnecting after a transport drop.
	ReconnectDelay time.Duration
	FeedLimit      int
	Now            func() time.Time
}

type Consumer struct {
	sessions   Sessions
	source     Source
	rejections RejectionHandler
	opts       Options
	logger     *slog.Logger

	mu     sync.Mutex
	handle *Handle

	subMu  sync.RWMutex
	subs   []subscriber
	nextID uint64

	unwatch func()
}

// NewConsumer wires the consumer to sessions so that every transition to
// Unauthenticated closes the open handle before the transition returns.
func NewConsumer(sessions Sessions, source Source, rejections RejectionHandler, opts Options, logger *slog.Logger) *Consumer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Consumer{
		sessions:   sessions,
		source:     source,
		rejections: rejections,
		opts:       opts,
		logger:     logger,
	}
	c.unwatch = sessions.Subscribe(func(_ context.Context, to session.State) {
		if to == session.Unauthenticated {
			c.CloseActive()
		}
	})
	return c
}

// Open starts the channel for the current session, or returns the handle that
// is already live.
func (c *Consumer) Open(ctx context.Context) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sessions.Authenticated() {
		return nil, model.ErrNotAuthenticated
	}
	if c.handle != nil {
		if c.handle.live() {
			return c.handle, nil
		}
		c.handle.Close()
	}
	runCtx, cancel := context.WithCancel(ctx)
	h := newHandle(cancel, c.opts.FeedLimit)
	c.handle = h
	metrics.StreamOpen.Inc()
	go c.run(runCtx, h)
	return h, nil
}

// Active returns the most recently opened handle, if it has not been closed.
func (c *Consumer) Active() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil || c.handle.Closed() {
		return nil
	}
	return c.handle
}

func (c *Consumer) CloseActive() {
	c.mu.Lock()
	h := c.handle
	c.handle = nil
	c.mu.Unlock()
	if h != nil {
		h.Close()
	}
}

// Shutdown closes the active handle and detaches from the session manager.
func (c *Consumer) Shutdown() {
	c.unwatch()
	c.CloseActive()
}

// Subscribe registers fn for every published event. Subscribers are called
// in registration order.
func (c *Consumer) Subscribe(fn Subscriber) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.subMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					break
				}
			}
			c.subMu.Unlock()
		})
	}
}

func (c *Consumer) publish(ev model.TransactionEvent) {
	c.subMu.RLock()
	subs := make([]subscriber, len(c.subs))
	copy(subs, c.subs)
	c.subMu.RUnlock()
	for _, s := range subs {
		s.fn(ev)
	}
}

func (c *Consumer) run(ctx context.Context, h *Handle) {
	for {
		reader, err := c.source.Connect(ctx, c.sessions.Token())
		if err != nil {
			if ctx.Err() != nil {
				h.finish(nil)
				return
			}
			if errors.Is(err, model.ErrAuthorizationRejected) {
				metrics.StreamConnects.WithLabelValues("rejected").Inc()
				if c.rejections != nil {
					c.rejections.HandleRejection(context.WithoutCancel(ctx), err)
				}
				h.finish(err)
				return
			}
			metrics.StreamConnects.WithLabelValues("error").Inc()
			if c.logger != nil {
				c.logger.Warn("stream connect failed", "err", err)
			}
			if !c.retry(ctx) {
				h.finish(err)
				return
			}
			continue
		}
		metrics.StreamConnects.WithLabelValues("ok").Inc()
		if c.logger != nil {
			c.logger.Info("stream connected")
		}

		err = c.pump(ctx, h, reader)
		reader.Close()
		if ctx.Err() != nil || h.Closed() {
			h.finish(nil)
			return
		}
		if c.logger != nil {
			c.logger.Warn("stream ended", "err", err)
		}
		if !c.retry(ctx) {
			h.finish(err)
			return
		}
	}
}

func (c *Consumer) retry(ctx context.Context) bool {
	if c.opts.ReconnectDelay <= 0 || !c.sessions.Authenticated() {
		return false
	}
	return backoffSleep(ctx, c.opts.ReconnectDelay)
}

func (c *Consumer) pump(ctx context.Context, h *Handle, reader FrameReader) error {
	for {
		frame, err := reader.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		ev, err := model.DecodeTransactionEvent(frame, c.opts.Now())
		if err != nil {
			metrics.StreamFrames.WithLabelValues("dropped").Inc()
			if c.logger != nil {
				c.logger.Warn("dropping malformed frame", "err", err, "frame", truncate(frame))
			}
			continue
		}
		if !h.deliver(ev, c.publish) {
			return nil
		}
		metrics.StreamFrames.WithLabelValues("decoded").Inc()
	}
}

func truncate(frame []byte) string {
	if len(frame) > maxLoggedFrame {
		return string(frame[:maxLoggedFrame]) + "..."
	}
	return string(frame)
}
