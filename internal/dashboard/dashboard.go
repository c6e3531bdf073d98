package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"amlwatch/internal/alerts"
	"amlwatch/internal/model"
	"amlwatch/internal/session"
	"amlwatch/internal/stream"
)

// Dashboard is the consuming view: while mounted it keeps the stream open for
// the authenticated session and feeds every event to the alert scheduler.
type Dashboard struct {
	sessions  *session.Manager
	consumer  *stream.Consumer
	scheduler *alerts.Scheduler
	logger    *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	mounted bool
	unsubs  []func()
}

func New(sessions *session.Manager, consumer *stream.Consumer, scheduler *alerts.Scheduler, logger *slog.Logger) *Dashboard {
	return &Dashboard{sessions: sessions, consumer: consumer, scheduler: scheduler, logger: logger}
}

// Mount attaches the view. The stream opens now if a session exists and
// again on every later login. ctx bounds the lifetime of opened streams.
func (d *Dashboard) Mount(ctx context.Context) error {
	d.mu.Lock()
	if d.mounted {
		d.mu.Unlock()
		return nil
	}
	d.ctx = ctx
	d.mounted = true
	d.unsubs = []func(){
		d.consumer.Subscribe(d.scheduler.Observe),
		d.sessions.Subscribe(d.onSession),
	}
	d.mu.Unlock()

	if !d.sessions.Authenticated() {
		return nil
	}
	if _, err := d.consumer.Open(ctx); err != nil && !errors.Is(err, model.ErrNotAuthenticated) {
		return err
	}
	return nil
}

// Unmount tears the view down: the stream is closed and the current alert
// dropped.
func (d *Dashboard) Unmount() {
	d.mu.Lock()
	if !d.mounted {
		d.mu.Unlock()
		return
	}
	d.mounted = false
	unsubs := d.unsubs
	d.unsubs = nil
	d.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	d.consumer.CloseActive()
	d.scheduler.Reset()
}

func (d *Dashboard) onSession(_ context.Context, to session.State) {
	d.mu.Lock()
	mounted, ctx := d.mounted, d.ctx
	d.mu.Unlock()
	if !mounted {
		return
	}
	switch to {
	case session.Authenticated:
		if _, err := d.consumer.Open(ctx); err != nil && d.logger != nil {
			d.logger.Warn("stream open failed", "err", err)
		}
	case session.Unauthenticated:
		d.consumer.CloseActive()
		d.scheduler.Reset()
	}
}

func (d *Dashboard) Feed() []model.TransactionEvent {
	if h := d.consumer.Active(); h != nil {
		return h.Feed()
	}
	return []model.TransactionEvent{}
}

func (d *Dashboard) CurrentAlert() (model.CurrentAlert, bool) {
	return d.scheduler.Current()
}

func (d *Dashboard) Dismiss() bool {
	return d.scheduler.Dismiss()
}
