package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"amlwatch/internal/logging"
)

type Redirect struct {
	Route string    `json:"route"`
	At    time.Time `json:"at"`
}

// Navigator records forced redirects so the local surface can report where
// the user was sent.
type Navigator struct {
	logger *slog.Logger

	mu   sync.RWMutex
	last *Redirect
}

func NewNavigator(logger *slog.Logger) *Navigator {
	return &Navigator{logger: logger}
}

func (n *Navigator) Redirect(ctx context.Context, route string) {
	n.mu.Lock()
	n.last = &Redirect{Route: route, At: time.Now().UTC()}
	n.mu.Unlock()
	if l := logging.L(ctx, n.logger); l != nil {
		l.Info("redirecting", "route", route)
	}
}

func (n *Navigator) Last() (Redirect, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.last == nil {
		return Redirect{}, false
	}
	return *n.last, true
}
