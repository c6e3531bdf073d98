package session

import (
	"context"
	"log/slog"

	"amlwatch/internal/logging"
	"amlwatch/internal/metrics"
)

type Navigator interface {
	Redirect(ctx context.Context, route string)
}

type NavigatorFunc func(ctx context.Context, route string)

func (f NavigatorFunc) Redirect(ctx context.Context, route string) { f(ctx, route) }

// Coordinator performs the forced logout and redirect that follows an
// authorization rejection.
type Coordinator struct {
	sessions   *Manager
	nav        Navigator
	loginRoute string
	logger     *slog.Logger
}

func NewCoordinator(sessions *Manager, nav Navigator, loginRoute string, logger *slog.Logger) *Coordinator {
	if loginRoute == "" {
		loginRoute = "/login"
	}
	return &Coordinator{sessions: sessions, nav: nav, loginRoute: loginRoute, logger: logger}
}

func (c *Coordinator) HandleRejection(ctx context.Context, cause error) {
	metrics.GatewayRejections.Inc()
	if l := logging.L(ctx, c.logger); l != nil {
		l.Warn("authorization rejected, ending session", "err", cause)
	}
	c.sessions.Logout(ctx)
	if c.nav != nil {
		c.nav.Redirect(ctx, c.loginRoute)
	}
}
