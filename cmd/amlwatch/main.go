package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"amlwatch/internal/alerts"
	"amlwatch/internal/api"
	"amlwatch/internal/config"
	"amlwatch/internal/credential"
	"amlwatch/internal/dashboard"
	"amlwatch/internal/gateway"
	"amlwatch/internal/logging"
	"amlwatch/internal/session"
	"amlwatch/internal/storage"
	"amlwatch/internal/stream"
	"amlwatch/internal/telemetry"
)

var version = "dev"

func main() {
	cfgPath := flag.String("config", "", "path to YAML or JSON config file")
	flag.Parse()

	if err := run(config.ResolvePath(*cfgPath)); err != nil {
		slog.Error("amlwatch stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfgManager, err := config.NewManager(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := cfgManager.Get()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, cfg.Telemetry, logger)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	// ── Credentials ──────────────────────────────────────────────────────────
	backend, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer backend.Close()
	if err := backend.Init(ctx); err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	creds, err := credential.Open(ctx, backend, cfg.Session.CredentialKey, logger)
	if err != nil {
		return err
	}

	// ── Session, gateway, stream ─────────────────────────────────────────────
	httpClient := gateway.NewHTTPClient(cfg.Gateway.Timeout)
	identity := gateway.NewIdentity(cfg.Gateway.BaseURL, cfg.Gateway.LoginPath, httpClient)
	sessions := session.NewManager(creds, identity, logger)
	nav := api.NewNavigator(logger)
	coord := session.NewCoordinator(sessions, nav, cfg.Session.LoginRoute, logger)
	gw := gateway.New(cfg.Gateway.BaseURL, sessions, coord, logger, gateway.WithHTTPClient(httpClient))

	source, err := stream.NewSource(cfg.Stream, gateway.NewHTTPClient(0))
	if err != nil {
		return err
	}
	consumer := stream.NewConsumer(sessions, source, coord, stream.Options{
		ReconnectDelay: cfg.Stream.ReconnectDelay,
		FeedLimit:      cfg.Stream.FeedLimit,
	}, logger)
	defer consumer.Shutdown()
	scheduler := alerts.NewScheduler(cfg.Alerts.DisplayDuration, logger)
	view := dashboard.New(sessions, consumer, scheduler, logger)

	if cfg.Credentials.Username != "" && !sessions.Authenticated() {
		if _, err := sessions.Login(ctx, cfg.Credentials.Username, cfg.Credentials.Password); err != nil {
			logger.Warn("auto-login failed", "username", cfg.Credentials.Username, "err", err)
		}
	}
	logger.Info("session state", "state", sessions.State().String(), "subject", sessions.Current().SubjectID)

	if err := view.Mount(ctx); err != nil {
		logger.Warn("dashboard stream not started", "err", err)
	}
	defer view.Unmount()

	// ── Hot reload ───────────────────────────────────────────────────────────
	cfgManager.OnChange(func(next *config.Config) {
		logging.SetLevel(next.LogLevel)
		logger.Info("config reloaded", "log_level", next.LogLevel)
	})
	stopWatch, err := cfgManager.Watch(func(err error) {
		logger.Warn("config reload failed", "err", err)
	})
	if err != nil {
		logger.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── Local API ────────────────────────────────────────────────────────────
	api.Start(ctx, api.NewServer(cfgManager, sessions, gw, view, nav, logger, version), logger)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
