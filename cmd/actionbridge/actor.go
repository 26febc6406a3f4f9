package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/basket/actionbridge/internal/actor"
	"github.com/basket/actionbridge/internal/audit"
	"github.com/basket/actionbridge/internal/bus"
	"github.com/basket/actionbridge/internal/config"
	"github.com/basket/actionbridge/internal/killswitch"
	"github.com/basket/actionbridge/internal/telemetry"
)

// runActorCommand runs the device-side client until interrupted.
func runActorCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: actionbridge actor")
		return 2
	}

	cfg, err := config.Load(config.DefaultHomeDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "home dir: %v\n", err)
		return 1
	}
	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "api_key is required; set it in config.yaml or ACTIONBRIDGE_API_KEY")
		return 1
	}

	if err := audit.Init(cfg.HomeDir); err != nil {
		fmt.Fprintf(os.Stderr, "audit init: %v\n", err)
		return 1
	}
	defer func() { _ = audit.Close() }()

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		return 1
	}
	defer closer.Close()
	slog.SetDefault(logger)

	// The actor carries its own kill-switch state in a flat file so it can
	// refuse work even while disconnected.
	eventBus := bus.New()
	ksStore := killswitch.NewFileStore(filepath.Join(cfg.HomeDir, "killswitch.yaml"))
	guard, err := killswitch.New(ctx, ksStore, eventBus)
	if err != nil {
		logger.Error("kill switch load failed", "error", err)
		return 1
	}

	// Pick up operator edits to killswitch.yaml while running; the guard
	// announces an engage on the bus and the live session comes down.
	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for ev := range watcher.Events() {
				if filepath.Base(ev.Path) != "killswitch.yaml" {
					continue
				}
				if err := guard.Reload(ctx); err != nil {
					logger.Error("kill switch reload failed", "error", err)
				}
			}
		}()
	}

	a := actor.New(actor.Config{
		ServerURL: cfg.Actor.ServerURL,
		ClientID:  cfg.Actor.ClientID,
		APIKey:    cfg.APIKey,
		Backoff: actor.Backoff{
			Base:        time.Duration(cfg.Backoff.BaseMillis) * time.Millisecond,
			CapExponent: cfg.Backoff.CapExponent,
			Max:         time.Duration(cfg.Backoff.MaxMillis) * time.Millisecond,
		},
		AppPingInterval: time.Duration(cfg.Heartbeat.AppIntervalSeconds) * time.Second,
		PongGrace:       time.Duration(cfg.Heartbeat.PongGraceSeconds) * time.Second,
		Guard:           guard,
		Events:          eventBus,
		Executor:        &actor.LogExecutor{Logger: logger},
		Confirmer:       actor.NewTermConfirmer(cfg.Actor.AutoConfirmPassive),
		Logger:          logger,
	})

	logger.Info("actor starting", "server_url", cfg.Actor.ServerURL, "client_id", cfg.Actor.ClientID)
	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("actor exited", "error", err)
		return 1
	}
	return 0
}
