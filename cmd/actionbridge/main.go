package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/actionbridge/internal/alerts"
	"github.com/basket/actionbridge/internal/audit"
	"github.com/basket/actionbridge/internal/bus"
	"github.com/basket/actionbridge/internal/config"
	"github.com/basket/actionbridge/internal/confirm"
	"github.com/basket/actionbridge/internal/gateway"
	"github.com/basket/actionbridge/internal/killswitch"
	"github.com/basket/actionbridge/internal/maintenance"
	otelPkg "github.com/basket/actionbridge/internal/otel"
	"github.com/basket/actionbridge/internal/persistence"
	"github.com/basket/actionbridge/internal/planner"
	"github.com/basket/actionbridge/internal/protocol"
	"github.com/basket/actionbridge/internal/sinks"
	"github.com/basket/actionbridge/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.2-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

SERVER MODE (default):
  %s -daemon                  Start the coordination server

SUBCOMMANDS:
  %s actor                    Run the device-side actor client
  %s status                   Show server health status (/healthz)
  %s killswitch <on|off|show> Flip or inspect the kill switch

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  ACTIONBRIDGE_HOME       Data directory (default: ~/.actionbridge)
  ACTIONBRIDGE_API_KEY    Shared secret for the actor handshake
  GEMINI_API_KEY          Required for the google planner provider
`)
}

func main() {
	daemon := flag.Bool("daemon", false, "run the coordination server")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "actor":
			os.Exit(runActorCommand(ctx, args[1:]))
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		case "killswitch":
			os.Exit(runKillSwitchCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	if !*daemon && isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Fprintln(os.Stderr, "starting coordination server; pass -daemon to silence this note")
	}
	runServer(ctx, stop)
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record("fatal", "", map[string]string{"reason_code": reasonCode, "error": message})

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"bridge","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func runServer(ctx context.Context, stop context.CancelFunc) {
	cfg, err := config.Load(config.DefaultHomeDir())
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}
	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		fatalStartup(nil, "E_HOME_CREATE", err)
	}

	// Audit first so logger failures are still audited.
	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "version", Version, "fingerprint", cfg.Fingerprint())

	if cfg.APIKey == "" {
		fatalStartup(logger, "E_NO_API_KEY", fmt.Errorf("api_key is required; set it in config.yaml or ACTIONBRIDGE_API_KEY"))
	}

	eventBus := bus.New()

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.Otel.Enabled,
		Exporter:    cfg.Otel.Exporter,
		Endpoint:    cfg.Otel.Endpoint,
		ServiceName: cfg.Otel.ServiceName,
		SampleRate:  cfg.Otel.SampleRate,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(ctx)

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	store, err := persistence.Open(cfg.DBPath)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	audit.SetDB(store.DB())
	logger.Info("startup phase", "phase", "schema_migrated")

	guard, err := killswitch.New(ctx, store, eventBus)
	if err != nil {
		fatalStartup(logger, "E_KILLSWITCH_LOAD", err)
	}
	if guard.Active() {
		logger.Warn("kill switch is engaged from a previous run", "since", guard.Since())
	}

	var plan planner.Planner
	switch strings.ToLower(cfg.Planner.Provider) {
	case "rules":
		plan = planner.NewRulePlanner()
	default:
		apiKey := os.Getenv(cfg.Planner.APIKeyEnv)
		plan = planner.NewGenkitPlanner(ctx, planner.GenkitConfig{
			Provider: cfg.Planner.Provider,
			Model:    cfg.Planner.Model,
			APIKey:   apiKey,
		})
	}

	machine := confirm.New(eventBus)

	gw := gateway.New(gateway.Config{
		Store:             store,
		Bus:               eventBus,
		Planner:           plan,
		Machine:           machine,
		Guard:             guard,
		APIKey:            cfg.APIKey,
		AuthTimeout:       cfg.AuthTimeout(),
		HeartbeatInterval: time.Duration(cfg.Heartbeat.TransportIntervalSeconds) * time.Second,
		PlannerTimeout:    time.Duration(cfg.Planner.TimeoutSeconds) * time.Second,
		ConfigFingerprint: cfg.Fingerprint(),
		Logger:            logger,
		Metrics:           metrics,
		Tracer:            otelProvider.Tracer,
	})
	gw.WatchKillSwitch(ctx)

	if cfg.Telephony.BaseURL != "" {
		gw.Sinks().Register(protocol.IntentCallNumber, sinks.NewTelephonySink(
			cfg.Telephony.BaseURL,
			cfg.Telephony.APIKey,
			time.Duration(cfg.Telephony.TimeoutSeconds)*time.Second,
			logger,
		))
		logger.Info("telephony sink registered", "base_url", cfg.Telephony.BaseURL)
	}

	sweeper, err := maintenance.NewSweeper(maintenance.Config{
		Store:        store,
		Logger:       logger,
		AuditLogDays: cfg.Retention.AuditLogDays,
		CronExpr:     cfg.Retention.SweepCron,
	})
	if err != nil {
		fatalStartup(logger, "E_SWEEPER_INIT", err)
	}
	sweeper.Start(ctx)
	defer sweeper.Stop()

	if cfg.Alerts.Telegram.Enabled {
		if cfg.Alerts.Telegram.Token == "" {
			logger.Warn("telegram alerts enabled but token is missing")
		} else {
			notifier := alerts.NewNotifier(
				cfg.Alerts.Telegram.Token,
				cfg.Alerts.Telegram.ChatID,
				cfg.Alerts.AuthFailureThreshold,
				eventBus,
				logger,
			)
			if err := notifier.Start(ctx); err != nil {
				logger.Error("telegram alerts failed to start", "error", err)
			}
		}
	}

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		// killswitch.yaml doubles as an operator override file: editing it
		// flips the db-backed guard without the admin endpoint. config.yaml
		// edits are detected but need a restart to apply.
		ksFile := killswitch.NewFileStore(filepath.Join(cfg.HomeDir, "killswitch.yaml"))
		go func() {
			for ev := range watcher.Events() {
				switch filepath.Base(ev.Path) {
				case "killswitch.yaml":
					active, _, err := ksFile.LoadKillSwitch(ctx)
					if err != nil {
						logger.Error("kill switch file reload failed", "error", err)
						continue
					}
					if err := guard.Set(ctx, active); err != nil {
						logger.Error("kill switch update failed", "error", err)
					}
				case "config.yaml":
					next, err := config.Load(cfg.HomeDir)
					if err != nil {
						logger.Error("config reload failed", "error", err)
						continue
					}
					if next.Fingerprint() != cfg.Fingerprint() {
						logger.Warn("config changed on disk, restart to apply", "fingerprint", next.Fingerprint())
					}
				}
			}
		}()
	}

	server := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: gw.Handler(),
	}
	serverErr := make(chan error, 1)
	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr, "ws", "/ws")
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
}
