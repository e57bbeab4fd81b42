package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/objectgate/gateway/internal/logger"
	"github.com/objectgate/gateway/internal/telemetry"
	"github.com/objectgate/gateway/pkg/config"
	"github.com/objectgate/gateway/pkg/event"
	"github.com/objectgate/gateway/pkg/metadata/store/postgres"
	"github.com/objectgate/gateway/pkg/metrics"
	"github.com/objectgate/gateway/pkg/resumable/notify"
	"github.com/objectgate/gateway/pkg/tenant"
	"github.com/objectgate/gateway/pkg/upload"
	"github.com/spf13/cobra"
)

var profilingFlag bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway's background services",
	Long: `Starts the gateway's backing services: the Postgres metadata store
connection, the blob backend, the tenant connection manager, the event
dispatcher, and the resumable-upload lock-release notifier.

This does not start an HTTP listener; the route surface that drives these
services (the REST/S3/TUS handlers) is run by a separate process. start is
the process an operator supervises (systemd, a Kubernetes Deployment) to
keep those background workers alive.

Examples:
  # Start with the default config location
  gateway start

  # Start with a custom config file
  gateway start --config /etc/gateway/config.yaml

  # Force-enable continuous profiling regardless of config
  gateway start --profiling`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&profilingFlag, "profiling", false, "enable continuous profiling, overriding server.profiling.enabled")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "gateway",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingEnabled := cfg.Server.Profiling.Enabled || profilingFlag
	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        profilingEnabled,
		ServiceName:    "gateway",
		ServiceVersion: Version,
		Endpoint:       cfg.Server.Profiling.Endpoint,
		ProfileTypes:   cfg.Server.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	logger.Info("gateway starting",
		"version", Version, "commit", Commit,
		"config_source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.Endpoint)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("profiling enabled", "endpoint", cfg.Server.Profiling.Endpoint)
	}

	metrics.Enable(cfg.Server.Metrics.Enabled)
	if metrics.IsEnabled() {
		logger.Info("inline prometheus counters enabled")
	}

	logger.Info("applying metadata store migrations")
	if err := postgres.RunMigrations(ctx, cfg.Database.DSN, logger.With()); err != nil {
		return fmt.Errorf("failed to migrate metadata store: %w", err)
	}

	store, err := postgres.Open(ctx, postgres.Config{
		DSN:                     cfg.Database.DSN,
		MaxConnections:          cfg.Database.MaxConnections,
		ConnectionTimeout:       cfg.Database.ConnectionTimeout,
		FreePoolAfterInactivity: cfg.Database.FreePoolAfterInactivity,
	}, logger.With())
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer store.Close()

	tenantManager := tenant.New(tenant.Options{
		MaxConnections: cfg.Database.MaxConnections,
		IdleTTL:        cfg.Database.FreePoolAfterInactivity,
		SingleTenant:   !cfg.Request.IsMultitenant,
		Logger:         logger.With(),
	})
	defer tenantManager.Stop()
	logger.Info("tenant connection manager ready", "multitenant", cfg.Request.IsMultitenant)

	backend, err := newBlobBackend(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize blob backend: %w", err)
	}
	logger.Info("blob backend ready", "backend", cfg.Storage.Backend)

	deletions := upload.NewDeletionQueue(backend, upload.DeletionQueueConfig{Logger: logger.With()})
	deletions.Start()
	defer deletions.Stop(10 * time.Second)
	logger.Info("deletion queue running")

	notifier := notify.New(store.Pool(), logger.With())
	go notifier.Run(ctx)
	logger.Info("lock-release notifier listening", "channel", notify.Channel)

	dispatcher := event.New(store, event.Config{
		WebhookURL:   cfg.Event.WebhookURL,
		MaxAttempts:  cfg.Event.MaxAttempts,
		BatchSize:    cfg.Event.BatchSize,
		PollInterval: cfg.Event.PollInterval,
		Logger:       logger.With(),
	})
	go dispatcher.Run(ctx)
	if cfg.Event.WebhookURL != "" {
		logger.Info("event dispatcher running", "webhook_url", cfg.Event.WebhookURL)
	} else {
		logger.Info("event dispatcher running with no webhook configured, events accumulate undelivered")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("gateway running, press Ctrl+C to stop")

	<-sigCh
	signal.Stop(sigCh)
	logger.Info("shutdown signal received, stopping background services")
	cancel()

	logger.Info("gateway stopped")
	return nil
}
