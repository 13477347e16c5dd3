package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/merlinn-co/merlinn/pkg/agent"
	"github.com/merlinn-co/merlinn/pkg/api"
	"github.com/merlinn-co/merlinn/pkg/cleanup"
	"github.com/merlinn-co/merlinn/pkg/config"
	"github.com/merlinn-co/merlinn/pkg/database"
	"github.com/merlinn-co/merlinn/pkg/events"
	"github.com/merlinn-co/merlinn/pkg/masking"
	"github.com/merlinn-co/merlinn/pkg/queue"
	"github.com/merlinn-co/merlinn/pkg/runbook"
	"github.com/merlinn-co/merlinn/pkg/secrets"
	"github.com/merlinn-co/merlinn/pkg/services"
	"github.com/merlinn-co/merlinn/pkg/slack"
	"github.com/merlinn-co/merlinn/pkg/store"
	"github.com/merlinn-co/merlinn/pkg/telemetry"
	"github.com/merlinn-co/merlinn/pkg/tools"
	"github.com/merlinn-co/merlinn/pkg/triage"
	"github.com/merlinn-co/merlinn/pkg/vectorindex"
	"github.com/merlinn-co/merlinn/pkg/version"
	"github.com/merlinn-co/merlinn/pkg/webhook"
)

const tokenTTL = 24 * time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and webhook receiver",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	podID := resolvePodID()
	slog.Info("Starting Merlinn",
		"pod_id", podID,
		"version", version.GitCommit,
		"config_dir", configDir)

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	// 2. Tracing
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:  cfg.Telemetry.ServiceName,
		Version:      version.GitCommit,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Error("Error flushing traces", "error", err)
		}
	}()

	// 3. Initialize database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	db := dbClient.DB()
	slog.Info("Connected to PostgreSQL database")

	indexes := store.NewIndexStore(db)
	integrations := store.NewIntegrationStore(db)
	organizations := store.NewOrganizationStore(db)
	plans := store.NewPlanStore(db)
	users := store.NewUserStore(db)
	webhooks := store.NewWebhookStore(db)

	cipher, err := secrets.NewCipher(cfg.Credentials.EncryptionKey())
	if err != nil {
		return fmt.Errorf("failed to initialize credential cipher: %w", err)
	}

	// 4. System event bus
	bus := events.Init(events.Options{
		Env: cfg.System.Environment,
		Sinks: []events.Sink{
			events.NewLogSink(nil),
			events.NewNotifySink(db),
		},
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := events.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Event bus did not drain", "error", err)
		}
	}()

	// 5. Domain services
	quota := services.NewQuotaService(plans)
	refresher := services.NewOAuthRefresher(cfg.Vendors)
	credentials := services.NewCredentialService(integrations, cipher, refresher, cfg.Vendors)

	health := map[string]api.HealthChecker{
		"database": func(ctx context.Context) error {
			_, err := database.Health(ctx, db)
			return err
		},
	}

	// The pool reports builder rejections back to the index service, which
	// needs the pool as its dispatcher.
	var indexService *services.IndexService
	var dispatcher queue.Dispatcher
	var pool *queue.WorkerPool
	switch cfg.Index.Dispatcher {
	case config.DispatcherRedis:
		rdb := queue.NewRedisClient(cfg.Index.Redis)
		defer func() {
			if err := rdb.Close(); err != nil {
				slog.Error("Error closing Redis client", "error", err)
			}
		}()
		dispatcher = queue.NewRedisDispatcher(rdb, cfg.Index.Redis.ListKey)
		health["redis"] = redisHealth(rdb)
		slog.Info("Index builds dispatched through Redis", "addr", cfg.Index.Redis.Addr)
	default:
		builder := queue.NewHTTPBuilder(cfg.Index.BuilderURL, cfg.Index.BuildTimeout)
		pool = queue.NewWorkerPool(podID, cfg.Index.WorkerCount, cfg.Index.QueueSize, builder,
			func(ctx context.Context, task queue.BuildTask, err error) {
				indexService.FailBuild(ctx, task, err)
			})
		dispatcher = pool
		health["queue"] = func(context.Context) error {
			if !pool.Health().IsHealthy {
				return errors.New("no build workers running")
			}
			return nil
		}
	}

	vectors, err := vectorindex.New(cfg.Index.Weaviate)
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %w", err)
	}

	indexService = services.NewIndexService(indexes, integrations, credentials, quota, dispatcher, vectors, bus)
	integrationService := services.NewIntegrationService(integrations, cipher)
	webhookService := services.NewWebhookService(webhooks)
	userService := services.NewUserService(users, bus)
	slog.Info("Services initialized")

	// 6. Alert pipeline
	maskingService := masking.NewService(cfg.Masking)
	registry := tools.NewDefaultRegistry(maskingService, cfg.Alerts)
	gateway := webhook.NewDefaultGateway(webhooks, organizations, integrations, quota, credentials, cfg)
	runner := agent.NewRunner(agent.NewOpenAIClient(cfg.Agent), cfg.Agent, cfg.System)
	pipeline := triage.NewPipeline(gateway, triage.SlackOpener(slack.NewFactory(cfg.Slack)),
		registry, runner, quota, bus, cfg.Alerts,
		triage.WithRunbooks(runbook.NewService(cfg.Runbooks)))
	slog.Info("Alert pipeline initialized", "model", cfg.Agent.Model)

	// 7. Start build workers and the stale build sweep (before HTTP server)
	if pool != nil {
		if err := pool.Start(ctx); err != nil {
			return fmt.Errorf("failed to start worker pool: %w", err)
		}
	}
	sweeper := cleanup.NewService(cfg.Index, indexService)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// 8. Create and start HTTP server (non-blocking)
	httpServer := api.NewServer(cfg, api.Deps{
		Pipeline:     pipeline,
		Indexes:      indexService,
		Integrations: integrationService,
		Webhooks:     webhookService,
		Users:        userService,
		Tokens:       api.NewTokenService(cfg.Auth.JWTSecret(), tokenTTL),
		Health:       health,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	stats := cfg.Stats()
	slog.Info("Merlinn started successfully",
		"pod_id", podID,
		"address", cfg.Server.Address,
		"dispatcher", cfg.Index.Dispatcher,
		"refreshable_vendors", stats.RefreshableVendors,
		"masking_patterns", stats.MaskingPatterns)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case serveErr = <-errCh:
		slog.Error("Server error triggered shutdown", "error", serveErr)
	}

	// 10. Graceful shutdown: stop intake first, then drain build workers.
	httpShutdownCtx, httpCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if pool != nil {
		done := make(chan struct{})
		go func() {
			pool.Stop()
			close(done)
		}()

		workerCtx, workerCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer workerCancel()
		select {
		case <-done:
			slog.Info("Worker pool stopped gracefully")
		case <-workerCtx.Done():
			slog.Warn("Shutdown timeout exceeded, queued builds were not handed to the builder")
		}
	}

	slog.Info("Shutdown complete")
	return serveErr
}

func redisHealth(rdb *redis.Client) api.HealthChecker {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
