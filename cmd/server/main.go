package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/maneesh/filelink/internal/access"
	"github.com/maneesh/filelink/internal/bot"
	"github.com/maneesh/filelink/internal/chunker"
	"github.com/maneesh/filelink/internal/config"
	"github.com/maneesh/filelink/internal/handlers"
	"github.com/maneesh/filelink/internal/ident"
	"github.com/maneesh/filelink/internal/logging"
	"github.com/maneesh/filelink/internal/metrics"
	"github.com/maneesh/filelink/internal/registry"
	"github.com/maneesh/filelink/internal/storage"
	"github.com/maneesh/filelink/internal/sweeper"
	"github.com/maneesh/filelink/internal/tracing"
)

var version = "dev"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatal("failed to read .env", "err", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("invalid configuration", "err", err)
	}

	logger := logging.New(cfg.LogLevel, os.Stderr)
	logger.Info("starting", "service", cfg.ServiceName, "version", version, "port", cfg.ServicePort,
		"registry", cfg.RegistryBackend, "blobs", cfg.BlobBackend, "mode", cfg.BotMode, "ttl", cfg.FileTTL)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service failed", "err", err)
	}
	logger.Info("service exited")
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry tracing
	shutdownTracer := tracing.ShutdownFunc(tracing.Noop)
	if cfg.TracingEnabled {
		var err error
		if shutdownTracer, err = tracing.InitTracer(ctx, cfg.ServiceName, version,
			cfg.JaegerEndpoint, cfg.TracingSampleRatio); err != nil {
			return err
		}
		logger.Info("tracing enabled", "endpoint", cfg.JaegerEndpoint, "sample_ratio", cfg.TracingSampleRatio)
	}
	defer flush(logger, "tracer", shutdownTracer)

	blobs, err := openBlobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	policy := access.NewPolicy(cfg.AdminID)
	if policy.AdminID() == "" {
		logger.Warn("ADMIN_ID is empty, admin commands are disabled")
	}

	reg, closeRegistry, err := openRegistry(cfg, blobs, policy, logger)
	if err != nil {
		return err
	}
	defer closeRegistry()

	metrics.RegisterRegistryGauges(prometheus.DefaultRegisterer, reg.Stats)

	var audit bot.AuditLog
	if cfg.AuditEnabled {
		logger.Info("connecting to MySQL audit log")
		auditClient, err := storage.NewAuditClient(ctx, cfg.GetDSN())
		if err != nil {
			return err
		}
		defer auditClient.Close()
		audit = auditClient
	}

	sw := sweeper.New(reg, cfg.SweepInterval, logger)
	sw.Start(ctx)
	defer sw.Stop()

	tg, err := bot.NewTelegram(cfg.BotToken, bot.TelegramOptions{}, logger)
	if err != nil {
		return err
	}

	dispatcher := bot.NewDispatcher(bot.Options{
		Registry:    reg,
		Blobs:       blobs,
		Files:       tg,
		Messenger:   tg,
		Policy:      policy,
		IDs:         ident.UUIDAllocator{},
		Chunker:     chunker.NewChunker(cfg.MessageLimit),
		LinkFor:     cfg.DownloadURL,
		Pause:       cfg.MessagePause,
		MaxFileSize: bot.FileSizeLimit,
		Audit:       audit,
		Logger:      logger,
	})

	// Setup HTTP router
	router := handlers.NewRouter(
		handlers.NewDownloadHandler(reg, blobs, logger),
		handlers.NewStatusHandler(reg, cfg.ServiceName, logger),
	)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if cfg.BotMode == config.ModeWebhook {
		router.Handle("/telegram/webhook",
			otelhttp.NewHandler(tg.WebhookHandler(ctx, dispatcher), "POST /telegram/webhook"),
		).Methods(http.MethodPost)
	}

	// No WriteTimeout: downloads stream whole files.
	srv := &http.Server{
		Addr:        ":" + cfg.ServicePort,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// polling mode reports its exit here; webhook mode leaves it nil
	var botDone chan error
	if cfg.BotMode == config.ModeWebhook {
		if err := tg.SetWebhook(cfg.WebhookURL); err != nil {
			return err
		}
	} else {
		botDone = make(chan error, 1)
		go func() { botDone <- tg.Run(ctx, dispatcher) }()
	}

	var botErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case botErr = <-botDone:
		botDone = nil
	}
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", "err", err)
	}

	if botDone != nil {
		botErr = <-botDone
	}
	// webhook handlers still in flight
	tg.Wait()
	return botErr
}

func openBlobStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (storage.BlobStore, error) {
	switch cfg.BlobBackend {
	case config.BackendMinIO:
		logger.Info("connecting to MinIO", "endpoint", cfg.MinIOEndpoint, "bucket", cfg.MinIOBucketName)
		return storage.NewMinioStore(ctx, cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey,
			cfg.MinIOBucketName, cfg.MinIOUseSSL)
	default:
		logger.Info("storing blobs on disk", "dir", cfg.DataDir)
		return storage.NewFileStore(afero.NewOsFs(), cfg.DataDir)
	}
}

func openRegistry(cfg *config.Config, blobs storage.BlobStore, policy access.Policy, logger *log.Logger) (registry.FileRegistry, func(), error) {
	opts := registry.Options{
		TTL:                cfg.FileTTL,
		TombstoneRetention: cfg.TombstoneRetention,
		TombstoneCapacity:  cfg.TombstoneCapacity,
		Logger:             logger,
	}

	if cfg.RegistryBackend == config.BackendRedis {
		logger.Info("connecting to Redis", "addr", cfg.GetRedisAddr())
		rc, err := storage.NewRedisClient(cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return registry.NewRedis(rc, blobs, policy, opts), func() { rc.Close() }, nil
	}

	logger.Warn("in-memory registry: file records are lost on restart")
	return registry.NewMemory(blobs, policy, opts), func() {}, nil
}

func flush(logger *log.Logger, name string, fn tracing.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("shutdown error", "component", name, "err", err)
	}
}
