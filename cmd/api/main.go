package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/didash/notifier/internal/config"
	"github.com/didash/notifier/internal/domain"
	"github.com/didash/notifier/internal/handler"
	"github.com/didash/notifier/internal/infra/postgresql"
	"github.com/didash/notifier/internal/infra/postgresql/migrations"
	"github.com/didash/notifier/internal/ingest"
	"github.com/didash/notifier/internal/observability"
	"github.com/didash/notifier/internal/provider"
	"github.com/didash/notifier/internal/repository"
	"github.com/didash/notifier/internal/service"
	"github.com/didash/notifier/internal/transport"
)

func main() {
	// Local development reads a .env file; production relies on the real
	// environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("notifier exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	metrics := observability.NewMetrics()

	smtpTransport, err := provider.NewSMTPTransport(provider.SMTPConfig{
		Host:          cfg.SMTPHost,
		Port:          cfg.SMTPPort,
		LocalHostname: cfg.SMTPLocalHostname,
		Timeout:       cfg.SMTPTimeout(),
		StartTLS:      cfg.SMTPStartTLS,
	})
	if err != nil {
		return fmt.Errorf("smtp transport initialization failed: %w", err)
	}

	sender, err := service.NewBulkSender(smtpTransport, cfg.SMTPFrom, cfg.SMTPMaxRetries, cfg.SMTPBackoff(), logger)
	if err != nil {
		return fmt.Errorf("bulk sender initialization failed: %w", err)
	}
	sender.SetMetrics(metrics)

	delivery, err := service.NewDeliveryService(
		repository.NewGormRecipientRepo(db),
		repository.NewGormReconcileRepo(db),
		sender,
		logger,
	)
	if err != nil {
		return fmt.Errorf("delivery service initialization failed: %w", err)
	}
	delivery.SetMetrics(metrics)

	cycleOpts := service.CycleOptions{
		FetchLimit: cfg.FetchLimit,
		ChunkSize:  cfg.ReconcileChunkSize,
	}
	if cfg.NotifyKind != "" {
		kind, err := domain.ParseKindFromString(cfg.NotifyKind)
		if err != nil {
			return err
		}
		cycleOpts.Kind = kind
	}

	envelope := domain.MessageEnvelope{
		Subject: "You have documents pending classification review",
		Body:    "Please review the documents assigned to you on the dashboard.",
	}
	scheduler, err := service.NewScheduler(delivery, cfg.NotifyDomain, envelope, cycleOpts, cfg.SchedulerInterval(), logger)
	if err != nil {
		return fmt.Errorf("scheduler initialization failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := scheduler.Start(ctx); err != nil {
			logger.Error("scheduler stopped", zap.Error(err))
		}
	}()

	// A fresh export waiting in the pickup path gets loaded before the first
	// scheduled cycle can pick its recipients up.
	go runIngest(ctx, cfg, db, logger)

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB)
	if err := handler.RegisterCycleRoutes(app, delivery); err != nil {
		return fmt.Errorf("route registration failed: %w", err)
	}

	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(metrics.Handler())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metricsHandler(c.Context())
		return nil
	})

	go func() {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			logger.Error("fiber shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("notifier api started",
		zap.Int("port", cfg.APIPort),
		zap.String("loadDomain", cfg.NotifyDomain),
	)
	return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
}

func runIngest(ctx context.Context, cfg *config.Config, db *gorm.DB, logger *zap.Logger) {
	if _, err := os.Stat(cfg.PickupPath); err != nil {
		logger.Info("pickup path not available, ingest skipped", zap.String("path", cfg.PickupPath))
		return
	}

	processor, err := ingest.NewProcessor(
		repository.NewGormRawDocumentRepo(db),
		cfg.PickupPath,
		cfg.NotifyDomain,
		cfg.IngestBatchRows,
		cfg.IngestConcurrency,
		logger,
	)
	if err != nil {
		logger.Error("ingest initialization failed", zap.Error(err))
		return
	}

	if _, err := processor.Run(ctx); err != nil {
		logger.Error("ingest run failed", zap.Error(err))
	}
}
