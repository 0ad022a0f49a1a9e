package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"storefront_pay_echo/internal/config"
	"storefront_pay_echo/internal/services"
	"storefront_pay_echo/internal/tasks"
)

const tickInterval = time.Minute

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "worker")
	slog.SetDefault(logger)

	db, err := services.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	var cache *services.RedisCache
	if cfg.RedisURL != "" {
		cache, err = services.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer cache.Close()
	}

	// Publishing through Redis wakes status streams held by any server instance.
	// Without it the servers pick the change up on their next heartbeat.
	var events services.PaymentEvents = services.NewDispatcher(logger)
	if cfg.PaymentDispatcher == config.DispatcherRedis {
		events = services.NewRedisDispatcher(cache.Client(), services.NewDispatcher(logger), logger)
	}

	store := services.NewPaymentStore(db, cache)
	deps := tasks.Deps{
		Payments:   store,
		Webhooks:   services.NewWebhookService(db, store, events, tasks.NewReceiptScheduler(db), logger),
		Mailer:     services.NewEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.EmailFrom),
		PendingTTL: cfg.PendingTTL,
		Logger:     logger,
	}
	if cfg.Midtrans.ServerKey != "" {
		deps.Checker = services.NewMidtransService(cfg.Midtrans.ServerKey, cfg.Midtrans.ClientKey, cfg.Midtrans.IsProduction)
	}

	registry := tasks.NewRegistry()
	tasks.DefineTasks(registry, deps)
	runner := tasks.NewRunner(db, registry, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if created, err := tasks.EnsureExpirySweep(ctx, db, time.Now()); err != nil {
		logger.Error("failed to ensure expiry sweep", "error", err)
	} else if created {
		logger.Info("expiry sweep scheduled", "rule", tasks.ExpireStalePaymentsRule)
	}

	logger.Info("worker started", "interval", tickInterval.String(), "tasks", registry.Names())

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	process(ctx, runner, logger)
	for {
		select {
		case <-ticker.C:
			process(ctx, runner, logger)
		case <-ctx.Done():
			logger.Info("shutting down worker")
			return
		}
	}
}

func process(ctx context.Context, runner *tasks.Runner, logger *slog.Logger) {
	ran, err := runner.RunDue(ctx)
	if err != nil {
		logger.Error("task run failed", "error", err)
		return
	}
	if ran > 0 {
		logger.Info("processed scheduled tasks", "count", ran)
	}
}
