package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"storefront_pay_echo/internal/config"
	"storefront_pay_echo/internal/handlers"
	"storefront_pay_echo/internal/middleware"
	"storefront_pay_echo/internal/services"
	"storefront_pay_echo/internal/tasks"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Database
	db, err := services.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := services.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Redis is optional unless the redis dispatcher is selected
	var cache *services.RedisCache
	if cfg.RedisURL != "" {
		cache, err = services.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer cache.Close()
	} else {
		logger.Warn("REDIS_URL not set, running without cache")
	}

	// Initialize Firebase
	authClient, err := services.InitFirebase(ctx, cfg.FirebaseCredentialsPath)
	if err != nil {
		logger.Warn("firebase initialization failed, auth endpoints will reject requests", "error", err)
	}
	var sessions middleware.SessionVerifier
	var issuer handlers.SessionIssuer
	if authClient != nil {
		sessions, issuer = authClient, authClient
	}

	provider := newProvider(cfg, cache)
	logger.Info("payment provider selected", "provider", provider.Name())

	var events services.PaymentEvents
	local := services.NewDispatcher(logger)
	switch cfg.PaymentDispatcher {
	case config.DispatcherRedis:
		rd := services.NewRedisDispatcher(cache.Client(), local, logger)
		runErr := make(chan error, 1)
		go func() { runErr <- rd.Run(ctx) }()
		select {
		case <-rd.Ready():
		case err := <-runErr:
			log.Fatalf("Redis dispatcher failed to start: %v", err)
		}
		go func() {
			if err := <-runErr; err != nil {
				logger.Error("redis dispatcher stopped", "error", err)
			}
		}()
		events = rd
	default:
		events = local
	}

	store := services.NewPaymentStore(db, cache)
	paymentSvc := services.NewPaymentService(store, services.NewOrderStore(db), provider, cfg.PaymentCurrency, logger)
	webhookSvc := services.NewWebhookService(db, store, events, tasks.NewReceiptScheduler(db), logger)

	// the signed notification route needs Midtrans keys even when bank QR is the active provider
	var verifier handlers.SignatureVerifier
	if cfg.Midtrans.ServerKey != "" {
		verifier = services.NewMidtransService(cfg.Midtrans.ServerKey, cfg.Midtrans.ClientKey, cfg.Midtrans.IsProduction)
	}

	if len(cfg.WebhookAllowedIPs) == 0 {
		logger.Warn("PAYMENT_WEBHOOK_ALLOWED_IPS is empty, webhook endpoints accept any caller")
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.IPExtractor = echo.ExtractIPDirect()
	e.HTTPErrorHandler = middleware.NewErrorHandler(logger)

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.Recover())

	handlers.RegisterRoutes(e, handlers.Routes{
		Auth:          handlers.NewAuthHandler(issuer, db, cfg.IsProduction(), logger),
		Payments:      handlers.NewPaymentHandler(paymentSvc, store, logger),
		Webhooks:      handlers.NewWebhookHandler(webhookSvc, verifier, logger),
		Status:        handlers.NewStatusStreamHandler(store, events, cfg.StreamHeartbeat, logger),
		Sessions:      sessions,
		WebhookIPs:    cfg.WebhookAllowedIPs,
		SecureCookies: cfg.IsProduction(),
		Logger:        logger,
	})

	// Start server
	go func() {
		logger.Info("server starting", "port", cfg.Port, "env", cfg.AppEnv, "dispatcher", cfg.PaymentDispatcher)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func newProvider(cfg *config.Config, cache *services.RedisCache) services.QRProvider {
	switch cfg.PaymentProvider {
	case config.ProviderMidtrans:
		return services.NewMidtransService(cfg.Midtrans.ServerKey, cfg.Midtrans.ClientKey, cfg.Midtrans.IsProduction)
	default:
		return services.NewQRBankService(cfg.QRBank.BaseURL, cfg.QRBank.APIKey, cfg.QRBank.APISecret, cfg.QRBank.BillerID, cache)
	}
}
