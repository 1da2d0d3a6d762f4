package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fluxapay-backend/config"
	httpHandler "fluxapay-backend/internal/adapter/http/handler"
	"fluxapay-backend/internal/adapter/http/middleware"
	"fluxapay-backend/internal/adapter/ledger/stellar"
	pgStorage "fluxapay-backend/internal/adapter/storage/postgres"
	redisStorage "fluxapay-backend/internal/adapter/storage/redis"
	"fluxapay-backend/internal/core/ports"
	"fluxapay-backend/internal/service"
	"fluxapay-backend/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting FluxaPay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	paymentRepo := pgStorage.NewPaymentRepo(pool)
	merchantRepo := pgStorage.NewMerchantRepo(pool)
	idempotencyRepo := pgStorage.NewIdempotencyRepo(pool)

	// Initialize Redis stores
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	lockStore := redisStorage.NewLockStore(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// HD wallet: the master seed stays in process memory and is never logged.
	walletSvc, err := service.NewHDWalletService(cfg.Wallet.MasterSeed)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize HD wallet")
	}

	// Ledger client
	ledgerClient := stellar.NewClient(cfg.Stellar.HorizonURL, cfg.Stellar.SubmitTimeout)

	// Core services
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	paymentSvc := service.NewPaymentService(paymentRepo, walletSvc, cfg.Payment.Expiry, log)

	// Webhook notifications require an encryption key for the stored merchant
	// secrets. Without one, sweeps still run but merchants are not notified.
	var notifier ports.WebhookNotifier
	if cfg.Security.EncryptionKey != "" {
		encSvc, err := service.NewAESEncryptionService(cfg.Security.EncryptionKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize encryption service")
		}
		sigSvc := service.NewHMACSignatureService()
		notifier = service.NewWebhookService(merchantRepo, encSvc, sigSvc, &http.Client{Timeout: 10 * time.Second}, log)
	} else {
		log.Warn().Msg("security.encryption_key not set, webhook notifications disabled")
	}

	sweepSvc := service.NewSweepService(
		paymentRepo,
		walletSvc,
		ledgerClient,
		lockStore,
		notifier,
		service.SweepConfig{
			TreasuryAddress:    cfg.Stellar.TreasuryAddress,
			AssetCode:          cfg.Stellar.AssetCode,
			AssetIssuer:        cfg.Stellar.AssetIssuer,
			FundingAddress:     cfg.Stellar.FundingAddress,
			EnableAccountMerge: cfg.Stellar.EnableAccountMerge,
			NetworkPassphrase:  cfg.Stellar.NetworkPassphrase,
			Concurrency:        cfg.Sweep.Concurrency,
			BatchSize:          cfg.Sweep.BatchSize,
			PaymentTimeout:     cfg.Sweep.PaymentTimeout,
			RunLockTTL:         cfg.Sweep.RunLockTTL,
		},
		log,
	)

	// Background sweep scheduler
	if cfg.Sweep.Enabled {
		go sweepSvc.Start(ctx, cfg.Sweep.Interval)
		log.Info().Dur("interval", cfg.Sweep.Interval).Msg("Sweep scheduler started")
	}

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		PaymentSvc: paymentSvc,
		SweepSvc:   sweepSvc,
		TokenSvc:   tokenSvc,
		IdemRepo:   idempotencyRepo,
		IdemCache:  idempotencyCache,
		IdemLocker: lockStore,
		IdemOpts: middleware.IdempotencyOptions{
			TTL:     cfg.Idempotency.TTL,
			LockTTL: cfg.Idempotency.LockTTL,
			Wait:    cfg.Idempotency.Wait,
		},
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
