package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/josh-kwaku/wallet-reconciler/api"
	"github.com/josh-kwaku/wallet-reconciler/internal/config"
	"github.com/josh-kwaku/wallet-reconciler/internal/gateway"
	"github.com/josh-kwaku/wallet-reconciler/internal/handler"
	"github.com/josh-kwaku/wallet-reconciler/internal/logging"
	"github.com/josh-kwaku/wallet-reconciler/internal/middleware"
	"github.com/josh-kwaku/wallet-reconciler/internal/notify"
	"github.com/josh-kwaku/wallet-reconciler/internal/repository"
	"github.com/josh-kwaku/wallet-reconciler/internal/service"
	"github.com/josh-kwaku/wallet-reconciler/internal/service/reconcile"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("wallet-api", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
		PingAttempts:     cfg.DBPingAttempts,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := repository.NewLedgerStore(db, cfg.StoreTimeout)
	webhooks := repository.NewWebhookEventRepository(db)
	idempotency := repository.NewIdempotencyRepository(db)

	gw := gateway.NewClient(gateway.Config{
		BaseURL:     cfg.PaystackBaseURL,
		SecretKey:   cfg.PaystackSecretKey,
		CallbackURL: cfg.PaymentCallbackURL,
		Timeout:     cfg.GatewayTimeout,
	})

	pubsub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermill.NewSlogLogger(logger.With("component", "pubsub")),
	)
	defer pubsub.Close()

	engine := reconcile.NewEngine(store, gw, notify.NewEmitter(pubsub), cfg.FundingPolicy(), cfg.GatewayTimeout)

	processor := service.NewProcessor(db, webhooks, store, idempotency, engine,
		logger.With("component", "processor"),
		service.ProcessorConfig{
			Interval:  cfg.ProcessorInterval,
			BatchSize: cfg.ProcessorBatchSize,
			StaleAge:  cfg.StaleIntentAge,
			MaxAge:    cfg.StaleIntentMaxAge,
		},
	)
	forwarder := notify.NewForwarder(pubsub, cfg.NotifyURL, logger.With("component", "notify"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := forwarder.Run(ctx); err != nil {
			slog.Error("notification forwarder stopped", "error", err)
		}
	}()

	payments := handler.NewPaymentHandler(engine, store, cfg.Currency)
	webhookHandler := handler.NewWebhookHandler(webhooks, engine, cfg.PaystackSecretKey)
	health := handler.NewHealthHandler(store)

	authMW := middleware.Auth(cfg.JWTSecret)
	idemMW := middleware.Idempotency(idempotency, cfg.IdempotencyTTL)
	statusLimit := middleware.RateLimitByIP(cfg.StatusRateLimit, time.Minute)

	mux := http.NewServeMux()
	route := func(pattern string, h http.Handler) {
		mux.Handle(pattern, middleware.Metrics(pattern, h))
	}

	route("GET /health", http.HandlerFunc(health.Liveness))
	route("GET /health/ready", http.HandlerFunc(health.Readiness))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /docs", handler.ServeDocs("/docs/openapi.yaml"))
	mux.Handle("GET /docs/openapi.yaml", handler.ServeSpec(api.OpenAPISpec))

	route("POST /payments/initiate", authMW(idemMW(http.HandlerFunc(payments.Initiate))))
	route("POST /payments/webhook", http.HandlerFunc(webhookHandler.ReceivePaystackWebhook))
	route("GET /payments/status", statusLimit(authMW(http.HandlerFunc(payments.Status))))
	route("POST /payments/fallback", authMW(http.HandlerFunc(payments.Fallback)))
	route("GET /wallet/balance", authMW(http.HandlerFunc(payments.Balance)))
	route("GET /wallet/entries", authMW(http.HandlerFunc(payments.Entries)))

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           middleware.RequestID(middleware.Logging(middleware.Recovery(mux))),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	wg.Wait()
	slog.Info("server stopped")
}
