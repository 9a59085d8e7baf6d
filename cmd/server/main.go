package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	appreconcile "github.com/storefront/integration/internal/application/reconcile"
	appwebhook "github.com/storefront/integration/internal/application/webhook"
	"github.com/storefront/integration/internal/domain/shared"
	"github.com/storefront/integration/internal/domain/webhook"
	"github.com/storefront/integration/internal/infrastructure/auth"
	"github.com/storefront/integration/internal/infrastructure/cache"
	"github.com/storefront/integration/internal/infrastructure/config"
	"github.com/storefront/integration/internal/infrastructure/erp"
	"github.com/storefront/integration/internal/infrastructure/logger"
	"github.com/storefront/integration/internal/infrastructure/notifier"
	"github.com/storefront/integration/internal/infrastructure/payment"
	"github.com/storefront/integration/internal/infrastructure/persistence"
	"github.com/storefront/integration/internal/infrastructure/scheduler"
	"github.com/storefront/integration/internal/infrastructure/signature"
	"github.com/storefront/integration/internal/infrastructure/statusmap"
	"github.com/storefront/integration/internal/infrastructure/telemetry"
	"github.com/storefront/integration/internal/interfaces/http/handler"
	"github.com/storefront/integration/internal/interfaces/http/middleware"
	"github.com/storefront/integration/internal/interfaces/http/router"
)

func main() {
	issueToken := flag.String("issue-admin-token", "", "issue an admin API token for the given subject and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *issueToken != "" {
		issueAdminToken(cfg, *issueToken)
		return
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync(log) }()

	log.Info("Starting integration backend",
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port))

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	// Redis backs dedup, event markers and admin token revocation. The
	// pipeline degrades to in-process equivalents when it is unreachable.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	redisUp := redisClient.Ping(pingCtx).Err() == nil
	cancelPing()

	var (
		dedup   shared.DedupStore
		marker  cache.EventMarker
		revoked auth.RevocationList
	)
	if redisUp {
		dedup = cache.NewRedisDedupStore(redisClient, "webhook:dedup:")
		marker = cache.NewRedisEventMarker(redisClient, cfg.Webhook.MarkerTTL)
		revoked = auth.NewRedisRevocationList(redisClient)
	} else {
		log.Warn("Redis unreachable, using in-memory dedup and markers",
			zap.String("addr", cfg.Redis.Addr()))
		memDedup := cache.NewInMemoryDedupStore()
		defer func() { _ = memDedup.Close() }()
		dedup = memDedup
		marker = cache.NewInMemoryEventMarker(cfg.Webhook.MarkerTTL)
		revoked = auth.NewInMemoryRevocationList()
	}

	// Repositories
	orderRepo := persistence.NewGormOrderRepository(db.DB)
	recordRepo := persistence.NewGormWebhookRecordRepository(db.DB)

	// Outbound clients
	erpTokens := erp.NewOAuthTokenProvider(erp.OAuthConfig{
		BaseURL:      cfg.ERP.BaseURL,
		ClientID:     cfg.ERP.ClientID,
		ClientSecret: cfg.ERP.ClientSecret,
		RefreshToken: cfg.ERP.RefreshToken,
		Timeout:      cfg.ERP.Timeout,
	}, log)
	erpClient := erp.NewClient(erp.Config{
		BaseURL:         cfg.ERP.BaseURL,
		Timeout:         cfg.ERP.Timeout,
		RateLimitPerSec: cfg.ERP.RateLimitPerSec,
		RateBurst:       cfg.ERP.RateBurst,
		RateWaitBudget:  cfg.ERP.RateWaitBudget,
	}, erpTokens, log)
	gateway := payment.NewGatewayClient(payment.Config{
		BaseURL: cfg.Gateway.BaseURL,
		APIKey:  cfg.Gateway.APIKey,
		Timeout: cfg.Gateway.Timeout,
	}, log)

	// Status resolution with dynamic catalog and static fallback
	resolver := statusmap.NewResolver(erpClient, cfg.StatusCache.TTL, log)

	metrics, err := telemetry.NewWebhookMetrics(telemetry.WebhookMetricsConfig{
		Meter:  otel.Meter("integration-backend"),
		Logger: log,
	})
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}

	alerts := notifier.NewLogNotifier(log)

	// Reconciliation engine and source handlers
	engine := appreconcile.NewEngine(orderRepo, erpClient, alerts, metrics, log)

	eventRouter := appwebhook.NewRouter(log)
	eventRouter.Register(webhook.SourceERP, "order",
		appwebhook.NewERPOrderHandler(orderRepo, erpClient, resolver, engine, log))
	eventRouter.Register(webhook.SourcePayment, "payment",
		appwebhook.NewPaymentHandler(orderRepo, gateway, engine, alerts, log))
	eventRouter.Register(webhook.SourceCarrier, "shipment",
		appwebhook.NewCarrierHandler(orderRepo, erpClient, resolver, engine, log))

	verifier := signature.NewVerifier(signature.Config{
		ERPSecret:     cfg.Webhook.ERPSecret,
		PaymentSecret: cfg.Webhook.PaymentSecret,
		Permissive:    cfg.Webhook.PermissiveSignatures,
	}, log)

	ingest := appwebhook.NewIngestService(
		recordRepo, verifier, eventRouter, dedup, marker, metrics,
		appwebhook.IngestConfig{DedupTTL: cfg.Webhook.DedupTTL}, log)

	// Periodic reconciliation sweep
	var reconciler *scheduler.Reconciler
	if cfg.Reconcile.Enabled {
		reconciler, err = scheduler.NewReconciler(
			cfg.Reconcile, orderRepo, erpClient, resolver, engine, metrics, log)
		if err != nil {
			log.Fatal("Failed to create reconciler", zap.Error(err))
		}
		if err := reconciler.Start(context.Background()); err != nil {
			log.Fatal("Failed to start reconciler", zap.Error(err))
		}
	}

	tokens := auth.NewTokenService(cfg.Admin)
	if !tokens.Enabled() {
		log.Warn("Admin API disabled: no admin.jwt_secret configured")
	}

	// HTTP layer
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	ginEngine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := ginEngine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Fatal("Invalid trusted proxies", zap.Error(err))
		}
	}
	ginEngine.Use(
		middleware.RequestID(),
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
	)

	webhookHandler := handler.NewWebhookHandler(ingest, log)
	auditHandler := handler.NewAuditHandler(recordRepo, ingest)
	systemHandler := handler.NewSystemHandler(dbPinger{db}, redisPinger{redisClient})
	adminHandler := handler.NewAdminHandler(ingest, resolver, reconcilerTrigger(reconciler), log)

	r := router.NewRouter(ginEngine)
	r.Register(webhookHandler).
		Register(auditHandler).
		Register(systemHandler).
		RegisterGuarded(adminHandler, middleware.AdminAuth(tokens, revoked))
	r.Setup()
	systemHandler.RegisterHealthRoute(ginEngine)

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        ginEngine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if reconciler != nil {
		if err := reconciler.Stop(ctx); err != nil {
			log.Warn("Reconciler did not stop cleanly", zap.Error(err))
		}
	}
	if err := redisClient.Close(); err != nil {
		log.Warn("Redis close failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// issueAdminToken prints a bearer token for the admin API. Meant for
// operators; the token inherits admin.token_ttl.
func issueAdminToken(cfg *config.Config, subject string) {
	tokens := auth.NewTokenService(cfg.Admin)
	if !tokens.Enabled() {
		fmt.Fprintln(os.Stderr, "admin.jwt_secret is not configured")
		os.Exit(1)
	}
	token, err := tokens.Issue(subject, "admin")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

// dbPinger adapts persistence.Database to the health probe surface.
type dbPinger struct {
	db *persistence.Database
}

func (p dbPinger) Ping(_ context.Context) error {
	return p.db.Ping()
}

// redisPinger adapts a go-redis client to the health probe surface.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// reconcilerTrigger passes a nil reconciler through as a nil interface so
// the admin handler can tell the feature is off.
func reconcilerTrigger(r *scheduler.Reconciler) handler.ReconcileTrigger {
	if r == nil {
		return nil
	}
	return r
}
