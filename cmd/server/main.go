package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Mohd-Ashhar/applyforge-main-sub001/internal"
	"github.com/Mohd-Ashhar/applyforge-main-sub001/internal/billing"
	"github.com/Mohd-Ashhar/applyforge-main-sub001/internal/domain"
	"github.com/Mohd-Ashhar/applyforge-main-sub001/internal/handler"
	"github.com/Mohd-Ashhar/applyforge-main-sub001/internal/metrics"
	"github.com/Mohd-Ashhar/applyforge-main-sub001/internal/middleware"
	"github.com/Mohd-Ashhar/applyforge-main-sub001/internal/repository"
	"github.com/Mohd-Ashhar/applyforge-main-sub001/internal/service"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// Initialize repository
	repo := repository.New(db)

	// Plan catalog, validated at startup. A malformed quota table is fatal.
	catalog := domain.DefaultCatalog()

	// Initialize services
	gate := service.NewUsageGate(repo, catalog, logger)
	entitlement := service.NewEntitlementService(repo, logger)

	// Stripe billing (optional; the webhook endpoint stays registered but rejects
	// unsigned payloads when billing is not configured)
	var billingService billing.Service
	if cfg.StripeSecretKey != "" {
		billingService = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.PriceConfig{
			BasicMonthlyPriceID: cfg.StripeBasicMonthlyPriceID,
			BasicYearlyPriceID:  cfg.StripeBasicYearlyPriceID,
			ProMonthlyPriceID:   cfg.StripeProMonthlyPriceID,
			ProYearlyPriceID:    cfg.StripeProYearlyPriceID,
		})
		logger.Info("Stripe billing enabled")
	} else {
		logger.Warn("Stripe billing disabled: STRIPE_SECRET_KEY not set")
	}

	// Initialize handlers
	usageHandler := handler.NewUsageHandler(gate, entitlement, catalog, logger)
	webhookHandler := handler.NewWebhookHandler(billingService, entitlement, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics (basic auth when configured)
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	// Service-to-service API routes
	serviceAuth := middleware.NewServiceAuthMiddleware(cfg.ServiceToken, logger)
	usageHandler.RegisterRoutes(mux, serviceAuth.Handler)

	// Stripe webhook (public, authenticated by signature verification)
	webhookHandler.RegisterRoutes(mux)

	// Global middleware stack
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	stack := middleware.Stack(
		loggingMw.Handler,
		metrics.Middleware,
	)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: stack(mux),
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
