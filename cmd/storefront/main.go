// Storefront checkout service. Runs carts, checkout, gateway returns and
// post-payment order tracking in front of a WooCommerce backend.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-checkout/internal/analytics"
	"storefront-checkout/internal/cart"
	"storefront-checkout/internal/checkout"
	"storefront-checkout/internal/config"
	"storefront-checkout/internal/handler"
	"storefront-checkout/internal/mercadopago"
	"storefront-checkout/internal/metrics"
	"storefront-checkout/internal/middleware"
	"storefront-checkout/internal/payment"
	"storefront-checkout/internal/pricing"
	"storefront-checkout/internal/reconcile"
	"storefront-checkout/internal/returns"
	"storefront-checkout/internal/session"
	"storefront-checkout/internal/store"
	"storefront-checkout/internal/webpay"
	"storefront-checkout/internal/woocommerce"
)

const (
	janitorInterval = 10 * time.Minute
	// markerRetention bounds how long an abandoned payment attempt's
	// marker survives.
	markerRetention = 24 * time.Hour
	limiterIdle     = 30 * time.Minute
	// notifiedRetention bounds the reconciler's fire-once guards.
	notifiedRetention = 24 * time.Hour
)

// notifier is a purchase event sink that holds a connection.
type notifier interface {
	reconcile.Notifier
	io.Closer
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Initialize structured logger
	logger := initLogger()

	// Load configuration
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Info("configuration loaded",
		slog.String("store_id", cfg.StoreID),
		slog.String("environment", cfg.Environment),
		slog.String("public_base_url", cfg.PublicBaseURL),
		slog.Bool("webpay", cfg.Credentials.Webpay.Enabled()),
		slog.Bool("mercadopago", cfg.Credentials.MercadoPago.Enabled()),
	)

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	backend, err := woocommerce.New(woocommerce.Config{
		StoreURL:  cfg.Credentials.WooCommerce.StoreURL,
		APIKey:    cfg.Credentials.WooCommerce.ConsumerKey,
		APISecret: cfg.Credentials.WooCommerce.ConsumerSecret,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating woocommerce client: %w", err)
	}

	catalog, err := pricing.NewCatalog(cfg.ShippingOptions, cfg.FreeShippingThreshold)
	if err != nil {
		return fmt.Errorf("building shipping catalog: %w", err)
	}

	m := metrics.New()
	carts := cart.NewService(st)

	// Payment gateways
	var gateways []payment.Gateway
	var webpayClient *webpay.Client
	if wp := cfg.Credentials.Webpay; wp.Enabled() {
		webpayClient, err = webpay.New(webpay.Config{
			BaseURL:      wp.BaseURL,
			CommerceCode: wp.CommerceCode,
			APIKey:       wp.APIKey,
			ReturnURL:    cfg.WebpayReturnURL(),
			Logger:       logger,
		})
		if err != nil {
			return fmt.Errorf("creating webpay client: %w", err)
		}
		gateways = append(gateways, webpayClient)
	}
	if mp := cfg.Credentials.MercadoPago; mp.Enabled() {
		mpClient, err := mercadopago.New(mercadopago.Config{
			AccessToken:     mp.AccessToken,
			Sandbox:         mp.Sandbox,
			NotificationURL: mp.NotificationURL,
			BackURLs: mercadopago.BackURLs{
				Success: cfg.MercadoPagoBackURL(returns.ViewSuccess),
				Failure: cfg.MercadoPagoBackURL(returns.ViewFailure),
				Pending: cfg.MercadoPagoBackURL(returns.ViewPending),
			},
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("creating mercadopago client: %w", err)
		}
		gateways = append(gateways, mpClient)
	}

	if !cfg.ClearCartOnPreferenceRedirect {
		logger.Info("cart kept on preference redirect until confirmation")
	}
	orch, err := checkout.New(checkout.Config{
		Carts:                         carts,
		Catalog:                       catalog,
		Backend:                       backend,
		Markers:                       st,
		Snapshots:                     st,
		Gateways:                      gateways,
		Currency:                      cfg.Currency,
		Country:                       cfg.Country,
		ClearCartOnPreferenceRedirect: cfg.ClearCartOnPreferenceRedirect,
		AttemptTimeout:                cfg.AttemptTimeout,
		Metrics:                       m,
		Logger:                        logger,
	})
	if err != nil {
		return fmt.Errorf("creating checkout orchestrator: %w", err)
	}

	// Return handlers
	var webpayReturns *returns.Webpay
	if webpayClient != nil {
		webpayReturns = returns.NewWebpay(returns.WebpayConfig{
			Confirmer: payment.NewOnceConfirmer(webpayClient, st, logger),
			Markers:   st,
			Ledger:    st,
			Status:    webpayClient,
			Backend:   backend,
			Carts:     carts,
			Checkouts: orch,
			Metrics:   m,
			Logger:    logger,
		})
	}
	var mpReturns *returns.MercadoPago
	if cfg.Credentials.MercadoPago.Enabled() {
		mpReturns = returns.NewMercadoPago(st, orch, m, logger)
	}

	// Purchase events go to Kafka when brokers are configured
	var events notifier = analytics.LogNotifier{Logger: logger}
	if len(cfg.KafkaBrokers) > 0 {
		kn, err := analytics.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			return fmt.Errorf("creating kafka notifier: %w", err)
		}
		events = kn
	}
	defer events.Close()

	rec := reconcile.New(reconcile.Config{
		Orders:       backend,
		Notifier:     events,
		PollInterval: cfg.PollInterval,
		MaxPolls:     cfg.MaxPolls,
		Currency:     cfg.Currency,
		Metrics:      m,
		Logger:       logger,
	})

	h := handler.New(handler.Config{
		Backend:     backend,
		Carts:       carts,
		Checkouts:   orch,
		Catalog:     catalog,
		Webpay:      webpayReturns,
		MercadoPago: mpReturns,
		Reconciler:  rec,
		Snapshots:   st,
		Metrics:     m,
		Ping:        st.Ping,
		Logger:      logger,
	})

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Apply middleware chain: recovery → logging → session → rate limit → metrics → handler
	// Recovery must be outermost to catch panics from logging middleware
	// Session resolves the cart id before anything keyed on it runs
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	chain := []func(http.Handler) http.Handler{
		middleware.Recovery(logger),
		middleware.Logging(logger),
		session.Middleware(session.Config{
			MinClientVersion: cfg.MinClientVersion,
			SecureCookie:     cfg.SecureCookies(),
		}, logger),
	}
	if cfg.RateLimitRPS > 0 {
		chain = append(chain, limiter.Middleware(middleware.MutatingRequests))
	}
	chain = append(chain, middleware.Metrics(m))
	httpHandler := middleware.Chain(chain...)(mux)

	// Create HTTP server with timeouts. No WriteTimeout: order event
	// streams stay open for the whole polling window.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go runJanitor(janitorCtx, st, rec, limiter, logger)

	// Channel for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Channel for server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// runJanitor drops stale payment markers, old notification guards and idle
// rate limiter entries.
func runJanitor(ctx context.Context, st *store.Store, rec *reconcile.Reconciler, limiter *middleware.RateLimiter, logger *slog.Logger) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := st.DeleteMarkersBefore(ctx, now.Add(-markerRetention))
			if err != nil {
				logger.Warn("marker cleanup failed", slog.String("error", err.Error()))
			} else if n > 0 {
				logger.Info("stale payment markers removed", slog.Int64("count", n))
			}
			if n := rec.Forget(now.Add(-notifiedRetention)); n > 0 {
				logger.Debug("notification guards dropped", slog.Int("count", n))
			}
			limiter.Sweep(limiterIdle)
		}
	}
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	if os.Getenv("ENVIRONMENT") == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
