package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/marketloop/checkout/internal/domain/cart"
	"github.com/marketloop/checkout/internal/domain/order"
	"github.com/marketloop/checkout/internal/domain/payment"
	"github.com/marketloop/checkout/internal/gateway"
	"github.com/marketloop/checkout/internal/handler"
	"github.com/marketloop/checkout/internal/repository"
	"github.com/marketloop/checkout/pkg/health"
	"github.com/marketloop/checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, _ *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.SetReady(true)

	// Repositories over one shared DB handle.
	db := repository.NewDB(pool)
	txm := repository.NewTxManager(pool, cfg.Checkout.AcquireTimeout, cfg.Checkout.ExecTimeout)
	productRepo := repository.NewProductRepository(db)
	cartRepo := repository.NewCartRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	// Payment gateways: the method→gateway binding is fixed here, at startup.
	registry := payment.NewRegistry(map[payment.Method]payment.Gateway{
		payment.MethodCard: gateway.NewCardlink(gateway.Config{
			BaseURL: cfg.Card.BaseURL,
			APIKey:  cfg.Card.APIKey,
			Secret:  cfg.Card.Secret,
			Timeout: cfg.Card.Timeout,
		}),
		payment.MethodWallet: gateway.NewSwiftWallet(gateway.Config{
			BaseURL: cfg.Wallet.BaseURL,
			APIKey:  cfg.Wallet.APIKey,
			Secret:  cfg.Wallet.Secret,
			Timeout: cfg.Wallet.Timeout,
		}),
	})

	// Domain services.
	cartSvc := cart.NewService(cartRepo, productRepo, txm)
	orderSvc := order.NewService(txm, cartRepo, productRepo, orderRepo,
		order.NewReferenceGenerator(cfg.Checkout.ExpectedOrders))
	orchestrator := payment.NewOrchestrator(txm, paymentRepo, orderRepo, registry,
		cfg.PublicBaseURL, cfg.PaymentReturnURL)

	// HTTP layer.
	auth := handler.NewAuthenticator([]byte(cfg.JWTSecret))
	h := handler.NewHandler(auth, cartSvc, orderSvc, orchestrator)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", http.StripPrefix("/api", h.Routes()))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "X-Session-Token"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
