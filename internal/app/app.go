// Package app wires configuration, storage, domain services and the HTTP
// server into a runnable application.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/domain/contract"
	"github.com/xenking/course-checkout/internal/domain/order"
	"github.com/xenking/course-checkout/internal/domain/payment"
	"github.com/xenking/course-checkout/internal/domain/schedule"
	"github.com/xenking/course-checkout/internal/gateway/dummy"
	"github.com/xenking/course-checkout/internal/handler"
	"github.com/xenking/course-checkout/internal/storage/postgres"
	"github.com/xenking/course-checkout/pkg/health"
	"github.com/xenking/course-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	orderRepo := postgres.NewOrderRepository(pool)
	offeringRepo := postgres.NewOfferingRepository(pool)
	cardRepo := postgres.NewCardRepository(pool)
	contractRepo := postgres.NewContractRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Provider backends.
	paymentGateway := dummy.NewPaymentGateway([]byte(cfg.Payment.WebhookSecret))
	signatureGateway := dummy.NewSignatureGateway([]byte(cfg.Signature.WebhookSecret))

	// Domain services.
	calc, err := schedule.NewCalculator(cfg.ScheduleCalculatorConfig())
	if err != nil {
		return errors.Wrap(err, "build schedule calculator")
	}

	orchestrator := contract.NewOrchestrator(contract.OrchestratorConfig{
		Validity:       cfg.Signature.Validity,
		RecipientEmail: cfg.Signature.RecipientEmail,
	}, contractRepo, orderRepo, offeringRepo, signatureGateway, lg.Named("contract"))

	orderService := order.NewService(order.ServiceConfig{
		Currency:          cfg.Currency,
		GatewayTimeout:    cfg.Payment.GatewayTimeout,
		ChargeConcurrency: cfg.Payment.ChargeWorkers,
	}, orderRepo, offeringRepo, offeringRepo, calc, paymentGateway, cardRepo, orchestrator, lg.Named("order"))

	dispatcher := payment.NewDispatcher(paymentGateway, orderService, cardRepo, lg.Named("dispatcher"))

	// HTTP surface.
	h := handler.NewHandler(orderService, orchestrator, dispatcher)
	security := handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper))

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux, security.Middleware())

	instrumented := otelhttp.NewHandler(mux, "checkout-api",
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(instrumented,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
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
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
