package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-fulfillment/internal/domain/auth"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/internal/handler"
	"github.com/xenking/kart-fulfillment/internal/jobqueue"
	"github.com/xenking/kart-fulfillment/internal/notify"
	"github.com/xenking/kart-fulfillment/internal/sweeper"
	"github.com/xenking/kart-fulfillment/pkg/health"
	"github.com/xenking/kart-fulfillment/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the background
// workers, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	st, err := openStorage(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// Health check service.
	healthSvc := health.New()
	if st.ping != nil {
		healthSvc.AddReadinessCheck(cfg.Storage, 5*time.Second, health.PingCheck(st.ping))
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Background workers and domain services.
	dispatcher := notify.NewDispatcher(
		notify.NewLogSender(lg.Named("notify"), cfg.Notify.SenderAddress),
		lg.Named("notify"),
		notify.Config{Buffer: cfg.Notify.Buffer, DedupCapacity: cfg.Notify.DedupCapacity},
	)
	queue, err := jobqueue.New[order.Job](lg.Named("jobqueue"), m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create job queue")
	}
	orderService, err := order.NewService(st.backend, dispatcher, lg.Named("order"), order.Options{
		PaymentWindow:  cfg.Order.PaymentWindow,
		CreateTimeout:  cfg.Order.CreateTimeout,
		UpdateTimeout:  cfg.Order.UpdateTimeout,
		ReadTimeout:    cfg.Order.ReadTimeout,
		Jobs:           queue,
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	sw, err := sweeper.New(st.backend, lg.Named("sweeper"), sweeper.Options{
		Interval:       cfg.Sweeper.Interval,
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create sweeper")
	}
	healthSvc.AddLivenessCheck("sweeper", time.Second, sw.FreshnessCheck(3*cfg.Sweeper.Interval),
		health.WithThresholds(1, 1))

	h := handler.New(orderService, st.backend, auth.NewAuthenticator(st.backend, []byte(cfg.APIKeyPepper)))

	// Router: health endpoints + rate limited API on one server.
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.RequestID(),
		httpmiddleware.LogRequests(),
		httpmiddleware.Recovery(),
	)
	healthSvc.Routes(r)
	r.Route("/api", func(r chi.Router) {
		r.Use(httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}))
		h.Routes(r)
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.Instrument("kart-api", m.TracerProvider(), m.MeterProvider()),
		),
	}

	// Workers outlive ctx until the server has drained, so requests in flight
	// during shutdown can still enqueue jobs and notifications.
	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()

	healthSvc.Start(ctx, 10*time.Second)
	defer healthSvc.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(workCtx) })
	g.Go(func() error { return queue.Run(workCtx, orderService.Materialize) })
	g.Go(func() error { return sw.Run(workCtx) })
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		// Graceful shutdown: wait for cancellation, drain, then stop workers.
		<-gctx.Done()
		defer stopWork()

		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		return nil
	})
	healthSvc.SetReady(true)

	return g.Wait()
}
