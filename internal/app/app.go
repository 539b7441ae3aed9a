// Package app wires the storefront API server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/promo"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/idempotency"
	"github.com/xenking/storefront/internal/notify"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
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

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	// Order notifications: Kafka when configured, log otherwise, always behind
	// the async queue so checkout never waits for delivery.
	var sink order.Notifier = notify.Log{}
	if len(cfg.Notify.Brokers) > 0 {
		k := notify.NewKafka(cfg.Notify.Brokers, cfg.Notify.Topic)
		defer func() {
			if err := k.Close(); err != nil {
				lg.Warn("Close kafka writer", zap.Error(err))
			}
		}()
		sink = k
		// Checkout does not wait for Kafka, so an outage only degrades.
		healthSvc.AddReadinessCheck("kafka", 5*time.Second, health.KafkaCheck(cfg.Notify.Brokers), health.NonCritical())
	}
	notifier := notify.NewAsync(sink, cfg.Notify.QueueSize, cfg.Notify.Timeout)

	var idempotent handler.Middleware
	if cfg.Idempotency.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Idempotency.Addr,
			Password: cfg.Idempotency.Password,
			DB:       cfg.Idempotency.DB,
		})
		defer func() { _ = rdb.Close() }()
		idempotent = idempotency.Middleware(
			idempotency.NewRedis(rdb, "storefront:idem:"),
			cfg.Idempotency.TTL,
			handler.WriteError,
		)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(rdb), health.NonCritical())
	}

	fee, err := cfg.DeliveryFee()
	if err != nil {
		return err
	}

	// Domain services.
	promoRepo := postgres.NewPromoRepository(pool)
	orderService := order.NewService(postgres.NewOrderStore(pool),
		order.WithDeliveryFees(pricing.FlatFee(fee)),
		order.WithNotifier(notifier),
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	)
	cartService := cart.NewService(postgres.NewCartStore(pool))
	promoValidator := promo.NewRepoValidator(promoRepo)

	h := handler.New(orderService, cartService, promoValidator)
	security := handler.NewSecurity(auth.NewTokens([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Mount(mux, security, idempotent)

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
				AllowHeaders:     []string{"Content-Type", "Authorization", idempotency.Header},
				ExposeHeaders:    []string{"X-Request-ID", "Idempotent-Replayed"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:      cfg.RateLimit.Max,
				WriteMax: cfg.RateLimit.WriteMax,
				Window:   cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("storefront-api", m),
			httpmiddleware.LogRequests(),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// The notifier outlives the server so that orders accepted while
	// draining still get their confirmation.
	notifyCtx, stopNotify := context.WithCancel(context.WithoutCancel(ctx))
	defer stopNotify()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return notifier.Run(notifyCtx)
	})
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		stopNotify()
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}
