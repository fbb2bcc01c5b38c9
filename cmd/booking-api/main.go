package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aaron44445/salonbook/internal/availability"
	"github.com/aaron44445/salonbook/internal/booking"
	"github.com/aaron44445/salonbook/internal/handlers"
	"github.com/aaron44445/salonbook/internal/outbox"
	"github.com/aaron44445/salonbook/internal/payments"
	"github.com/aaron44445/salonbook/internal/storage"
	"github.com/aaron44445/salonbook/libs/config"
	"github.com/aaron44445/salonbook/libs/db"
	"github.com/aaron44445/salonbook/libs/httpx"
	"github.com/aaron44445/salonbook/libs/kafkax"
	otelx "github.com/aaron44445/salonbook/libs/otel"
	"github.com/aaron44445/salonbook/libs/runtime"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-api")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 0)),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	catalogRepo := storage.NewCatalogRepository(pool)
	apptRepo := storage.NewAppointmentRepository(pool)
	store := storage.NewPgStore(pool, storage.PgStoreConfig{
		LockWait: config.Duration("BOOKING_LOCK_WAIT", 10*time.Second),
		TxBudget: config.Duration("BOOKING_TX_BUDGET", 30*time.Second),
	})

	calc := availability.NewCalculator(catalogRepo)
	finder := availability.NewFinder(calc)
	manager := booking.NewManager(store, storage.Classify, logger)

	outboxRepo := outbox.NewRepository()
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	paymentsClient := payments.New(payments.Config{
		SecretKey: config.String("STRIPE_SECRET_KEY", ""),
	})

	bookingHandler := handlers.NewBookingHandler(
		calc, finder, manager, catalogRepo, apptRepo, outboxRepo, paymentsClient, logger,
		handlers.Config{DepositPercent: config.Int("DEPOSIT_PERCENT", 0)},
	)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/public/slots", bookingHandler.Slots)
	mux.HandleFunc("/api/v1/public/book", bookingHandler.Book)
	mux.HandleFunc("/api/v1/appointments", bookingHandler.List)
	mux.HandleFunc("/api/v1/appointments/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/appointments/complete", bookingHandler.Complete)

	limiter := publicRateLimiter(logger)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(30*time.Second),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: splitList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         10 * time.Minute,
		}),
		limiter,
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// publicRateLimiter prefers the Redis fixed-window limiter when Redis is
// configured (multi-instance deployments); otherwise a per-process limiter.
func publicRateLimiter(logger *slog.Logger) httpx.Middleware {
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		return httpx.NewRateLimiter(limit, time.Minute).Middleware()
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "booking").Middleware(logger, true)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
