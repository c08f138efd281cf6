package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/eceaydogan/dentaplan/libs/config"
	"github.com/eceaydogan/dentaplan/libs/db"
	"github.com/eceaydogan/dentaplan/libs/httpx"
	"github.com/eceaydogan/dentaplan/libs/kafkax"
	otelx "github.com/eceaydogan/dentaplan/libs/otel"
	"github.com/eceaydogan/dentaplan/libs/runtime"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/handlers"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/outbox"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/procedures"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/scheduler"
	"github.com/eceaydogan/dentaplan/services/clinic-service/internal/storage"
)

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	service := config.String("SERVICE_NAME", "clinic-service")
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
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}
	loc, err := config.Location("CLINIC_TIMEZONE", "Europe/Istanbul")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository(pool)
	store := storage.New(pool, outboxRepo)
	treatmentRepo := storage.NewTreatmentRepository(pool)

	catalog := procedures.FromEnv(config.String("PROCEDURE_DURATIONS", ""))
	schedSvc := scheduler.New(store, catalog, logger, scheduler.Config{
		Location: loc,
		DayStart: time.Duration(config.Int("WORKDAY_START_HOUR", 9)) * time.Hour,
		DayEnd:   time.Duration(config.Int("WORKDAY_END_HOUR", 18)) * time.Hour,
		SlotStep: time.Duration(config.Int("SLOT_STEP_MINUTES", 15)) * time.Minute,
	})

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	apptHandler := handlers.NewAppointmentHandler(schedSvc, logger)
	patientHandler := handlers.NewPatientHandler(schedSvc, treatmentRepo, logger)
	treatmentHandler := handlers.NewTreatmentHandler(treatmentRepo, logger, handlers.TreatmentConfig{
		StripeSecretKey: config.String("STRIPE_SECRET_KEY", ""),
		Currency:        config.String("STRIPE_CURRENCY", "try"),
		SuccessURL:      config.String("CHECKOUT_SUCCESS_URL", "http://localhost:3000/payments/success"),
		CancelURL:       config.String("CHECKOUT_CANCEL_URL", "http://localhost:3000/payments/cancel"),
	})

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	}

	// Redis backs the rate limiter when configured; otherwise the limiter
	// degrades to per-process counters.
	var rateLimit httpx.Middleware
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer func() { _ = rdb.Close() }()
		limiter := httpx.NewRedisRateLimiter(rdb, config.Int("RATE_LIMIT", 120), time.Minute, service)
		rateLimit = limiter.Middleware(logger, true)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
	} else {
		rateLimit = httpx.NewRateLimiter(config.Int("RATE_LIMIT", 120), time.Minute).Middleware()
	}

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/appointments", apptHandler.Appointments)
	api.HandleFunc("/api/v1/appointments/update", apptHandler.Update)
	api.HandleFunc("/api/v1/appointments/cancel", apptHandler.Cancel)
	api.HandleFunc("/api/v1/appointments/delete", apptHandler.Delete)
	api.HandleFunc("/api/v1/calendar", apptHandler.Calendar)
	api.HandleFunc("/api/v1/slots", apptHandler.Slots)
	api.HandleFunc("/api/v1/patients/detail", patientHandler.Detail)
	api.HandleFunc("/api/v1/treatments", treatmentHandler.Treatments)
	api.HandleFunc("/api/v1/treatments/checkout", treatmentHandler.Checkout)

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/api/v1/", httpx.Chain(api, handlers.WithAuth(jwtSecret)))
	mux.HandleFunc("/webhooks/stripe", treatmentHandler.StripeWebhook(
		config.String("STRIPE_WEBHOOK_SECRET", ""),
		time.Duration(config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300))*time.Second,
	))

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods:   parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS")),
			AllowedHeaders:   parseList(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id,Idempotency-Key")),
			AllowCredentials: config.String("CORS_ALLOW_CREDENTIALS", "false") == "true",
			MaxAge:           10 * time.Minute,
		}),
		rateLimit,
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "clinic")
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
