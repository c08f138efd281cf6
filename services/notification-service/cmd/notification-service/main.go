package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/eceaydogan/dentaplan/libs/config"
	"github.com/eceaydogan/dentaplan/libs/db"
	"github.com/eceaydogan/dentaplan/libs/httpx"
	"github.com/eceaydogan/dentaplan/libs/kafkax"
	otelx "github.com/eceaydogan/dentaplan/libs/otel"
	"github.com/eceaydogan/dentaplan/libs/runtime"
	"github.com/eceaydogan/dentaplan/services/notification-service/internal/consumer"
	"github.com/eceaydogan/dentaplan/services/notification-service/internal/email"
	"github.com/eceaydogan/dentaplan/services/notification-service/internal/inbox"
	"github.com/eceaydogan/dentaplan/services/notification-service/internal/notifier"
	"github.com/eceaydogan/dentaplan/services/notification-service/internal/sms"
	"github.com/eceaydogan/dentaplan/services/notification-service/internal/storage"
)

const (
	topicBooked    = "clinic.appointment.booked.v1"
	topicCancelled = "clinic.appointment.cancelled.v1"
)

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8081")
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

	inboxRepo := inbox.NewRepository(pool)
	notificationsRepo := storage.NewRepository(pool)

	smtpHost := config.String("SMTP_HOST", "mailpit")
	smtpPort := config.String("SMTP_PORT", "1025")
	smtpFrom := config.String("SMTP_FROM", "no-reply@dentaplan.local")
	emailSender := email.NewSMTPSender(smtpHost, smtpPort, smtpFrom)

	smsProvider := strings.ToLower(config.String("SMS_PROVIDER", "noop"))
	smsWebhookURL := config.String("SMS_WEBHOOK_URL", "")
	smsWebhookToken := config.String("SMS_WEBHOOK_TOKEN", "")
	var smsSender sms.Sender
	switch smsProvider {
	case "webhook":
		smsSender = sms.NewWebhookSender(smsWebhookURL, smsWebhookToken)
	default:
		smsSender = sms.NewNoopSender()
	}

	notify := notifier.New(
		notificationsRepo,
		emailSender,
		smsSender,
		logger,
		config.String("CLINIC_NAME", "DentaPlan"),
		loc,
	)

	consumerCfg := consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
		Topics:  []string{topicBooked, topicCancelled},
	}
	eventConsumer := consumer.New(logger, inboxRepo, consumerCfg, func(ctx context.Context, msg kafka.Message) error {
		kind := notifier.KindConfirmation
		if msg.Topic == topicCancelled {
			kind = notifier.KindCancellation
		}
		return notify.Handle(ctx, kind, msg.Value)
	})
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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
