package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"booking-service/config"
	"booking-service/internal/api"
	"booking-service/internal/broker"
	"booking-service/internal/notify"
	"booking-service/internal/payment"
	"booking-service/internal/reconciler"
	"booking-service/internal/redisclient"
	"booking-service/internal/service"
	"booking-service/internal/store"
	"booking-service/internal/store/memstore"
	"booking-service/internal/util"
	"booking-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// repository is a store that can also report readiness
type repository interface {
	store.Repository
	api.Pinger
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting booking service")

	if cfg.Observ.TracingEnabled {
		tp, err := util.InitTracer("booking-service", cfg.Observ.JaegerEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	var repo repository
	switch cfg.Database.Driver {
	case "memory":
		repo = memstore.New()
		logger.Warn("Using in-memory store, data is lost on restart")
	default:
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		if cfg.Database.Migrate {
			if err := db.Migrate(context.Background()); err != nil {
				logger.Fatal("Failed to apply schema", zap.Error(err))
			}
		}
		repo = db
		logger.Info("Database connected")
	}

	var locker reconciler.Locker
	if cfg.Redis.Enabled {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		locker = redisClient
		logger.Info("Redis connected")
	}

	var provider payment.Provider
	switch cfg.Payment.Provider {
	case "stripe":
		if cfg.Payment.StripeAPIKey == "" {
			logger.Fatal("STRIPE_SECRET_KEY is required for the stripe provider")
		}
		provider = payment.NewStripeProvider(cfg.Payment.StripeAPIKey)
	default:
		provider = payment.NewSandboxProvider()
	}

	smtpClient, err := notify.NewSMTPClient(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
	})
	if err != nil {
		logger.Fatal("Failed to initialize mailer", zap.Error(err))
	}
	mailer := notify.NewMailNotifier(repo, smtpClient, cfg.SMTP.From, cfg.SMTP.FromName)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var (
		publisher service.EventPublisher = service.NoopPublisher
		notifier  service.Notifier       = mailer
		workers   []*worker.NotificationWorker
	)
	if cfg.Kafka.Enabled {
		orderProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer orderProducer.Close()
		notificationProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
		defer notificationProducer.Close()
		logger.Info("Kafka producers initialized")

		eventPublisher := broker.NewEventPublisher(orderProducer, notificationProducer)
		publisher = eventPublisher
		notifier = eventPublisher

		for i := 0; i < cfg.Kafka.NotificationWorkers; i++ {
			consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.ConsumerGroup)
			w := worker.NewNotificationWorker(consumer, mailer)
			workers = append(workers, w)
			w.Start(workerCtx)
		}
	}

	clock := clockwork.NewRealClock()
	ledger := service.NewInventoryLedger()
	orderService := service.NewOrderService(repo, ledger, provider, publisher, clock, service.OrderServiceConfig{
		HoldTTL:  cfg.Business.OrderHold(),
		Currency: cfg.Payment.Currency,
	})
	paymentService := service.NewPaymentService(repo, ledger, notifier, publisher, clock,
		cfg.Payment.SecretKey, time.Duration(cfg.Business.NotificationTimeoutSecs)*time.Second)

	var rec *reconciler.Reconciler
	if cfg.Reconciler.Enabled {
		loc, err := time.LoadLocation(cfg.Reconciler.Location)
		if err != nil {
			logger.Fatal("Invalid reconciler timezone", zap.String("location", cfg.Reconciler.Location), zap.Error(err))
		}
		rec, err = reconciler.New(repo, locker, publisher, clock, reconciler.Config{
			Interval:    cfg.Reconciler.Interval(),
			BatchSize:   cfg.Reconciler.BatchSize,
			TicketGrace: cfg.Business.TicketGrace(),
			Location:    loc,
			LockTTL:     time.Duration(cfg.Reconciler.LockTTLSeconds) * time.Second,
		})
		if err != nil {
			logger.Fatal("Failed to create reconciler", zap.Error(err))
		}
		if err := rec.Start(); err != nil {
			logger.Fatal("Failed to start reconciler", zap.Error(err))
		}
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, paymentService, repo, cfg.Auth.JWTSecret)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	if rec != nil {
		if err := rec.Stop(); err != nil {
			logger.Error("Failed to stop reconciler", zap.Error(err))
		}
	}

	// ticket emails already dispatched finish before the producers close
	paymentService.Wait()

	workerCancel()
	for _, w := range workers {
		if err := w.Stop(); err != nil {
			logger.Error("Failed to stop notification worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
