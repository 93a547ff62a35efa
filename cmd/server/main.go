package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/landlordhub/billing-service/internal/api/rest"
	"github.com/landlordhub/billing-service/internal/api/rest/handlers"
	"github.com/landlordhub/billing-service/internal/config"
	"github.com/landlordhub/billing-service/internal/email"
	"github.com/landlordhub/billing-service/internal/kafka"
	"github.com/landlordhub/billing-service/internal/metrics"
	"github.com/landlordhub/billing-service/internal/middleware"
	"github.com/landlordhub/billing-service/internal/plan"
	"github.com/landlordhub/billing-service/internal/repository"
	"github.com/landlordhub/billing-service/internal/service"
	stripeclient "github.com/landlordhub/billing-service/internal/stripe"
	"github.com/landlordhub/billing-service/pkg/logger"
)

var log *logger.Logger

func init() {
	logLevel := logger.INFO
	if os.Getenv("DEBUG") == "true" {
		logLevel = logger.DEBUG
	}
	log = logger.New(logLevel)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	// Prometheus на приватном реестре
	promRegistry := prometheus.NewRegistry()
	billingMetrics := metrics.NewBillingMetrics(promRegistry, log)

	// Миграции схемы перед подключением пула
	if err := runMigrations(cfg); err != nil {
		log.Fatal("Failed to run migrations: %v", err)
	}

	// Подключение к базе данных
	db, err := sqlx.Connect("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Infow("Connected to PostgreSQL")

	// Репозиторий с кешированием поверх Postgres, если Redis настроен
	var repo repository.SubscriptionRepository = repository.NewPostgresSubscriptionRepository(db, log)
	if cfg.Redis.Addr != "" {
		cache, err := repository.NewRedisCacheRepository(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Fatal("Failed to connect to Redis: %v", err)
		}
		defer cache.Close()
		repo = repository.NewCachedSubscriptionRepository(repo, cache, log)
	} else {
		log.Warnw("Redis is not configured, subscription cache disabled")
	}

	// Stripe клиент: без API ключа сервис стартует, но биллинг отвечает 503
	var stripeClient stripeclient.Client
	if cfg.Stripe.APIKey != "" {
		stripeClient = stripeclient.NewStripeClient(cfg.Stripe.APIKey, cfg.Stripe.WebhookSecret, log)
	} else {
		log.Warnw("Stripe API key is not configured, billing endpoints will return 503")
	}

	// Kafka продюсер аналитики, опционален
	var producer kafka.Producer = kafka.NoopProducer{}
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := kafka.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			log.Fatal("Failed to create Kafka producer: %v", err)
		}
		defer p.Close()
		producer = p
	} else {
		log.Warnw("Kafka brokers are not configured, plan events disabled")
	}

	// Почтовый нотификатор, опционален
	var notifier email.Notifier = email.NoopNotifier{}
	if cfg.Email.PostmarkToken != "" {
		n, err := email.NewPostmarkNotifier(cfg.Email.PostmarkToken, cfg.Email.FromAddress, log)
		if err != nil {
			log.Fatal("Failed to create email notifier: %v", err)
		}
		notifier = n
	}

	prices := plan.NewPriceTable(cfg.Stripe.Prices.Starter, cfg.Stripe.Prices.Growth, cfg.Stripe.Prices.Pro)

	checkoutSvc := service.NewCheckoutService(
		repo, stripeClient, prices, producer, billingMetrics,
		cfg.App.BaseURL, cfg.ProvisionalPeriod(), log,
	)
	webhookSvc := service.NewWebhookService(repo, stripeClient, prices, producer, notifier, billingMetrics, log)
	subscriptionSvc := service.NewSubscriptionService(repo, stripeClient, prices, billingMetrics, cfg.StalenessWindow(), log)

	auth := middleware.NewJWTMiddleware(log, &middleware.DefaultTokenValidator{Secret: []byte(cfg.Auth.JWTSecret)})
	billingHandler := handlers.NewBillingHandler(checkoutSvc, subscriptionSvc, log)
	webhookHandler := handlers.NewWebhookHandler(stripeClient, webhookSvc, log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := rest.SetupRouter(log, promRegistry, auth, billingHandler, webhookHandler)
	server := rest.NewServer(router, cfg, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownTimeout := time.Duration(cfg.App.ShutdownTimeout) * time.Second
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped gracefully")
}

func runMigrations(cfg *config.Config) error {
	m, err := migrate.New("file://"+cfg.Database.MigrationsPath, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
