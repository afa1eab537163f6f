package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ms-marketplace/internal/analytics"
	analytics_api "ms-marketplace/internal/analytics/api"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/config"
	"ms-marketplace/internal/database/migrations"
	"ms-marketplace/internal/kafka"
	"ms-marketplace/internal/ledger"
	"ms-marketplace/internal/ledger/ledger_api"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/notify"
	"ms-marketplace/internal/order"
	orderdb "ms-marketplace/internal/order/db"
	"ms-marketplace/internal/order/order_api"
	rediswrap "ms-marketplace/internal/order/redis"
	"ms-marketplace/internal/payment"
	"ms-marketplace/internal/payment/storage"
	"ms-marketplace/internal/releasekey"
	"ms-marketplace/internal/server"
	"ms-marketplace/internal/sse"
	"ms-marketplace/internal/sysconfig"
	"ms-marketplace/internal/sysconfig/config_api"
	"ms-marketplace/internal/vetting"
	"ms-marketplace/internal/vetting/vetting_api"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func verifyConnections(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*bun.DB, *redis.Client) {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.PingContext(ctx)
		if err == nil {
			break
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	logger.Info("DATABASE", "✅ PostgreSQL connection successful")
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}

	logger.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, redisClient.Options().DB))
	return bunDB, redisClient
}

func newVerifier(ctx context.Context, cfg *config.Config, logger *logger.Logger) auth.Verifier {
	if cfg.Auth.SkipVerify || cfg.Auth.Issuer == "" {
		logger.Warn("AUTH", "Token signatures are NOT verified (AUTH_SKIP_VERIFY or no OIDC_ISSUER)")
		return auth.UnverifiedVerifier{}
	}
	v, err := auth.NewOIDCVerifier(ctx, cfg.Auth.Issuer)
	if err != nil {
		logger.Fatal("AUTH", fmt.Sprintf("OIDC discovery for %s failed: %v", cfg.Auth.Issuer, err))
	}
	logger.Info("AUTH", fmt.Sprintf("Verifying tokens against %s", cfg.Auth.Issuer))
	return v
}

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	logger.Info("APP", "Starting Marketplace Service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()
	logger.SetLevelName(cfg.Server.LogLevel)

	ctx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	logger.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, logger)
	defer bunDB.Close()
	defer redisClient.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, migrations.DefaultOptions(), logger)
		if err := runner.RunMigrations(); err != nil {
			logger.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
		}
		// Close would also close bunDB, which the migration driver shares.
	}

	// --- Notifications ---
	var publisher notify.Publisher = notify.LogPublisher{Logger: logger}
	var kafkaProducer *kafka.Producer
	if cfg.Kafka.Enabled {
		kafkaProducer = kafka.NewProducer(cfg.Kafka.Brokers, logger)
		defer kafkaProducer.Close()
		publisher = kafkaProducer
		logger.Info("KAFKA", "Kafka producer initialized successfully")

		requiredTopics := []string{cfg.Kafka.Topics.Notifications, cfg.Kafka.Topics.PaymentResults}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, requiredTopics, logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			logger.Info("KAFKA", "Required topics ensured successfully")
		}
	} else {
		logger.Warn("KAFKA", "Kafka disabled, notifications are only logged")
	}
	emitter := sse.NewVendorEventEmitter()
	notifier := notify.Fanout{notify.NewNotifier(publisher, cfg.Kafka.Topics.Notifications, logger), emitter}

	// --- Config gate ---
	defaults := models.SystemConfig{
		ActiveFeatures: cfg.Marketplace.DefaultFeatures,
		DeliveryFee:    cfg.Marketplace.DefaultDeliveryFee,
		PlatformFee:    cfg.Marketplace.DefaultPlatformFee,
	}
	gate := sysconfig.NewGate(&sysconfig.DB{Bun: bunDB, Defaults: defaults}, cfg.Marketplace.ConfigCacheTTL, nil, logger).WithRedis(redisClient)
	go gate.Subscribe(ctx)

	// --- Services ---
	orders := &orderdb.DB{Bun: bunDB}
	locks := rediswrap.NewRedis(redisClient, logger, cfg.Marketplace.ReleaseMaxAttempts, cfg.Marketplace.ReleaseLockout)
	ledgerService := ledger.NewService(bunDB, gate, notifier, nil, logger)
	releaseKeys := releasekey.NewService(bunDB, orders, ledgerService, locks, gate, notifier, cfg.Marketplace.ReleaseKeyPepper, nil, logger)
	orderService := order.NewOrderService(orders, locks, gate, releaseKeys, notifier, order.Options{
		DedupWindow: cfg.Marketplace.DedupWindow,
		LockTTL:     cfg.Marketplace.CheckoutLockTTL,
		Logger:      logger,
	})
	vettingService := vetting.NewService(bunDB, gate, notifier, nil, logger)
	analyticsService := analytics.NewService(analytics.NewDB(bunDB), ledgerService, nil)
	processor := payment.NewProcessor(orderService, locks, storage.NewBunStore(bunDB, logger), cfg.Marketplace.PaymentDedupTTL, nil, logger)

	var wg sync.WaitGroup
	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.PaymentResults, cfg.Kafka.GroupID, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Start(ctx, processor.HandleMessage)
			consumer.Close()
		}()
	}

	logger.Info("HTTP", "Setting up router and middleware")
	router := server.NewRouter(server.Handlers{
		Orders:    order_api.NewHandler(orderService, releaseKeys, logger),
		Ledger:    ledger_api.NewHandler(ledgerService, logger),
		Vetting:   vetting_api.NewHandler(vettingService, logger),
		Config:    config_api.NewHandler(gate, logger),
		Analytics: analytics_api.NewHandler(analyticsService, logger),
		Payments:  &payment.Handler{Processor: processor},
		Events:    sse.NewHandler(emitter, logger),
	}, server.Options{
		Verifier:       newVerifier(ctx, cfg, logger),
		InternalToken:  cfg.Auth.InternalToken,
		RequestTimeout: cfg.Server.WriteTimeout,
		Logger:         logger,
		Health: func(ctx context.Context) error {
			if err := bunDB.PingContext(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		},
	})

	// no WriteTimeout: vendor event streams stay open
	srv := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("🚀 Marketplace Service running on %s", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	stopBackground()
	wg.Wait()
	logger.Info("HTTP", "✅ Marketplace Service shutdown complete")
}
