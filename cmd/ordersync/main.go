package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/auth"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/clients"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/config"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/events"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/repository"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/server"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/service"

	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	logger := logging.NewWithLevel("order-sync", cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting order-sync", logging.Fields{
		"port":         cfg.Server.Port,
		"store_driver": cfg.StoreDriver,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	stores, db := initStores(cfg, logger)
	if db != nil {
		defer db.Close()
	}

	// Interfaces stay nil unless their backend is configured.
	var (
		cache     repository.OrderCache
		sweepLock service.SweepLock
		publisher service.EventPublisher
	)

	if redisClient := repository.NewRedisClient(cfg.Redis); redisClient != nil {
		defer redisClient.Close()
		cache = repository.NewRedisOrderCache(redisClient, cfg.Redis.TTL, logger)
		sweepLock = repository.NewRedisSweepLock(redisClient)
		logger.Info("Redis configured", logging.Fields{"addr": cfg.Redis.Addr()})
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.Kafka, logger)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	delivery := clients.NewFallbackDeliveryEstimator(
		clients.NewHTTPDeliveryClient(cfg.DeliveryService, logger),
		cfg.DeliveryService.FallbackDays,
		logger,
	)

	orderService := service.NewOrderService(stores, cache, publisher, delivery, service.SystemClock{}, m, cfg, logger)

	var jwt *auth.JWTService
	if cfg.Auth.Enabled {
		if cfg.Auth.JWTSecret == "" {
			logger.Fatal("AUTH_JWT_SECRET is required when auth is enabled")
		}
		jwt = auth.NewJWTService(cfg.Auth.JWTSecret, time.Hour)
	}

	var pinger handlers.Pinger
	if db != nil {
		pinger = db
	}
	h := handlers.NewHandlers(orderService, pinger, cfg, logger)
	srv := server.NewServer(cfg, h, jwt, m, reg, logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	go func() {
		if err := srv.Run(); err != nil {
			logger.Fatal("Server failed to start", logging.Fields{"error": err.Error()})
		}
	}()

	sweeperDone := make(chan struct{})
	if cfg.Sweeper.Enabled {
		sweeper := service.NewExpirySweeper(orderService, sweepLock, cfg.Sweeper, logger)
		go func() {
			defer close(sweeperDone)
			sweeper.Run(ctx)
		}()
	} else {
		close(sweeperDone)
	}

	var consumer *events.KafkaConsumer
	if cfg.Features.EnablePaymentConsumer && len(cfg.Kafka.Brokers) > 0 {
		consumer = events.NewKafkaConsumer(cfg.Kafka, orderService, logger)
		go func() {
			if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Payment consumer failed", logging.Fields{"error": err.Error()})
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if consumer != nil {
		consumer.Stop()
	}
	stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", logging.Fields{"error": err.Error()})
	}

	select {
	case <-sweeperDone:
	case <-shutdownCtx.Done():
		logger.Warn("Sweeper did not stop before the shutdown deadline")
	}

	logger.Info("Server exited")
}

func initStores(cfg *config.Config, logger *logging.Logger) (service.Stores, *sql.DB) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("Using in-memory store; data is lost on restart")
		store := repository.NewMemoryStore()
		return service.Stores{
			Tx:       store,
			Orders:   store.Orders(),
			Payments: store.Payments(),
			Items:    store.Items(),
			Products: store.Products(),
		}, nil
	}

	db, err := initDatabase(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", logging.Fields{"error": err.Error()})
	}

	return service.Stores{
		Tx:       repository.NewPostgresTransactor(db, logger),
		Orders:   repository.NewPostgresOrderRepository(db, logger),
		Payments: repository.NewPostgresPaymentRepository(db, logger),
		Items:    repository.NewPostgresOrderItemRepository(db),
		Products: repository.NewPostgresProductRepository(db, logger),
	}, db
}

func initDatabase(cfg *config.Config, logger *logging.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Database connected", logging.Fields{
		"host": cfg.Database.Host,
		"name": cfg.Database.Name,
	})

	return db, nil
}
