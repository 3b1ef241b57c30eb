package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/storefront/internal/adapter/handler"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/auth"
	"github.com/rl1809/storefront/internal/config"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/port"
	"github.com/rl1809/storefront/internal/telemetry"
	"github.com/rl1809/storefront/internal/worker"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

// notifier is the queue pair behind order confirmations.
type notifier struct {
	dispatcher port.NotificationDispatcher
	source     port.NotificationSource
	// stop ends delivery: it closes an in-process queue so workers drain
	// it, or cancels the workers for an external broker.
	stop  func()
	close func()
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracingConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracer(flushCtx); err != nil {
			logger.Warn("flush traces", "err", err)
		}
	}()

	// Store
	store, pingers, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Redis
	var (
		rdb   *redis.Client
		cache interface {
			port.ProductListCache
			port.IdempotencyStore
		}
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer rdb.Close()

		redisAdapter := storage.NewRedisAdapter(rdb)
		if err := redisAdapter.Ping(ctx); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
		cache = redisAdapter
		pingers["redis"] = redisAdapter
	} else {
		logger.Info("redis not configured, using in-process cache")
		cache = storage.NewMemoryCache()
	}

	// Notification queue
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	notify := openNotifier(cfg.Notification, rdb, stopWorkers)
	defer notify.close()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(registry)

	// Services
	checkoutService := service.NewCheckoutService(store, cache, notify.dispatcher,
		service.WithLogger(logger),
		service.WithMetrics(metrics),
		service.WithConflictRetry(service.ConflictRetry{
			Retries:         cfg.Checkout.ConflictRetries,
			InitialInterval: cfg.Checkout.InitialBackoff,
			MaxInterval:     cfg.Checkout.MaxBackoff,
		}),
	)
	catalogService := service.NewCatalogService(store, cache, logger)
	cartService := service.NewCartService(store, store)

	// Start worker pool
	pool := worker.NewPool(notify.source, cache, worker.NewLogMailer(logger, cfg.Notification.MailDelay),
		cfg.Notification.Workers, logger,
		worker.WithMetrics(metrics),
		worker.WithSendTimeout(cfg.Notification.SendTimeout),
	)
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		pool.Run(workerCtx)
	}()

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)

	// Start gRPC server
	grpcServer := handler.NewGRPCServer(handler.NewGRPCHandler(checkoutService, catalogService, cartService), verifier, logger)
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPC.Addr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "err", err)
		}
	}()

	// Start HTTP server
	router := handler.NewHTTPHandler(handler.HTTPDeps{
		Checkout: checkoutService,
		Catalog:  catalogService,
		Carts:    cartService,
		Verifier: verifier,
		Logger:   logger,
		Metrics:  metrics.Handler(),
		Pingers:  pingers,
	}).Router()

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	httpErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-httpErr:
		logger.Error("HTTP server error", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", "err", err)
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	notify.stop()
	select {
	case <-poolDone:
	case <-shutdownCtx.Done():
		stopWorkers()
		<-poolDone
	}
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (port.Store, map[string]handler.Pinger, func(), error) {
	if cfg.Driver == "memory" {
		logger.Warn("using in-process store, data is lost on exit")
		store := storage.NewMemoryStore()
		return store, map[string]handler.Pinger{"store": store}, func() {}, nil
	}

	dialect := storage.Dialect(cfg.Driver)
	db, err := storage.OpenDB(dialect, cfg.DSN)
	if err != nil {
		return nil, nil, nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := storage.NewSQLStore(db, dialect)
	if err := store.Ping(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}
	logger.Info("connected to database", "driver", cfg.Driver)

	if cfg.Migrate {
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
	}

	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.Warn("close database", "err", err)
		}
	}
	return store, map[string]handler.Pinger{"store": store}, closeDB, nil
}

func openNotifier(cfg config.NotificationConfig, rdb *redis.Client, stopWorkers context.CancelFunc) notifier {
	switch cfg.Queue {
	case "redis":
		// Validate guarantees rdb is set for the redis queue.
		adapter := storage.NewRedisAdapter(rdb)
		return notifier{dispatcher: adapter, source: adapter, stop: stopWorkers, close: func() {}}
	case "kafka":
		brokers := storage.SplitBrokers(cfg.Brokers)
		dispatcher := storage.NewKafkaDispatcher(brokers, cfg.Topic)
		source := storage.NewKafkaSource(brokers, cfg.Topic, cfg.GroupID)
		return notifier{
			dispatcher: dispatcher,
			source:     source,
			stop:       stopWorkers,
			close: func() {
				dispatcher.Close()
				source.Close()
			},
		}
	default:
		queue := storage.NewMemoryQueue(cfg.QueueSize)
		return notifier{
			dispatcher: queue,
			source:     queue,
			stop:       func() { queue.Close() },
			close:      func() { queue.Close() },
		}
	}
}
