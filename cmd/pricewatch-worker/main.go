// Pricewatch Worker — планировщик и обработчик сохранённых поисков.
//
// Каждый экземпляр:
//   - участвует в выборах лидера (leader lock)
//   - на лидере раз в SCHEDULER_INTERVAL_MINUTES публикует jobs для due поисков
//   - потребляет jobs из очереди и выполняет поиски
//   - отдаёт /healthz, /readyz, /metrics и API статуса на WORKER_PORT
//
// Экземпляры масштабируются горизонтально; планирует только лидер.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Pricewatch/internal/api"
	"github.com/shaiso/Pricewatch/internal/config"
	"github.com/shaiso/Pricewatch/internal/lock"
	"github.com/shaiso/Pricewatch/internal/mq"
	"github.com/shaiso/Pricewatch/internal/mq/sqs"
	"github.com/shaiso/Pricewatch/internal/queue"
	"github.com/shaiso/Pricewatch/internal/repo"
	"github.com/shaiso/Pricewatch/internal/repo/dynamolock"
	"github.com/shaiso/Pricewatch/internal/repo/redislock"
	"github.com/shaiso/Pricewatch/internal/scheduler"
	"github.com/shaiso/Pricewatch/internal/telemetry"
	"github.com/shaiso/Pricewatch/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting pricewatch-worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = logger.With("instance_id", cfg.InstanceID)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := repo.EnsureSchema(ctx, pool); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	searchRepo := repo.NewSearchRepo(pool)
	priceRepo := repo.NewPriceRepo(pool)

	// Leader lock store
	lockStore, closeLockStore, err := openLockStore(ctx, cfg, pool)
	if err != nil {
		logger.Error("failed to open lock store", "store", cfg.Lock.Store, "error", err)
		os.Exit(1)
	}
	defer closeLockStore()
	logger.Info("lock store ready", "store", cfg.Lock.Store)

	// Очередь jobs
	transport, err := openTransport(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open queue transport", "backend", cfg.Queue.Backend, "error", err)
		os.Exit(1)
	}
	logger.Info("queue transport ready", "backend", cfg.Queue.Backend)

	// Worker: потребление jobs
	registry := worker.NewRegistry()
	registry.Register(worker.DefaultSource, &worker.HTTPScraper{BaseURL: cfg.ScraperURL})
	logger.Info("scrapers registered", "sources", registry.Sources())

	processor := worker.NewProcessor(worker.ProcessorConfig{
		Searches: searchRepo,
		Prices:   priceRepo,
		Registry: registry,
		Notifier: &worker.LogNotifier{Logger: logger},
		Logger:   logger,
	})

	consumer := queue.NewConsumer(queue.ConsumerConfig{
		Transport:         transport,
		Concurrency:       cfg.Worker.Concurrency,
		LockRenewInterval: cfg.MessageLockRenewInterval(),
		MaxLockRenewal:    cfg.MaxMessageLockRenewal(),
		Logger:            logger,
	})

	w := worker.New(worker.Config{
		Consumer:  consumer,
		Processor: processor,
		Logger:    logger,
	})
	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// Scheduler: leader lock + тики
	leader, err := lock.New(lock.Config{
		Name:          cfg.Lock.Name,
		HolderID:      cfg.InstanceID,
		Duration:      cfg.LockDuration(),
		RenewInterval: cfg.LockRenewInterval(),
		Store:         lockStore,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("failed to create leader lock", "error", err)
		os.Exit(1)
	}

	sched, err := scheduler.New(scheduler.Config{
		Store:                searchRepo,
		Publisher:            queue.NewPublisher(queue.WithoutClose(transport)),
		Leader:               leader,
		Disabled:             !cfg.Scheduler.Enabled,
		PollInterval:         cfg.PollInterval(),
		BatchSize:            cfg.Scheduler.BatchSize,
		MaxConsecutiveErrors: cfg.Scheduler.MaxConsecutiveErrors,
		Logger:               logger,
	})
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// HTTP: health, metrics, статус и ручной запуск
	apiPublisher := queue.NewPublisher(queue.WithoutClose(transport))
	checks := map[string]api.Pinger{
		"database": searchRepo,
		"queue":    apiPublisher,
		"worker":   w,
	}
	if p, ok := lockStore.(api.Pinger); ok {
		checks["lock"] = p
	}
	handler := api.NewHandler(api.Config{
		Scheduler: sched,
		Searches:  searchRepo,
		Publisher: apiPublisher,
		Checks:    checks,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout())

	if err := shutdown(cfg.ShutdownTimeout(), logger, sched, server, apiPublisher, w); err != nil {
		logger.Error("shutdown did not complete in time, forcing exit", "error", err)
		os.Exit(1)
	}
	logger.Info("pricewatch-worker stopped")
}

// shutdown останавливает компоненты по порядку: планировщик (освобождает
// lock), HTTP сервер, затем worker (дожидается текущих jobs и закрывает
// транспорт). Всё ограничено timeout.
func shutdown(timeout time.Duration, logger *slog.Logger, sched *scheduler.Scheduler, server *http.Server, apiPublisher *queue.Publisher, w *worker.Worker) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := sched.Stop(ctx); err != nil {
		logger.Warn("scheduler stop error", "error", err)
	}
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown error", "error", err)
	}
	_ = apiPublisher.Close()
	if err := w.Stop(ctx); err != nil {
		logger.Warn("worker stop error", "error", err)
	}
	return ctx.Err()
}

// openLockStore выбирает хранилище leader lock по LOCK_STORE.
func openLockStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (lock.Store, func(), error) {
	noop := func() {}

	switch cfg.Lock.Store {
	case config.LockStorePostgres:
		return repo.NewLockRepo(pool), noop, nil

	case config.LockStoreDynamoDB:
		store, err := dynamolock.New(ctx, dynamolock.Config{
			Region:          cfg.AWS.Region,
			Endpoint:        cfg.AWS.EndpointURL,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			Table:           cfg.AWS.DynamoDBLockTable,
		})
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil

	case config.LockStoreRedis:
		store, err := redislock.New(ctx, redislock.Config{URL: cfg.RedisURL})
		if err != nil {
			return nil, noop, err
		}
		return store, func() { _ = store.Close() }, nil

	case config.LockStoreMemory:
		return lock.NewMemoryStore(), noop, nil
	}
	return nil, noop, fmt.Errorf("unknown lock store %q", cfg.Lock.Store)
}

// openTransport выбирает транспорт очереди по QUEUE_BACKEND.
// Транспорт закрывается через queue.Consumer.Close.
func openTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger) (queue.Transport, error) {
	visibility := time.Duration(cfg.Queue.VisibilityTimeoutSeconds) * time.Second

	switch cfg.Queue.Backend {
	case config.QueueRabbitMQ:
		conn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
		if err != nil {
			return nil, err
		}
		if err := mq.SetupTopology(ctx, conn, cfg.Queue.MaxDeliveries); err != nil {
			closeQuietly(conn)
			return nil, fmt.Errorf("setup topology: %w", err)
		}
		return mq.NewTransport(conn, mq.TransportConfig{
			Prefetch: cfg.Worker.Concurrency,
			Logger:   logger,
		}), nil

	case config.QueueSQS:
		t, err := sqs.New(ctx, sqs.Config{
			Region:            cfg.AWS.Region,
			Endpoint:          cfg.AWS.EndpointURL,
			AccessKeyID:       cfg.AWS.AccessKeyID,
			SecretAccessKey:   cfg.AWS.SecretAccessKey,
			QueueURL:          cfg.Queue.SQSQueueURL,
			VisibilityTimeout: int32(cfg.Queue.VisibilityTimeoutSeconds),
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
		return t, nil

	case config.QueueMemory:
		logger.Warn("in-memory queue: jobs are not shared between instances")
		return queue.NewMemoryTransport(queue.MemoryConfig{
			VisibilityTimeout: visibility,
			MaxDeliveries:     cfg.Queue.MaxDeliveries,
		}), nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
}

func closeQuietly(c io.Closer) {
	_ = c.Close()
}
