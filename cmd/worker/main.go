package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"shopscout.app/research/common/id"
	"shopscout.app/research/common/llm"
	"shopscout.app/research/common/logger"
	"shopscout.app/research/common/otel"
	"shopscout.app/research/core/config"
	"shopscout.app/research/core/db"
	"shopscout.app/research/internal/breaker"
	"shopscout.app/research/internal/pubsub"
	"shopscout.app/research/internal/queue"
	"shopscout.app/research/internal/research"
	"shopscout.app/research/internal/service"
	"shopscout.app/research/internal/store"
	"shopscout.app/research/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet — OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "research worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Queue.RedisGroup,
		"consumer_name", cfg.Queue.RedisConsumer)

	// Initialize snowflake ID generator (use different node ID than server)
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	// Initialize database
	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	// Initialize Redis
	redisOpts, err := redis.ParseURL(cfg.Queue.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Queue.RedisStream)

	// Create consumer
	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:      cfg.Queue.RedisStream,
		Group:       cfg.Queue.RedisGroup,
		Consumer:    cfg.Queue.RedisConsumer,
		DLQStream:   cfg.Queue.RedisDLQStream,
		BatchSize:   1, // one job at a time; a research batch can hold the worker for minutes
		Block:       5 * time.Second,
		MaxAttempts: cfg.Research.MaxRetries,
		// Requeue delay stays 0: the worker waits out its own
		// interruptible backoff before requeueing.
		RequeueDelay: 0,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	// Research coordinator with its own circuit breaker, same config as the API server
	llmClient, err := llm.New(llm.Config{
		APIKey:  cfg.Research.APIKey,
		BaseURL: cfg.Research.BaseURL,
		Model:   cfg.Research.Model,
		Timeout: cfg.Research.RequestTimeout,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create research client", "error", err)
		os.Exit(1)
	}

	breakers := breaker.NewRegistry(slog.Default())
	coordinator := research.New(
		llmClient,
		breakers.GetOrCreate(research.ServiceName, research.BreakerConfig(cfg.Research.RequestTimeout)),
		cfg.Research.MaxBatchSize,
		slog.Default(),
	)

	stores := store.NewStores(database.Pool())

	// No producer: the worker executes jobs, it never enqueues them.
	services := service.NewServices(service.ServicesConfig{
		Stores:      stores,
		TxRunner:    service.NewTxRunner(database),
		Coordinator: coordinator,
		Breakers:    breakers,
		Publisher:   pubsub.NewRedisPublisher(redisClient, slog.Default()),
		Research:    cfg.Research,
	})

	// Create worker
	w := worker.New(consumer, stores.Jobs(), services.Orchestrator(), worker.Config{
		MaxAttempts:  cfg.Research.MaxRetries,
		RetryBackoff: worker.DefaultBackoff(),
	})

	// Create reclaimer
	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Queue.RedisStream,
		Group:     cfg.Queue.RedisGroup,
		Consumer:  cfg.Queue.RedisConsumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  1 * time.Minute,
		BatchSize: 10,
	}, consumer, w.ProcessMessage)

	// Create retention cleaner
	retention := worker.NewRetentionCleaner(services.Jobs(), worker.RetentionCleanerConfig{
		MaxAge:   cfg.Research.RetentionAge,
		Interval: time.Hour,
	})

	// Start worker, reclaimer, and retention cleaner
	errCh := make(chan error, 3)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()
	go func() {
		retention.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop the periodic loops first (quick)
	reclaimer.Stop()
	retention.Stop()

	// Stop worker (may be processing)
	w.Stop()

	// Wait for goroutines with timeout
	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
██████╗ ███████╗███████╗███████╗ █████╗ ██████╗  ██████╗██╗  ██╗    ██╗    ██╗ ██████╗ ██████╗ ██╗  ██╗███████╗██████╗
██╔══██╗██╔════╝██╔════╝██╔════╝██╔══██╗██╔══██╗██╔════╝██║  ██║    ██║    ██║██╔═══██╗██╔══██╗██║ ██╔╝██╔════╝██╔══██╗
██████╔╝█████╗  ███████╗█████╗  ███████║██████╔╝██║     ███████║    ██║ █╗ ██║██║   ██║██████╔╝█████╔╝ █████╗  ██████╔╝
██╔══██╗██╔══╝  ╚════██║██╔══╝  ██╔══██║██╔══██╗██║     ██╔══██║    ██║███╗██║██║   ██║██╔══██╗██╔═██╗ ██╔══╝  ██╔══██╗
██║  ██║███████╗███████╗███████╗██║  ██║██║  ██║╚██████╗██║  ██║    ╚███╔███╔╝╚██████╔╝██║  ██║██║  ██╗███████╗██║  ██║
╚═╝  ╚═╝╚══════╝╚══════╝╚══════╝╚═╝  ╚═╝╚═╝  ╚═╝ ╚═════╝╚═╝  ╚═╝     ╚══╝╚══╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
`
