package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"shopscout.app/research/common/id"
	"shopscout.app/research/common/llm"
	"shopscout.app/research/common/logger"
	"shopscout.app/research/common/otel"
	"shopscout.app/research/core/config"
	"shopscout.app/research/core/db"
	"shopscout.app/research/internal/breaker"
	"shopscout.app/research/internal/http/middleware"
	httprouter "shopscout.app/research/internal/http/router"
	"shopscout.app/research/internal/pubsub"
	"shopscout.app/research/internal/queue"
	"shopscout.app/research/internal/research"
	"shopscout.app/research/internal/service"
	"shopscout.app/research/internal/store"
	"shopscout.app/research/internal/ws"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
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

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "research api starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

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
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Queue.RedisStream)

	producer := queue.NewRedisProducer(redisClient, cfg.Queue.RedisStream, slog.Default())
	defer producer.Close()

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
	publisher := pubsub.NewRedisPublisher(redisClient, slog.Default())

	services := service.NewServices(service.ServicesConfig{
		Stores:      stores,
		TxRunner:    service.NewTxRunner(database),
		Coordinator: coordinator,
		Breakers:    breakers,
		Publisher:   publisher,
		Producer:    producer,
		Research:    cfg.Research,
	})

	// Fan job updates from the broker out to local websocket subscribers.
	wsManager := ws.NewConnectionManager(slog.Default())
	listener := pubsub.NewListener(redisClient, wsManager, slog.Default())
	go func() {
		if err := listener.Run(ctx); err != nil {
			slog.ErrorContext(ctx, "job update listener error", "error", err)
		}
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, services, wsManager, breakers)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	listener.Stop()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, services *service.Services, wsManager *ws.ConnectionManager, breakers *breaker.Registry) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, services, wsManager, breakers, httprouter.RouterConfig{
		MaxBatchSize: cfg.Research.MaxBatchSize,
		WebSocket:    cfg.WebSocket,
	})

	return router
}

const banner = `
██████╗ ███████╗███████╗███████╗ █████╗ ██████╗  ██████╗██╗  ██╗     █████╗ ██████╗ ██╗
██╔══██╗██╔════╝██╔════╝██╔════╝██╔══██╗██╔══██╗██╔════╝██║  ██║    ██╔══██╗██╔══██╗██║
██████╔╝█████╗  ███████╗█████╗  ███████║██████╔╝██║     ███████║    ███████║██████╔╝██║
██╔══██╗██╔══╝  ╚════██║██╔══╝  ██╔══██║██╔══██╗██║     ██╔══██║    ██╔══██║██╔═══╝ ██║
██║  ██║███████╗███████║███████╗██║  ██║██║  ██║╚██████╗██║  ██║    ██║  ██║██║     ██║
╚═╝  ╚═╝╚══════╝╚══════╝╚══════╝╚═╝  ╚═╝╚═╝  ╚═╝ ╚═════╝╚═╝  ╚═╝    ╚═╝  ╚═╝╚═╝     ╚═╝
`
