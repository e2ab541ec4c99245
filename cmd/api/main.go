package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/chat-dispatch-service/internal/api/http"
	"github.com/spec-kit/chat-dispatch-service/internal/api/http/handlers"
	"github.com/spec-kit/chat-dispatch-service/internal/auth"
	"github.com/spec-kit/chat-dispatch-service/internal/config"
	"github.com/spec-kit/chat-dispatch-service/internal/events"
	"github.com/spec-kit/chat-dispatch-service/internal/observability"
	"github.com/spec-kit/chat-dispatch-service/internal/persistence"
	"github.com/spec-kit/chat-dispatch-service/internal/repository"
	"github.com/spec-kit/chat-dispatch-service/internal/service"
	"github.com/spec-kit/chat-dispatch-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	broadcaster, err := buildBroadcaster(cfg.Broadcast, redis, logger)
	if err != nil {
		logger.Fatal("failed to init broadcaster", zap.Error(err))
	}
	defer broadcaster.Close()

	pool := pg.PoolHandle()
	queueRepo := repository.NewQueueRepository(pool)
	chatRepo := repository.NewChatRepository(pool)
	agentRepo := repository.NewAgentStatusRepository(pool)
	txManager := repository.NewTxManager(pool)

	metrics := observability.NewMetrics()

	queueService := service.NewQueueService(service.QueueDependencies{
		QueueRepo:   queueRepo,
		AgentRepo:   agentRepo,
		Broadcaster: broadcaster,
		Logger:      logger,
	})
	dispatchService := service.NewDispatchService(service.DispatchDependencies{
		QueueRepo:    queueRepo,
		ChatRepo:     chatRepo,
		AgentRepo:    agentRepo,
		Distribution: service.NewDistributionService(),
		Tx:           txManager,
		Broadcaster:  broadcaster,
		Logger:       logger,
		MaxRetries:   cfg.Dispatch.AssignMaxRetries,
	})
	lifecycleService := service.NewChatLifecycleService(service.LifecycleDependencies{
		QueueRepo:   queueRepo,
		ChatRepo:    chatRepo,
		AgentRepo:   agentRepo,
		Tx:          txManager,
		Broadcaster: broadcaster,
		Logger:      logger,
	})
	slaService := service.NewSLAService(service.SLADependencies{
		QueueRepo:      queueRepo,
		Broadcaster:    broadcaster,
		Logger:         logger,
		DefaultMaxWait: cfg.Dispatch.DefaultMaxWait(),
	})

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokenManager)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Queues:         handlers.NewQueuesHandler(queueService, dispatchService),
		Agents:         handlers.NewAgentsHandler(queueService),
		Dispatch:       handlers.NewDispatchHandler(dispatchService, lifecycleService, metrics),
		Monitoring:     handlers.NewMonitoringHandler(slaService, metrics),
		AuthMiddleware: authMiddleware,
	})

	slaWorker := worker.NewSLAWorker(worker.SLAWorkerDependencies{
		QueueRepo: queueRepo,
		SLA:       slaService,
		Dispatch:  dispatchService,
		Locker:    redis.Client,
		Metrics:   metrics,
		Logger:    logger,
		Interval:  cfg.Dispatch.SweepInterval(),
	})
	go slaWorker.Run(ctx)

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)
	cancel()

	_ = app.Shutdown()
}

func buildBroadcaster(cfg config.BroadcastConfig, redis *persistence.Redis, logger *zap.Logger) (events.Broadcaster, error) {
	switch cfg.Backend {
	case "redis":
		return events.NewRedisBroadcaster(redis.Client, cfg.RedisChannelPrefix, logger), nil
	case "amqp":
		return events.NewAMQPBroadcaster(cfg.AMQPURL, cfg.AMQPExchange, logger)
	default:
		return events.NewInMemoryDispatcher(), nil
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
