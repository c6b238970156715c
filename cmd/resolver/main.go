package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/orkdesk/ticket-resolver/internal/api/http"
	"github.com/orkdesk/ticket-resolver/internal/api/http/handlers"
	"github.com/orkdesk/ticket-resolver/internal/auth"
	"github.com/orkdesk/ticket-resolver/internal/config"
	"github.com/orkdesk/ticket-resolver/internal/events"
	"github.com/orkdesk/ticket-resolver/internal/knowledge"
	"github.com/orkdesk/ticket-resolver/internal/observability"
	"github.com/orkdesk/ticket-resolver/internal/persistence"
	"github.com/orkdesk/ticket-resolver/internal/repository"
	"github.com/orkdesk/ticket-resolver/internal/service"
	"github.com/orkdesk/ticket-resolver/internal/worker"
	"github.com/orkdesk/ticket-resolver/internal/workflow"
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

	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	conversationRepo := repository.NewConversationRepository(pool)
	hearingRepo := repository.NewHearingRepository(pool)
	accountRepo := repository.NewAccountRepository(pool)
	humanRepo := repository.NewHumanResourceRepository(pool)
	documentRepo := repository.NewKnowledgeDocumentRepository(pool)
	toolRepo := repository.NewKnowledgeToolRepository(pool)
	processLogRepo := repository.NewProcessLogRepository(pool)
	appRepo := repository.NewWorkflowAppRepository(pool)

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	registerEventCounters(dispatcher, metrics)

	workflowClient := workflow.NewClient(workflow.Config{
		BaseURL:       cfg.Workflow.BaseURL,
		User:          cfg.Workflow.User,
		MaxFrameBytes: cfg.Workflow.MaxFrameBytes,
		Timeout:       time.Duration(cfg.Workflow.TimeoutSeconds) * time.Second,
	}, logger)

	retriever := knowledge.NewRetriever(knowledge.Dependencies{
		Documents:      documentRepo,
		Apps:           appRepo,
		Runner:         workflowClient,
		Cache:          redis.ClientHandle(),
		KeywordsAPIKey: cfg.Workflow.KeywordsAPIKey,
		Logger:         logger,
	})

	resolutionService := service.NewResolutionService(service.ResolutionDependencies{
		TicketRepo:       ticketRepo,
		ConversationRepo: conversationRepo,
		HearingRepo:      hearingRepo,
		AccountRepo:      accountRepo,
		HumanRepo:        humanRepo,
		AppRepo:          appRepo,
		ProcessLogRepo:   processLogRepo,
		Runner:           workflowClient,
		Dispatcher:       dispatcher,
		AnswerAPIKey:     cfg.Workflow.AnswerAPIKey,
		TitleAPIKey:      cfg.Workflow.TitleAPIKey,
		HearingCount:     cfg.Scheduler.HearingCount,
		AppBaseURL:       cfg.App.BaseURL,
		Logger:           logger,
	})

	hearingService := service.NewHearingService(service.HearingDependencies{
		TicketRepo:       ticketRepo,
		ConversationRepo: conversationRepo,
		HearingRepo:      hearingRepo,
		AccountRepo:      accountRepo,
		HumanRepo:        humanRepo,
		ToolRepo:         toolRepo,
		DocumentRepo:     documentRepo,
		AppRepo:          appRepo,
		Runner:           workflowClient,
		Retriever:        retriever,
		Dispatcher:       dispatcher,
		HearingAPIKey:    cfg.Workflow.HearingAPIKey,
		HearingCount:     cfg.Scheduler.HearingCount,
		Logger:           logger,
	})

	notifierService := service.NewNotifierService(service.NotifierDependencies{
		TicketRepo:       ticketRepo,
		ConversationRepo: conversationRepo,
		AccountRepo:      accountRepo,
		ToolRepo:         toolRepo,
		Dispatcher:       dispatcher,
		PostMessageURL:   cfg.Notification.ChatPostMessageURL,
		AppBaseURL:       cfg.App.BaseURL,
		Timeout:          time.Duration(cfg.Notification.TimeoutSeconds) * time.Second,
		Logger:           logger,
	})

	intakeService := service.NewIntakeService(service.IntakeDependencies{
		TicketRepo:       ticketRepo,
		ConversationRepo: conversationRepo,
		Dispatcher:       dispatcher,
		Logger:           logger,
	})

	poller := worker.NewPoller(worker.PollerDependencies{
		TicketRepo: ticketRepo,
		FAQ:        resolutionService,
		Hearing:    hearingService,
		Notifier:   notifierService,
		Metrics:    metrics,
		Config:     cfg.Scheduler,
		Logger:     logger,
	})
	go func() {
		if err := poller.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("scheduler exited", zap.Error(err))
		}
	}()

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewMiddleware(tokenManager)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:           handlers.NewAuthHandler(tokenManager, cfg.Auth),
		Tickets:        handlers.NewTicketsHandler(intakeService),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = app.Shutdown()
}

func registerEventCounters(dispatcher events.Dispatcher, metrics *observability.Metrics) {
	counters := map[events.EventType]string{
		events.EventTicketReceived:    "tickets_received",
		events.EventTicketAnswered:    "tickets_answered",
		events.EventTicketFailed:      "tickets_errored",
		events.EventHearingSpawned:    "hearings_spawned",
		events.EventHearingFulfilled:  "hearings_fulfilled",
		events.EventNotificationSent:  "notifications_sent",
		events.EventNotificationError: "notifications_failed",
	}
	for eventType, counter := range counters {
		name := counter
		dispatcher.Subscribe(eventType, func(ctx context.Context, event events.Event) error {
			metrics.Increment(name)
			return nil
		})
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
