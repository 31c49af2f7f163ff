package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/yungbote/neuroagent-backend/internal/config"
	"github.com/yungbote/neuroagent-backend/internal/db"
	"github.com/yungbote/neuroagent-backend/internal/handlers"
	"github.com/yungbote/neuroagent-backend/internal/llm"
	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/middleware"
	"github.com/yungbote/neuroagent-backend/internal/observability"
	"github.com/yungbote/neuroagent-backend/internal/repos"
	"github.com/yungbote/neuroagent-backend/internal/server"
	"github.com/yungbote/neuroagent-backend/internal/services"
	"github.com/yungbote/neuroagent-backend/internal/tools"
	"github.com/yungbote/neuroagent-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Config
	log.Info("Loading configuration from main...")
	cfg, err := config.Load(log)
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Tracing
	shutdownOTel := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "neuroagent-backend",
		Environment: utils.GetEnv("ENVIRONMENT", "development", log),
		Version:     utils.GetEnv("SERVICE_VERSION", "", log),
	})
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Redis-backed rate limiting, memory fallback when unconfigured.
	var counters middleware.CounterStore
	if redisAddr := utils.GetEnv("REDIS_ADDR", "", log); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: utils.GetEnv("REDIS_PASSWORD", "", log),
		})
		counters = middleware.NewRedisCounterStore(rdb)
	} else {
		log.Warn("REDIS_ADDR not set, rate limits are per-process only")
		counters = middleware.NewMemoryCounterStore()
	}

	// Repos
	log.Info("Setting up Repos from main...")
	threadRepo := repos.NewThreadRepo(thePG, log)
	messageRepo := repos.NewMessageRepo(thePG, log)
	toolCallRepo := repos.NewToolCallRepo(thePG, log)
	consumptionRepo := repos.NewConsumptionRepo(thePG, log)

	// LLM providers
	log.Info("Setting up LLM clients from main...")
	openaiClient, err := llm.NewOpenAIClient(log)
	if err != nil {
		log.Error("Could not init OpenAIClient", "error", err)
		os.Exit(1)
	}
	multi := llm.NewMultiClient(openaiClient)
	if anthropicClient, err := llm.NewAnthropicClient(log); err != nil {
		log.Warn("Anthropic client not configured", "error", err)
	} else {
		multi.AddProvider("anthropic", anthropicClient)
	}

	// The auxiliary model is optional; without it, tool filtering and
	// title generation degrade gracefully.
	var aux llm.Client
	if cfg.AuxModel != "" {
		aux = multi
	}

	// Tools
	log.Info("Setting up tool registry from main...")
	ecClient := tools.NewEntityCoreClient(log)
	registry := tools.NewDefaultRegistry(ecClient)
	log.Info("Tool registry ready", "tools", registry.Len())

	// Services
	log.Info("Setting up Services from main...")
	threadService := services.NewThreadService(log, threadRepo, messageRepo, toolCallRepo, aux, cfg.AuxModel)
	filteringService := services.NewFilteringService(log, aux, cfg.AuxModel, cfg.DefaultModel, cfg.DefaultReasoning, cfg.MinToolSelection, consumptionRepo)
	agentService := services.NewAgentService(log, multi, registry, messageRepo, toolCallRepo, consumptionRepo, threadRepo, cfg.MaxTurns, cfg.MaxParallelToolCalls)
	validationService := services.NewValidationService(log, registry, messageRepo, toolCallRepo, threadRepo)

	// Middleware
	log.Info("Setting up middleware from main...")
	authMiddleware := middleware.NewAuthMiddleware(log)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(log, counters)

	// Handlers
	log.Info("Setting up handlers from main...")
	chatHandler := handlers.NewChatHandler(log, cfg, threadService, filteringService, agentService, rateLimitMiddleware, ecClient, registry)
	validationHandler := handlers.NewValidationHandler(log, validationService, ecClient)
	toolsHandler := handlers.NewToolsHandler(log, registry)
	threadHandler := handlers.NewThreadHandler(log, threadService)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		AuthMiddleware:    authMiddleware,
		ChatHandler:       chatHandler,
		ValidationHandler: validationHandler,
		ToolsHandler:      toolsHandler,
		ThreadHandler:     threadHandler,
	})

	fmt.Printf("Server listening on :%s\n", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
