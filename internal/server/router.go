package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/neuroagent-backend/internal/handlers"
	"github.com/yungbote/neuroagent-backend/internal/middleware"
)

type RouterConfig struct {
	AuthMiddleware    *middleware.AuthMiddleware
	ChatHandler       *handlers.ChatHandler
	ValidationHandler *handlers.ValidationHandler
	ToolsHandler      *handlers.ToolsHandler
	ThreadHandler     *handlers.ThreadHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(otelgin.Middleware("neuroagent-backend"))

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)

	// ===============
	// || Protected ||
	// ===============
	protected := router.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	// Chat. The streaming route folds rate limiting into the handler so
	// the X-RateLimit headers land on the stream response.
	protected.POST("/qa/chat_streamed/:thread_id", cfg.ChatHandler.ChatStreamed)
	protected.POST("/qa/validate_tool", cfg.ValidationHandler.ValidateTool)
	// Tools
	protected.GET("/tools", cfg.ToolsHandler.ListTools)
	protected.GET("/tools/:name", cfg.ToolsHandler.GetTool)
	// Threads
	protected.POST("/threads", cfg.ThreadHandler.CreateThread)
	protected.GET("/threads", cfg.ThreadHandler.ListThreads)
	protected.GET("/threads/:thread_id/messages", cfg.ThreadHandler.ListMessages)
	protected.PATCH("/threads/:thread_id", cfg.ThreadHandler.RenameThread)
	protected.DELETE("/threads/:thread_id", cfg.ThreadHandler.DeleteThread)

	return router
}
