package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GroundCtrlHQ/ai-chat-demo/internal/ai"
	appsvc "github.com/GroundCtrlHQ/ai-chat-demo/internal/app"
	"github.com/GroundCtrlHQ/ai-chat-demo/internal/bootstrap"
	"github.com/GroundCtrlHQ/ai-chat-demo/internal/cache"
	"github.com/GroundCtrlHQ/ai-chat-demo/internal/platform/rabbitmq"
	"github.com/GroundCtrlHQ/ai-chat-demo/internal/repository"
	"github.com/GroundCtrlHQ/ai-chat-demo/internal/transport/http/handler"
	"github.com/GroundCtrlHQ/ai-chat-demo/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.StaticFile("/", "web/index.html")
	router.GET("/healthz", healthHandler.Check)

	sessionRepo := repository.NewSessionRepository(app.MySQL)
	rateLimitRepo := repository.NewRateLimitRepository(app.MySQL)
	messageRepo := repository.NewMessageRepository(app.MySQL)

	publisher := rabbitmq.NewMessagePublisher(app.MQConn, app.Config.RabbitMQ.MessagePersistQueue)
	historyCache := cache.NewHistoryCache(
		app.Redis,
		time.Duration(app.Config.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(app.Config.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)

	chatService := appsvc.NewChatService(
		sessionRepo,
		rateLimitRepo,
		messageRepo,
		publisher,
		historyCache,
		ai.NewOpenRouterClient(),
		ai.ChatConfig{
			BaseURL:  app.Config.OpenRouter.BaseURL,
			APIKey:   app.Config.OpenRouter.APIKey,
			Model:    app.Config.OpenRouter.Model,
			SiteURL:  app.Config.OpenRouter.SiteURL,
			SiteName: app.Config.OpenRouter.SiteName,
		},
		app.Config.Chat.SessionMessageLimit,
		app.Config.Chat.MemoryWindow,
		app.Config.Chat.SystemPrompt,
	)
	chatHandler := handler.NewChatHandler(chatService, app.Config.Chat.BookLink)

	api := router.Group("/api")
	api.Use(middleware.Session())
	api.POST("/chat", chatHandler.Chat)

	return router
}
