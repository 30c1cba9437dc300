package http

import (
	"time"

	"github.com/gin-gonic/gin"

	appsvc "chatrelay/internal/app"
	"chatrelay/internal/bootstrap"
	"chatrelay/internal/platform/rabbitmq"
	"chatrelay/internal/relay"
	"chatrelay/internal/store"
	"chatrelay/internal/transport/http/handler"
	"chatrelay/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.StaticFile("/", "web/index.html")
	router.StaticFile("/chat", "web/chat.html")
	router.GET("/healthz", healthHandler.Check)

	sessions := store.New(store.NewRedisObjectStore(app.Redis), app.Logger)
	tokens := relay.NewMetadataTokenSource(app.Config.Upstream.TokenURL)
	client := relay.NewClient(
		time.Duration(app.Config.Upstream.RequestTimeoutSeconds)*time.Second,
		time.Duration(app.Config.Upstream.SetupTimeoutSeconds)*time.Second,
	)
	sink := rabbitmq.NewEventPublisher(app.MQConn, app.Config.RabbitMQ.AnalyticsQueue, app.Logger)
	chatService := appsvc.NewChatService(client, tokens, sink, appsvc.ChatServiceConfig{
		ServiceURL: app.Config.Upstream.ServiceURL,
		Model:      app.Config.Upstream.Model,
		Audience:   app.Config.Upstream.Audience,
		StreamCap:  time.Duration(app.Config.Upstream.StreamCapMinutes) * time.Minute,
	}, app.Logger)
	chatHandler := handler.NewChatHandler(chatService)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.ResolveSession(sessions, middleware.SessionOptions{
		CookieName: app.Config.Session.CookieName,
		Secret:     app.Config.Session.CookieSecret,
		MaxAge:     time.Duration(app.Config.Session.CookieMaxAgeDays) * 24 * time.Hour,
		Secure:     app.Config.Production(),
	}, app.Logger))

	chatGroup := v1.Group("/chat")
	chatGroup.POST("", chatHandler.Send)
	chatGroup.POST("/stream", chatHandler.Stream)
	v1.GET("/history", chatHandler.History)

	return router
}
