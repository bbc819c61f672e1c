package http

import (
	"github.com/gin-gonic/gin"

	"pdfchat/internal/bootstrap"
	"pdfchat/internal/transport/http/handler"
	"pdfchat/internal/transport/http/middleware"
)

// NewRouter wires the HTTP surface. Everything under /api/v1 requires a
// valid bearer token; the health probe stays open.
func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	chatHandler := handler.NewChatHandler(app.ChatService)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	{
		v1.POST("/chat", chatHandler.Chat)
		v1.GET("/chat/history", chatHandler.GetHistory)
	}

	return router
}
