package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/passport/identityserver"
)

// SetupRouter sets up the Gin router. A nil limiter leaves /auth unlimited.
func SetupRouter(identity *identityserver.Service, logger *slog.Logger, limiter *RateLimiter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	handlers := NewAuthHandlers(identity, logger)

	// Auth routes
	auth := router.Group("/auth")
	if limiter != nil {
		auth.Use(limiter.Middleware())
	}
	{
		auth.POST("/signup", handlers.Signup)
		auth.POST("/login", handlers.Login)
		auth.POST("/federated-login", handlers.FederatedLogin)
		auth.POST("/nonce", handlers.Nonce)
		auth.POST("/wallet-login", handlers.WalletLogin)
		auth.POST("/wallet-link", AuthMiddleware(identity), handlers.WalletLink)
	}

	// Protected routes
	users := router.Group("/users")
	users.Use(AuthMiddleware(identity))
	{
		users.GET("", handlers.Me)
	}

	return router
}
