package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/identityserver"
)

// Context keys set by AuthMiddleware
const (
	ctxUser        = "user"
	ctxAccessToken = "accessToken"
)

// AuthMiddleware creates middleware that validates bearer access tokens
func AuthMiddleware(identity *identityserver.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")

		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			abort(c, http.StatusUnauthorized, "Invalid authorization header")
			return
		}

		user, err := identity.WhoAmI(c.Request.Context(), token)
		if err != nil {
			message := identityserver.MsgUnauthorized
			var e *core.Error
			if errors.As(err, &e) && e.Message != "" {
				message = e.Message
			}
			abort(c, http.StatusUnauthorized, message)
			return
		}

		c.Set(ctxUser, user)
		c.Set(ctxAccessToken, token)

		c.Next()
	}
}

// RequestLogger logs one line per request. Request bodies are never logged.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
