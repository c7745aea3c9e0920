package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/authgate/internal/handlers"
)

func registerAuthRoutes(engine *gin.Engine, api *gin.RouterGroup, handler *handlers.AuthHandler, limiter gin.HandlerFunc) {
	auth := engine.Group("/api/auth")
	auth.Use(limiter)
	{
		auth.POST("/register", handler.Register)
		auth.POST("/login", handler.Login)
		auth.GET("/verify-login", handler.VerifyLogin)
		auth.POST("/verify-login", handler.VerifyLogin)
		auth.POST("/refresh", handler.Refresh)
	}

	api.GET("/auth/me", handler.Me)
	api.POST("/auth/logout", handler.Logout)
	api.GET("/auth/login-attempts", handler.LoginAttempts)
}
