package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/authgate/internal/handlers"
)

func registerSessionRoutes(api *gin.RouterGroup, handler *handlers.SessionHandler) {
	sessions := api.Group("/sessions")
	{
		sessions.GET("", handler.List)
		sessions.DELETE("/:id", handler.Revoke)
		sessions.POST("/revoke-all", handler.RevokeAll)
	}
}
