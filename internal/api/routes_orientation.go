package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/authgate/internal/handlers"
)

func registerOrientationRoutes(api *gin.RouterGroup, handler *handlers.OrientationHandler) {
	orientation := api.Group("/orientation")
	{
		orientation.POST("/submit-initial", handler.SubmitInitial)
		orientation.POST("/submit-responses", handler.SubmitResponses)
		// Path used by the first web client release.
		orientation.POST("/submit-reponses", handler.SubmitResponses)
		orientation.GET("/sessions", handler.List)
		orientation.GET("/sessions/:id", handler.Get)
		orientation.DELETE("/sessions/:id", handler.Delete)
	}
}
