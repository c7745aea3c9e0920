package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/authgate/internal/auditctx"
)

// AuditContext stores the caller's address and user agent on the request
// context for audit entries written further down the stack.
func AuditContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auditctx.WithActor(c.Request.Context(), auditctx.Actor{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
