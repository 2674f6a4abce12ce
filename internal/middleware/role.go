package middleware

import (
	"github.com/campus-music/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

// RequireRole rejects requests whose authenticated role is not in the list.
// Must run after JWT.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get(ContextUserRole)
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "insufficient permissions")
		c.Abort()
	}
}
