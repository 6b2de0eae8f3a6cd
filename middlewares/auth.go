package middlewares

import (
	"strings"

	"github.com/gin-gonic/gin"

	"rentgidi-chat/utils"
)

const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// TokenAuthMiddleware 校验 Authorization: Bearer <token>，把用户 ID 写入上下文
func TokenAuthMiddleware(tokens *utils.JWT) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if header == "" || token == header {
			utils.RespondError(c, utils.ErrUnauthenticated)
			return
		}
		claims, err := tokens.Verify(token)
		if err != nil {
			utils.RespondError(c, err)
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}
