package middleware

import (
	"crypto/subtle"

	"flashsale/internal/apperr"

	"github.com/gin-gonic/gin"
)

// AdminToken 校验 X-Admin-Token；token 为空时不校验（本地开发）。
func AdminToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			abort(c, apperr.New(apperr.Unauthorized, "admin token 无效"))
			return
		}
		c.Next()
	}
}

// abort 按错误类别查表写出失败响应，格式与路由层一致。
func abort(c *gin.Context, err *apperr.Error) {
	status := err.Kind.Status()
	c.AbortWithStatusJSON(status, gin.H{
		"code": status,
		"kind": err.Kind,
		"msg":  err.Msg,
	})
}
