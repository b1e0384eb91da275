package handler

import (
	"context"
	"time"

	"chatify/pkg/jwt"

	"github.com/gin-gonic/gin"
)

// LastSeenToucher 刷新最近在线时间
type LastSeenToucher interface {
	TouchLastSeen(ctx context.Context, userID uint)
}

// TouchLastSeen 认证后的请求处理完成后刷新最近在线时间
func TouchLastSeen(t LastSeenToucher) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		userID := jwt.GetUserID(c)
		if userID == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 2*time.Second)
		defer cancel()
		t.TouchLastSeen(ctx, userID)
	}
}
