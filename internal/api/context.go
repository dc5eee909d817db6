package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/mautops/moneylens/internal/auth"
	"github.com/mautops/moneylens/internal/service"
)

// requestContext 附带审计所需请求信息的上下文
func requestContext(c *gin.Context) context.Context {
	return service.WithRequestInfo(c.Request.Context(), service.RequestInfo{
		RequestID: c.GetString(RequestIDKey),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
}

// actorFrom 从认证信息构造操作人
func actorFrom(c *gin.Context) service.Actor {
	return service.Actor{
		UserID: c.GetString(auth.ContextUserID),
		Role:   c.GetString(auth.ContextRole),
		DeptID: c.GetString(auth.ContextDeptID),
	}
}
