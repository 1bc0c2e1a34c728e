package handler

import (
	"github.com/gin-gonic/gin"

	"ccms/backend/internal/api/middleware"
	"ccms/backend/internal/service"
	"ccms/backend/pkg/response"
)

// MustGetPrincipal 从 Gin 上下文中提取 JWT 中间件注入的调用方。
// 缺少 user_id 或 role 时写入 401 响应并返回 false，调用方应直接 return。
func MustGetPrincipal(c *gin.Context) (service.Principal, bool) {
	p := service.Principal{
		ID:    c.GetString(middleware.CtxUserID),
		Email: c.GetString(middleware.CtxEmail),
		Name:  c.GetString(middleware.CtxName),
		Role:  c.GetString(middleware.CtxRole),
	}
	if p.ID == "" || p.Role == "" {
		response.Unauthorized(c, 10002, "未认证")
		return service.Principal{}, false
	}
	return p, true
}
