package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"labelgate/backend/internal/auth"
	"labelgate/backend/internal/auth/jwt"
)

// ClaimsKey 上下文中保存管理员声明的键
const ClaimsKey = "adminClaims"

// AdminAuth 管理员认证中间件
type AdminAuth struct {
	authService *auth.Service
	log         *zap.Logger
}

// NewAdminAuth 创建管理员认证中间件
func NewAdminAuth(authService *auth.Service, log *zap.Logger) *AdminAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminAuth{
		authService: authService,
		log:         log,
	}
}

// RequireAdmin 要求有效的管理员令牌
func (a *AdminAuth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			abort(c, http.StatusUnauthorized, "authentication required")
			return
		}

		claims, err := a.authService.Authenticate(c.Request.Context(), token)
		if err != nil {
			a.log.Warn("admin authentication failed",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			abort(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set("username", claims.Username)
		c.Next()
	}
}

// AdminClaims 取出 RequireAdmin 写入的声明
func AdminClaims(c *gin.Context) (*jwt.Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*jwt.Claims)
	return claims, ok
}

// extractToken 从请求中提取JWT token
func extractToken(c *gin.Context) string {
	// 1. 从 Authorization header 提取
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return strings.TrimSpace(parts[1])
		}
	}

	// 2. 从 cookie 提取
	if token, err := c.Cookie("access_token"); err == nil && token != "" {
		return token
	}

	// 3. WebSocket 握手无法设置请求头，允许使用查询参数
	return c.Query("token")
}

// abort 以统一响应结构终止请求
func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code": status,
		"msg":  msg,
	})
}
