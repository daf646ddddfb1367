package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	// DefaultBodyLimit 普通 API 请求体上限
	DefaultBodyLimit = 1 * 1024 * 1024 // 1MB

	// ImportBodyLimit 条码批量导入的默认上限
	ImportBodyLimit = 5 * 1024 * 1024 // 5MB
)

// BodySizeLimit 限制请求体大小的中间件
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return DynamicBodySizeLimit(nil, maxBytes)
}

// DynamicBodySizeLimit 根据路由动态设置请求体大小限制
func DynamicBodySizeLimit(limits map[string]int64, defaultLimit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, exists := limits[c.FullPath()]
		if !exists {
			limit = defaultLimit
		}

		if c.Request.ContentLength > limit {
			abort(c, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds maximum size of %d bytes", limit))
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Header("X-Max-Body-Size", strconv.FormatInt(limit, 10))

		c.Next()
	}
}
