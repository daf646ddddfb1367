package httptransport

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"labelgate/backend/internal/auth"
	"labelgate/backend/internal/auth/jwt"
	"labelgate/backend/internal/service"
)

// 通用错误消息
const (
	MsgInvalidRequest     = "invalid request body"
	MsgAuthRequired       = "authentication required"
	MsgInvalidCredentials = "invalid username or password"
	MsgAdminDisabled      = "admin login is not configured on this server"
	MsgTokenInvalid       = "invalid or expired token"
	MsgInternal           = "something went wrong, please try again"
)

// errorMapping 业务错误到 HTTP 状态的映射，按顺序匹配
type errorMapping struct {
	target    error
	status    int
	errorCode string
	trim      bool // 去掉哨兵错误前缀，只展示具体原因
}

var errorMappings = []errorMapping{
	{target: service.ErrValidation, status: http.StatusBadRequest, errorCode: ErrorCodeValidation, trim: true},
	{target: service.ErrNotFound, status: http.StatusNotFound, errorCode: ErrorCodeNotFound, trim: true},
	{target: service.ErrDuplicateCode, status: http.StatusConflict, errorCode: ErrorCodeDuplicate},
	{target: service.ErrKeyExhausted, status: http.StatusForbidden, errorCode: ErrorCodeKeyExhausted},
	{target: service.ErrKeyInactive, status: http.StatusForbidden, errorCode: ErrorCodeKeyInactive},
	{target: service.ErrPoolExhausted, status: http.StatusConflict, errorCode: ErrorCodePoolExhausted},
	{target: service.ErrNoPendingLabel, status: http.StatusConflict, errorCode: ErrorCodeNoPendingLabel},
}

// classify 返回错误对应的状态码、错误码和可展示的消息；未知错误返回 ok=false
func classify(err error) (status int, errorCode, msg string, ok bool) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		msg = err.Error()
		if m.trim {
			msg = strings.TrimPrefix(msg, m.target.Error()+": ")
		}
		return m.status, m.errorCode, msg, true
	}
	return 0, "", "", false
}

// respondError 写出业务错误；存储等系统错误只在开发模式下返回详情
func (h *Handler) respondError(c *gin.Context, err error) {
	h.respondErrorWithData(c, err, nil)
}

func (h *Handler) respondErrorWithData(c *gin.Context, err error, data interface{}) {
	if status, code, msg, ok := classify(err); ok {
		Error(c, status, code, msg, data)
		return
	}

	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		Unauthorized(c, MsgInvalidCredentials)
		return
	case errors.Is(err, auth.ErrAdminDisabled):
		Unauthorized(c, MsgAdminDisabled)
		return
	case errors.Is(err, auth.ErrTokenRevoked),
		errors.Is(err, jwt.ErrInvalidToken),
		errors.Is(err, jwt.ErrExpiredToken):
		Unauthorized(c, MsgTokenInvalid)
		return
	}

	h.log.Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err))

	if h.development {
		Error(c, http.StatusInternalServerError, ErrorCodeInternal, MsgInternal, gin.H{"detail": err.Error()})
		return
	}
	InternalError(c, MsgInternal)
}
