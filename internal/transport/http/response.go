package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code      int         `json:"code"`                // 业务状态码
	Msg       string      `json:"msg"`                 // 提示信息
	ErrorCode string      `json:"errorCode,omitempty"` // 机器可读的错误码，便于前端区分业务状态
	Data      interface{} `json:"data,omitempty"`      // 数据载荷
}

// 业务状态码定义
const (
	// 成功状态码 2xx
	CodeSuccess = 200 // 成功
	CodeCreated = 201 // 创建成功

	// 客户端错误 4xx
	CodeBadRequest      = 400 // 请求参数错误
	CodeUnauthorized    = 401 // 未认证
	CodeForbidden       = 403 // 无权限或密钥不可用
	CodeNotFound        = 404 // 资源不存在
	CodeConflict        = 409 // 资源冲突或条码池为空
	CodeTooManyRequests = 429 // 请求过于频繁

	// 服务器错误 5xx
	CodeInternalError = 500 // 服务器内部错误
)

// 错误码
const (
	ErrorCodeValidation     = "VALIDATION_ERROR"
	ErrorCodeNotFound       = "NOT_FOUND"
	ErrorCodeDuplicate      = "DUPLICATE_CODE"
	ErrorCodeKeyExhausted   = "KEY_EXHAUSTED"
	ErrorCodeKeyInactive    = "KEY_INACTIVE"
	ErrorCodePoolExhausted  = "POOL_EXHAUSTED"
	ErrorCodeNoPendingLabel = "NO_PENDING_LABEL"
	ErrorCodeUnauthorized   = "UNAUTHORIZED"
	ErrorCodeInternal       = "INTERNAL_ERROR"
)

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: CodeSuccess,
		Msg:  "ok",
		Data: data,
	})
}

// SuccessWithMsg 成功响应（自定义消息）
func SuccessWithMsg(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: CodeSuccess,
		Msg:  msg,
		Data: data,
	})
}

// Created 创建成功响应（201）
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code: CodeCreated,
		Msg:  "created",
		Data: data,
	})
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, ErrorCodeValidation, msg, nil)
}

// Unauthorized 未认证错误（401）
func Unauthorized(c *gin.Context, msg string) {
	Error(c, http.StatusUnauthorized, ErrorCodeUnauthorized, msg, nil)
}

// InternalError 服务器内部错误（500）
func InternalError(c *gin.Context, msg string) {
	Error(c, http.StatusInternalServerError, ErrorCodeInternal, msg, nil)
}

// Error 通用错误响应，data 可携带部分结果（例如导入报告）
func Error(c *gin.Context, httpCode int, errorCode, msg string, data interface{}) {
	c.JSON(httpCode, Response{
		Code:      httpCode,
		Msg:       msg,
		ErrorCode: errorCode,
		Data:      data,
	})
}
