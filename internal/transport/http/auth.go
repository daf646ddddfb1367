package httptransport

import (
	"github.com/gin-gonic/gin"

	"labelgate/backend/internal/middleware"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// login godoc
// @Summary 管理员登录
// @Description 服务端校验凭证并签发 JWT
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body loginRequest true "登录信息"
// @Success 200 {object} auth.TokenResponse
// @Failure 401 {object} Response
// @Router /api/admin/login [post]
func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "username and password are required")
		return
	}

	resp, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	Success(c, resp)
}

// logout godoc
// @Summary 管理员注销
// @Tags Admin
// @Security BearerAuth
// @Success 200 {object} Response
// @Router /api/admin/logout [post]
func (h *Handler) logout(c *gin.Context) {
	claims, ok := middleware.AdminClaims(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}
	if err := h.auth.Logout(c.Request.Context(), claims); err != nil {
		h.respondError(c, err)
		return
	}
	SuccessWithMsg(c, "logged out", nil)
}

type meResponse struct {
	Username  string `json:"username"`
	Role      string `json:"role"`
	ExpiresAt int64  `json:"expiresAt"`
}

// me godoc
// @Summary 当前管理员
// @Tags Admin
// @Security BearerAuth
// @Success 200 {object} meResponse
// @Router /api/admin/me [get]
func (h *Handler) me(c *gin.Context) {
	claims, ok := middleware.AdminClaims(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	resp := meResponse{Username: claims.Username, Role: claims.Role}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Unix()
	}
	Success(c, resp)
}
