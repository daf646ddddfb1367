package auth

import (
	"labelgate/backend/internal/auth/jwt"
	"labelgate/backend/internal/config"
)

// NewJWTManager 根据配置创建 JWT 管理器
func NewJWTManager(cfg *config.JWTConfig) *jwt.Manager {
	return jwt.NewManager(cfg.Secret, cfg.Issuer, cfg.Expiry)
}

// TokenResponse 登录响应
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
	Username    string `json:"username"`
}
