package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"labelgate/backend/internal/auth/jwt"
	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/storage"
)

// RoleAdmin 管理员角色
const RoleAdmin = "admin"

var (
	// ErrInvalidCredentials 凭证无效
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAdminDisabled 未配置管理员密码哈希
	ErrAdminDisabled = errors.New("admin login is not configured")
	// ErrTokenRevoked 令牌已注销
	ErrTokenRevoked = errors.New("token revoked")
)

// Service 管理员认证服务
//
// 凭证只在服务端校验：用户名常量时间比较，密码与 bcrypt 哈希比较。
// 登录成功签发带 jti 的 JWT，注销时 jti 进入黑名单直到令牌过期。
type Service struct {
	username     string
	passwordHash []byte
	tokens       *jwt.Manager
	blacklist    storage.TokenBlacklist
	log          *zap.Logger
}

// NewService 创建认证服务
func NewService(username, passwordHash string, tokens *jwt.Manager, blacklist storage.TokenBlacklist, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		username:     username,
		passwordHash: []byte(passwordHash),
		tokens:       tokens,
		blacklist:    blacklist,
		log:          log,
	}
}

// Login 校验管理员凭证并签发令牌
func (s *Service) Login(ctx context.Context, username, password string) (*TokenResponse, error) {
	if len(s.passwordHash) == 0 {
		return nil, ErrAdminDisabled
	}

	username = strings.TrimSpace(username)
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	// 用户名错误时仍执行一次 bcrypt 比较，保持耗时一致
	passErr := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password))
	if !userOK || passErr != nil {
		s.log.Warn("admin login failed", zap.String("username", username))
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.GenerateToken(s.username, RoleAdmin)
	if err != nil {
		return nil, err
	}

	s.log.Info("admin logged in", zap.String("username", s.username))
	return &TokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   token.ExpiresIn,
		Username:    s.username,
	}, nil
}

// Authenticate 验证令牌签名、有效期与吊销状态
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*jwt.Claims, error) {
	claims, err := s.tokens.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Role != RoleAdmin {
		return nil, jwt.ErrInvalidToken
	}

	revoked, err := s.blacklist.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check token blacklist: %w", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Logout 吊销令牌直到其原定过期时间
func (s *Service) Logout(ctx context.Context, claims *jwt.Claims) error {
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		if remaining := time.Until(claims.ExpiresAt.Time); remaining > 0 {
			ttl = remaining
		}
	}
	if err := s.blacklist.AddToBlacklist(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	s.log.Info("admin logged out", zap.String("username", claims.Username))
	return nil
}

// HashPassword 生成管理员密码的 bcrypt 哈希
func HashPassword(password string) (string, error) {
	if err := domain.ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
