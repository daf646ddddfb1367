package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelgate/backend/internal/auth/jwt"
	"labelgate/backend/internal/config"
	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/storage/memory"
)

const testSecret = "test-secret-key-for-development-32-chars-long"

func newTestService(t *testing.T) *Service {
	t.Helper()
	hash, err := HashPassword("correct-horse")
	require.NoError(t, err)

	tokens := NewJWTManager(&config.JWTConfig{Secret: testSecret, Issuer: "labelgate", Expiry: time.Hour})
	return NewService("admin", hash, tokens, memory.NewStore(), nil)
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	t.Run("登录成功", func(t *testing.T) {
		resp, err := svc.Login(ctx, " admin ", "correct-horse")
		require.NoError(t, err)
		assert.Equal(t, "Bearer", resp.TokenType)
		assert.Equal(t, int64(3600), resp.ExpiresIn)
		assert.Equal(t, "admin", resp.Username)

		claims, err := svc.Authenticate(ctx, resp.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, RoleAdmin, claims.Role)
	})

	t.Run("密码错误", func(t *testing.T) {
		_, err := svc.Login(ctx, "admin", "wrong-password")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("用户名错误", func(t *testing.T) {
		_, err := svc.Login(ctx, "root", "correct-horse")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("未配置密码哈希", func(t *testing.T) {
		disabled := NewService("admin", "", jwt.NewManager(testSecret, "labelgate", time.Hour), memory.NewStore(), nil)
		_, err := disabled.Login(ctx, "admin", "anything")
		assert.ErrorIs(t, err, ErrAdminDisabled)
	})
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	resp, err := svc.Login(ctx, "admin", "correct-horse")
	require.NoError(t, err)
	claims, err := svc.Authenticate(ctx, resp.AccessToken)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, claims))

	_, err = svc.Authenticate(ctx, resp.AccessToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	other, err := svc.Login(ctx, "admin", "correct-horse")
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, other.AccessToken)
	assert.NoError(t, err, "注销只影响当前令牌")
}

func TestAuthenticateRejectsNonAdminRole(t *testing.T) {
	svc := newTestService(t)
	token, err := svc.tokens.GenerateToken("viewer", "viewer")
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), token.AccessToken)
	assert.ErrorIs(t, err, jwt.ErrInvalidToken)
}

func TestHashPassword(t *testing.T) {
	t.Run("过短", func(t *testing.T) {
		_, err := HashPassword("short")
		assert.ErrorIs(t, err, domain.ErrPasswordTooShort)
	})

	t.Run("生成可校验的哈希", func(t *testing.T) {
		hash, err := HashPassword("long-enough")
		require.NoError(t, err)
		assert.NotEqual(t, "long-enough", hash)

		svc := NewService("admin", hash, jwt.NewManager(testSecret, "labelgate", time.Hour), memory.NewStore(), nil)
		_, err = svc.Login(context.Background(), "admin", "long-enough")
		assert.NoError(t, err)
	})
}
