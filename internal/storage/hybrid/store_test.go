package hybrid

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/storage"
	"labelgate/backend/internal/storage/memory"
	"labelgate/backend/internal/storage/redis"
	"labelgate/backend/internal/storage/storagetest"
)

// MockCache 模拟 Redis 缓存
type MockCache struct {
	mock.Mock
}

func (m *MockCache) CacheAccessKey(ctx context.Context, key *domain.AccessKey, ttl time.Duration) error {
	return m.Called(ctx, key, ttl).Error(0)
}

func (m *MockCache) GetCachedAccessKey(ctx context.Context, code string) (*domain.AccessKey, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AccessKey), args.Error(1)
}

func (m *MockCache) InvalidateAccessKey(ctx context.Context, code string) error {
	return m.Called(ctx, code).Error(0)
}

func (m *MockCache) AddToBlacklist(ctx context.Context, jti string, ttl time.Duration) error {
	return m.Called(ctx, jti, ttl).Error(0)
}

func (m *MockCache) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	args := m.Called(ctx, jti)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	args := m.Called(ctx, key, window)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCache) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockCache) Close() error {
	return m.Called().Error(0)
}

var _ Cache = (*MockCache)(nil)

const keyTTL = 30 * time.Second

func newHybrid(t *testing.T) (*Store, *memory.Store, *MockCache) {
	t.Helper()
	db := memory.NewStore()
	cache := new(MockCache)
	t.Cleanup(func() { cache.AssertExpectations(t) })
	return NewStore(db, cache, keyTTL, nil), db, cache
}

func seedKey(t *testing.T, db *memory.Store, code string, maxUses int) *domain.AccessKey {
	t.Helper()
	key := storagetest.NewKey(code, maxUses)
	require.NoError(t, db.CreateAccessKey(context.Background(), key))
	return key
}

func TestGetAccessKeyByCode(t *testing.T) {
	ctx := context.Background()

	t.Run("命中缓存不查数据库", func(t *testing.T) {
		s, _, cache := newHybrid(t)
		cached := storagetest.NewKey("CACHED-00000001", 3)
		cache.On("GetCachedAccessKey", mock.Anything, cached.Code).Return(cached, nil)

		got, err := s.GetAccessKeyByCode(ctx, cached.Code)
		require.NoError(t, err)
		assert.Equal(t, cached, got)
	})

	t.Run("未命中回源并回写", func(t *testing.T) {
		s, db, cache := newHybrid(t)
		key := seedKey(t, db, "MISS-00000001", 3)
		cache.On("GetCachedAccessKey", mock.Anything, key.Code).Return(nil, redis.ErrCacheMiss)
		cache.On("CacheAccessKey", mock.Anything, mock.MatchedBy(func(k *domain.AccessKey) bool {
			return k.ID == key.ID
		}), keyTTL).Return(nil)

		got, err := s.GetAccessKeyByCode(ctx, key.Code)
		require.NoError(t, err)
		assert.Equal(t, key.ID, got.ID)
	})

	t.Run("缓存故障时仍返回数据库结果", func(t *testing.T) {
		s, db, cache := newHybrid(t)
		key := seedKey(t, db, "DOWN-00000001", 3)
		cache.On("GetCachedAccessKey", mock.Anything, key.Code).Return(nil, errors.New("connection refused"))
		cache.On("CacheAccessKey", mock.Anything, mock.Anything, keyTTL).Return(errors.New("connection refused"))

		got, err := s.GetAccessKeyByCode(ctx, key.Code)
		require.NoError(t, err)
		assert.Equal(t, key.ID, got.ID)
	})

	t.Run("不存在的密钥不回写", func(t *testing.T) {
		s, _, cache := newHybrid(t)
		cache.On("GetCachedAccessKey", mock.Anything, "NONE-00000001").Return(nil, redis.ErrCacheMiss)

		_, err := s.GetAccessKeyByCode(ctx, "NONE-00000001")
		assert.ErrorIs(t, err, storage.ErrKeyNotFound)
		cache.AssertNotCalled(t, "CacheAccessKey", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestKeyWritesInvalidateCache(t *testing.T) {
	ctx := context.Background()

	t.Run("使用计数后失效", func(t *testing.T) {
		s, db, cache := newHybrid(t)
		key := seedKey(t, db, "INCR-00000001", 1)
		cache.On("InvalidateAccessKey", mock.Anything, key.Code).Return(nil).Once()

		updated, err := s.IncrementKeyUsage(ctx, key.ID)
		require.NoError(t, err)
		assert.False(t, updated.IsActive)
	})

	t.Run("计数失败不失效", func(t *testing.T) {
		s, db, cache := newHybrid(t)
		key := seedKey(t, db, "FULL-00000001", 1)
		cache.On("InvalidateAccessKey", mock.Anything, key.Code).Return(nil).Once()
		_, err := s.IncrementKeyUsage(ctx, key.ID)
		require.NoError(t, err)

		_, err = s.IncrementKeyUsage(ctx, key.ID)
		assert.ErrorIs(t, err, storage.ErrKeyUnavailable)
		cache.AssertNumberOfCalls(t, "InvalidateAccessKey", 1)
	})

	t.Run("更新后失效", func(t *testing.T) {
		s, db, cache := newHybrid(t)
		key := seedKey(t, db, "EDIT-00000001", 1)
		cache.On("InvalidateAccessKey", mock.Anything, key.Code).Return(nil).Once()

		updated, err := s.UpdateAccessKey(ctx, key.ID, "more uses", 5)
		require.NoError(t, err)
		assert.Equal(t, 5, updated.MaxUses)
	})

	t.Run("启停后失效", func(t *testing.T) {
		s, db, cache := newHybrid(t)
		key := seedKey(t, db, "TOGL-00000001", 3)
		cache.On("InvalidateAccessKey", mock.Anything, key.Code).Return(nil).Twice()

		_, err := s.SetAccessKeyActive(ctx, key.ID, false)
		require.NoError(t, err)
		_, err = s.SetAccessKeyActive(ctx, key.ID, true)
		require.NoError(t, err)
	})

	t.Run("删除后失效", func(t *testing.T) {
		s, db, cache := newHybrid(t)
		key := seedKey(t, db, "GONE-00000001", 3)
		cache.On("InvalidateAccessKey", mock.Anything, key.Code).Return(nil).Once()

		require.NoError(t, s.DeleteAccessKey(ctx, key.ID))
		_, err := db.GetAccessKey(ctx, key.ID)
		assert.ErrorIs(t, err, storage.ErrKeyNotFound)
	})

	t.Run("失效失败不影响写入结果", func(t *testing.T) {
		s, db, cache := newHybrid(t)
		key := seedKey(t, db, "WARN-00000001", 3)
		cache.On("InvalidateAccessKey", mock.Anything, key.Code).Return(errors.New("timeout")).Once()

		updated, err := s.IncrementKeyUsage(ctx, key.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, updated.CurrentUses)
	})
}

func TestRedisBackedOperations(t *testing.T) {
	ctx := context.Background()

	t.Run("黑名单与限流走 Redis", func(t *testing.T) {
		s, _, cache := newHybrid(t)
		cache.On("AddToBlacklist", mock.Anything, "jti-1", time.Hour).Return(nil)
		cache.On("IsBlacklisted", mock.Anything, "jti-1").Return(true, nil)
		cache.On("IncrementRateLimit", mock.Anything, "key_validation:1.2.3.4", time.Minute).Return(int64(2), nil)

		require.NoError(t, s.AddToBlacklist(ctx, "jti-1", time.Hour))
		ok, err := s.IsBlacklisted(ctx, "jti-1")
		require.NoError(t, err)
		assert.True(t, ok)

		n, err := s.IncrementRateLimit(ctx, "key_validation:1.2.3.4", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("健康检查包含 Redis", func(t *testing.T) {
		s, _, cache := newHybrid(t)
		cache.On("Ping", mock.Anything).Return(errors.New("redis down"))

		assert.EqualError(t, s.Health(ctx), "redis down")
	})

	t.Run("关闭时合并错误", func(t *testing.T) {
		s, _, cache := newHybrid(t)
		cache.On("Close").Return(errors.New("already closed"))

		assert.ErrorContains(t, s.Close(), "already closed")
	})
}
