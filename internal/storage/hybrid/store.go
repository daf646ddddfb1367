package hybrid

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/storage"
	"labelgate/backend/internal/storage/redis"
)

// Cache 混合存储使用的 Redis 能力，由 redis.Cache 实现
type Cache interface {
	CacheAccessKey(ctx context.Context, key *domain.AccessKey, ttl time.Duration) error
	GetCachedAccessKey(ctx context.Context, code string) (*domain.AccessKey, error)
	InvalidateAccessKey(ctx context.Context, code string) error
	AddToBlacklist(ctx context.Context, jti string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
	IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

var _ Cache = (*redis.Cache)(nil)

// Store 混合存储实现，结合关系型数据库和 Redis
//
// 持久数据全部落在数据库中；Redis 只缓存按代码查询的密钥，
// 并承担令牌黑名单与限流计数。密钥的每次写操作在数据库提交后都会使缓存失效。
type Store struct {
	storage.Store
	redis  Cache
	keyTTL time.Duration
	log    *zap.Logger
}

// NewStore 创建混合存储实例
func NewStore(db storage.Store, cache Cache, keyTTL time.Duration, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{Store: db, redis: cache, keyTTL: keyTTL, log: log}
}

// ========== Access Key Repository ==========

// GetAccessKeyByCode 先查 Redis，未命中时回源数据库并写回缓存
func (s *Store) GetAccessKeyByCode(ctx context.Context, code string) (*domain.AccessKey, error) {
	if key, err := s.redis.GetCachedAccessKey(ctx, code); err == nil {
		return key, nil
	} else if !errors.Is(err, redis.ErrCacheMiss) {
		s.log.Warn("access key cache read failed", zap.String("code", code), zap.Error(err))
	}

	key, err := s.Store.GetAccessKeyByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if err := s.redis.CacheAccessKey(ctx, key, s.keyTTL); err != nil {
		s.log.Warn("access key cache write failed", zap.String("code", code), zap.Error(err))
	}
	return key, nil
}

// IncrementKeyUsage 计数在数据库中原子完成，随后清除缓存
func (s *Store) IncrementKeyUsage(ctx context.Context, id string) (*domain.AccessKey, error) {
	key, err := s.Store.IncrementKeyUsage(ctx, id)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, key.Code)
	return key, nil
}

// UpdateAccessKey 更新描述与上限
func (s *Store) UpdateAccessKey(ctx context.Context, id, description string, maxUses int) (*domain.AccessKey, error) {
	key, err := s.Store.UpdateAccessKey(ctx, id, description, maxUses)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, key.Code)
	return key, nil
}

// SetAccessKeyActive 切换启用状态
func (s *Store) SetAccessKeyActive(ctx context.Context, id string, active bool) (*domain.AccessKey, error) {
	key, err := s.Store.SetAccessKeyActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, key.Code)
	return key, nil
}

// DeleteAccessKey 删除密钥并清除缓存
func (s *Store) DeleteAccessKey(ctx context.Context, id string) error {
	key, err := s.Store.GetAccessKey(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Store.DeleteAccessKey(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, key.Code)
	return nil
}

func (s *Store) invalidate(ctx context.Context, code string) {
	if err := s.redis.InvalidateAccessKey(ctx, code); err != nil {
		s.log.Warn("access key cache invalidation failed", zap.String("code", code), zap.Error(err))
	}
}

// ========== Token Blacklist / Rate Limit ==========

// AddToBlacklist 令牌黑名单保存在 Redis 中，随 TTL 自动过期
func (s *Store) AddToBlacklist(ctx context.Context, jti string, ttl time.Duration) error {
	return s.redis.AddToBlacklist(ctx, jti, ttl)
}

// IsBlacklisted 检查令牌是否已吊销
func (s *Store) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	return s.redis.IsBlacklisted(ctx, jti)
}

// IncrementRateLimit 跨实例共享的限流计数
func (s *Store) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	return s.redis.IncrementRateLimit(ctx, key, window)
}

// ========== 工具方法 ==========

// Health 同时检查数据库与 Redis
func (s *Store) Health(ctx context.Context) error {
	if err := s.Store.Health(ctx); err != nil {
		return err
	}
	return s.redis.Ping(ctx)
}

// Close 关闭所有连接
func (s *Store) Close() error {
	dbErr := s.Store.Close()
	redisErr := s.redis.Close()
	return errors.Join(dbErr, redisErr)
}
