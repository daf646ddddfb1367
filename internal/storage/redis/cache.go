package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"labelgate/backend/internal/domain"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

// EventsChannel 多实例之间广播实时事件的频道
const EventsChannel = "labelgate:events"

// Cache Redis 缓存：密钥查询、令牌黑名单、限流计数与事件广播
type Cache struct {
	client *redis.Client
}

// NewCache 包装已连接的 Redis 客户端
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// ========== 访问密钥缓存 ==========

// 失效后留下的占位值。回写使用 SET NX，占位存在期间失效前读到的旧值无法写回
const (
	keyTombstone = "-"
	tombstoneTTL = 5 * time.Second
)

func keyCodeCacheKey(code string) string { return fmt.Sprintf("access_key:code:%s", code) }

// CacheAccessKey 按代码回写密钥，已有缓存或失效占位时不覆盖
func (c *Cache) CacheAccessKey(ctx context.Context, key *domain.AccessKey, ttl time.Duration) error {
	data, err := json.Marshal(key)
	if err != nil {
		return err
	}
	return c.client.SetNX(ctx, keyCodeCacheKey(key.Code), data, ttl).Err()
}

// GetCachedAccessKey 按代码读取缓存的密钥
func (c *Cache) GetCachedAccessKey(ctx context.Context, code string) (*domain.AccessKey, error) {
	data, err := c.client.Get(ctx, keyCodeCacheKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	if string(data) == keyTombstone {
		return nil, ErrCacheMiss
	}

	var key domain.AccessKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

// InvalidateAccessKey 用失效占位替换密钥缓存
func (c *Cache) InvalidateAccessKey(ctx context.Context, code string) error {
	return c.client.Set(ctx, keyCodeCacheKey(code), keyTombstone, tombstoneTTL).Err()
}

// ========== JWT 黑名单 ==========

// AddToBlacklist 将令牌 ID 加入黑名单
func (c *Cache) AddToBlacklist(ctx context.Context, jti string, ttl time.Duration) error {
	key := fmt.Sprintf("blacklist:%s", jti)
	return c.client.Set(ctx, key, "1", ttl).Err()
}

// IsBlacklisted 检查令牌 ID 是否在黑名单中
func (c *Cache) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := c.client.Exists(ctx, fmt.Sprintf("blacklist:%s", jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ========== 限流 ==========

// IncrementRateLimit 固定窗口计数，首次写入时设置过期时间
func (c *Cache) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	key = fmt.Sprintf("ratelimit:%s", key)
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// ========== 发布订阅 ==========

// Publish 广播事件到所有实例
func (c *Cache) Publish(ctx context.Context, payload []byte) error {
	return c.client.Publish(ctx, EventsChannel, payload).Err()
}

// Subscribe 订阅事件频道
func (c *Cache) Subscribe(ctx context.Context) *redis.PubSub {
	return c.client.Subscribe(ctx, EventsChannel)
}

// ========== 工具方法 ==========

// Ping 测试连接
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (c *Cache) Close() error {
	return c.client.Close()
}
