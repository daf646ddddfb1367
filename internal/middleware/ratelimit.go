package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"labelgate/backend/internal/monitoring"
	"labelgate/backend/internal/storage"
)

// RateLimiter 按客户端 IP 限流。
//
// 配置了共享计数存储（Redis）时使用固定窗口计数，多实例共享额度；
// 否则退化为进程内令牌桶。
type RateLimiter struct {
	limitType string
	limit     int
	window    time.Duration
	store     storage.RateLimitRepository
	metrics   *monitoring.Metrics
	log       *zap.Logger

	mu          sync.Mutex
	visitors    map[string]*visitor
	lastCleanup time.Time
	now         func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter 创建限流器，limit <= 0 时不限流
func NewRateLimiter(limitType string, limit int, window time.Duration, store storage.RateLimitRepository, metrics *monitoring.Metrics, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limitType: limitType,
		limit:     limit,
		window:    window,
		store:     store,
		metrics:   metrics,
		log:       log,
		visitors:  make(map[string]*visitor),
		now:       time.Now,
	}
}

// Middleware 返回 gin 中间件，超出额度时返回 429
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.limit <= 0 {
			c.Next()
			return
		}

		ip := c.ClientIP()
		c.Header("X-RateLimit-Limit", strconv.Itoa(l.limit))
		if !l.allow(c, ip) {
			l.metrics.RecordRateLimitBlock(l.limitType)
			l.log.Warn("rate limit exceeded",
				zap.String("limit_type", l.limitType),
				zap.String("ip", ip))
			c.Header("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			abort(c, http.StatusTooManyRequests, "too many requests, please try again later")
			return
		}
		c.Next()
	}
}

func (l *RateLimiter) allow(c *gin.Context, ip string) bool {
	if l.store != nil {
		count, err := l.store.IncrementRateLimit(c.Request.Context(), l.limitType+":"+ip, l.window)
		if err == nil {
			return count <= int64(l.limit)
		}
		// 共享计数不可用时退回本地令牌桶
		l.log.Warn("rate limit store unavailable", zap.Error(err))
	}
	return l.allowLocal(ip)
}

func (l *RateLimiter) allowLocal(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastCleanup) > 10*l.window {
		for key, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.window {
				delete(l.visitors, key)
			}
		}
		l.lastCleanup = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		every := l.window / time.Duration(l.limit)
		v = &visitor{limiter: rate.NewLimiter(rate.Every(every), l.limit)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}
