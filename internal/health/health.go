package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"labelgate/backend/internal/storage"
)

const checkTimeout = 5 * time.Second

// PingFunc 依赖探测函数
type PingFunc func(ctx context.Context) error

// HealthChecker 健康检查器
//
// 存活检查只看进程自身；就绪检查探测存储及附加依赖（Redis、pgx 连接池）。
type HealthChecker struct {
	health healthcheck.Handler
	store  storage.Store
	logger *zap.Logger

	mu    sync.RWMutex
	extra map[string]PingFunc
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(store storage.Store, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		logger: logger,
		extra:  make(map[string]PingFunc),
	}

	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
	hc.health.AddReadinessCheck("database", hc.wrap("database", store.Health))

	return hc
}

// AddDependency 注册附加的就绪检查
func (hc *HealthChecker) AddDependency(name string, ping PingFunc) {
	hc.mu.Lock()
	hc.extra[name] = ping
	hc.mu.Unlock()

	hc.health.AddReadinessCheck(name, hc.wrap(name, ping))
}

func (hc *HealthChecker) wrap(name string, ping PingFunc) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()

		if err := ping(ctx); err != nil {
			hc.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			return err
		}
		return nil
	}
}

// LiveHandler 存活检查处理器
func (hc *HealthChecker) LiveHandler() http.Handler {
	return http.HandlerFunc(hc.health.LiveEndpoint)
}

// ReadyHandler 就绪检查处理器
func (hc *HealthChecker) ReadyHandler() http.Handler {
	return http.HandlerFunc(hc.health.ReadyEndpoint)
}

// Status 汇总报告
type Status struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// CheckHealth 执行全部就绪检查并汇总结果
func (hc *HealthChecker) CheckHealth(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	checks := map[string]PingFunc{"database": hc.store.Health}
	hc.mu.RLock()
	for name, ping := range hc.extra {
		checks[name] = ping
	}
	hc.mu.RUnlock()

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := Status{
		Status:    "ok",
		Checks:    make(map[string]string, len(checks)),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			status.Checks[name] = fmt.Sprintf("ERROR: %v", err)
			status.Status = "degraded"
			continue
		}
		status.Checks[name] = "OK"
	}
	return status
}
