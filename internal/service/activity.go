package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/monitoring"
	"labelgate/backend/internal/storage"
)

// DefaultRecentActivity 活动列表默认条数
const DefaultRecentActivity = 100

// ActivityRecorder 使用记录：尽力写入的审计日志。
//
// 写入失败只记录日志和指标，从不向调用方返回错误，
// 已经提交的使用计数不会因此回滚。
type ActivityRecorder struct {
	repo    storage.UsageLogRepository
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewActivityRecorder 创建使用记录服务
func NewActivityRecorder(repo storage.UsageLogRepository, log *zap.Logger) *ActivityRecorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &ActivityRecorder{repo: repo, log: log}
}

// SetMetrics 设置监控指标
func (r *ActivityRecorder) SetMetrics(m *monitoring.Metrics) {
	r.metrics = m
}

// Append 写入一条使用记录，失败时返回 nil
func (r *ActivityRecorder) Append(ctx context.Context, keyID string, data domain.LabelData, ip string) *domain.UsageLogEntry {
	entry := &domain.UsageLogEntry{
		KeyID:     keyID,
		LabelData: domain.NormalizeLabelData(data),
	}
	if ip = strings.TrimSpace(ip); ip != "" {
		entry.IPAddress = &ip
	}

	if err := r.repo.AppendUsageLog(ctx, entry); err != nil {
		r.metrics.RecordActivityLogFailure()
		r.log.Error("failed to append usage log",
			zap.String("key_id", keyID),
			zap.Error(err))
		return nil
	}
	return entry
}

// Recent 返回最近的使用记录，limit <= 0 时取默认条数
func (r *ActivityRecorder) Recent(ctx context.Context, limit int) ([]domain.UsageLogView, error) {
	if limit <= 0 {
		limit = DefaultRecentActivity
	}
	return r.repo.ListUsageLogs(ctx, limit)
}

// All 返回全部使用记录
func (r *ActivityRecorder) All(ctx context.Context) ([]domain.UsageLogView, error) {
	return r.repo.ListUsageLogs(ctx, 0)
}
