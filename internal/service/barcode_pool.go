package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"labelgate/backend/internal/barcode"
	"labelgate/backend/internal/cache"
	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/monitoring"
	"labelgate/backend/internal/storage"
)

const (
	statusCacheKey = "barcode_pool_status"
	statusCacheTTL = 2 * time.Second
	previewLength  = 50
)

// IngestReport 批量导入结果
type IngestReport struct {
	// Processed 解析成功的行数
	Processed  int                 `json:"processed"`
	Inserted   int                 `json:"inserted"`
	Duplicates int                 `json:"duplicates"`
	Rejected   []barcode.LineError `json:"rejected"`
}

// NextBarcode 下一条待分配条码的预览
type NextBarcode struct {
	ID          string `json:"id"`
	LinearValue string `json:"linearValue"`
	GS1Preview  string `json:"gs1Preview"`
}

// PoolStatus 条码池公开状态
type PoolStatus struct {
	Stats         domain.PoolStats `json:"stats"`
	NextAvailable *NextBarcode     `json:"nextAvailable"`
	HasAvailable  bool             `json:"hasAvailable"`
}

// PoolWatcher 在条码池发生变化后被调用，用于告警检查
type PoolWatcher func(ctx context.Context)

// BarcodePoolService 条码池：导入、按 FIFO 原子分配、统计。
type BarcodePoolService struct {
	repo        storage.BarcodeRepository
	statusCache *cache.LocalCache
	events      EventPublisher
	metrics     *monitoring.Metrics
	watcher     PoolWatcher
	log         *zap.Logger
}

// NewBarcodePoolService 创建条码池服务
func NewBarcodePoolService(repo storage.BarcodeRepository, statusCache *cache.LocalCache, log *zap.Logger) *BarcodePoolService {
	if log == nil {
		log = zap.NewNop()
	}
	return &BarcodePoolService{
		repo:        repo,
		statusCache: statusCache,
		events:      nopPublisher{},
		log:         log,
	}
}

// SetEventPublisher 设置实时事件发布器
func (s *BarcodePoolService) SetEventPublisher(p EventPublisher) {
	if p != nil {
		s.events = p
	}
}

// SetMetrics 设置监控指标
func (s *BarcodePoolService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// SetPoolWatcher 设置条码池变化回调
func (s *BarcodePoolService) SetPoolWatcher(w PoolWatcher) {
	s.watcher = w
}

// Ingest 解析粘贴的条码文本并入库。
//
// 单行失败只记入 Rejected；没有任何行解析成功时返回 ErrValidation，
// 此时报告仍然返回，便于展示失败原因。重复的 gs1 值计入 Duplicates。
func (s *BarcodePoolService) Ingest(ctx context.Context, text string) (*IngestReport, error) {
	parsed, err := barcode.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	report := &IngestReport{
		Processed: len(parsed.Accepted),
		Rejected:  parsed.Rejected,
	}
	if report.Rejected == nil {
		report.Rejected = []barcode.LineError{}
	}

	if len(parsed.Accepted) == 0 {
		s.metrics.RecordIngest(0, 0, len(parsed.Rejected))
		return report, fmt.Errorf("%w: no valid barcode values could be processed, make sure each line contains (91) followed by a value", ErrValidation)
	}

	result, err := s.repo.InsertBarcodes(ctx, parsed.Accepted)
	if err != nil {
		return nil, err
	}
	report.Inserted = result.Inserted
	report.Duplicates = result.Duplicates

	s.metrics.RecordIngest(result.Inserted, result.Duplicates, len(parsed.Rejected))
	s.log.Info("barcodes ingested",
		zap.Int("processed", report.Processed),
		zap.Int("inserted", report.Inserted),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("rejected", len(report.Rejected)))

	s.poolChanged(ctx)
	s.events.Publish(ctx, newEvent(EventBarcodesImported, report))
	return report, nil
}

// AllocateOne 原子地分配最早的未使用条码。池为空时返回 ErrPoolExhausted。
func (s *BarcodePoolService) AllocateOne(ctx context.Context) (*domain.BarcodeRecord, error) {
	rec, err := s.repo.AllocateBarcode(ctx)
	if err != nil {
		return nil, s.allocationFailed(ctx, err)
	}
	s.allocated(ctx, rec)
	return rec, nil
}

// AllocateForUsage 为密钥最近一条未关联条码的使用记录分配条码，两者在同一事务中写入。
//
// 没有待认领的记录时返回 ErrNoPendingLabel，不消耗条码。
func (s *BarcodePoolService) AllocateForUsage(ctx context.Context, keyID string) (*domain.BarcodeRecord, *domain.UsageLogEntry, error) {
	rec, entry, err := s.repo.AllocateBarcodeForUsage(ctx, keyID)
	if err != nil {
		if errors.Is(err, storage.ErrUsageLogNotFound) {
			s.metrics.RecordAllocation(monitoring.ResultNoPending)
			s.log.Warn("barcode requested without pending label", zap.String("key_id", keyID))
			return nil, nil, ErrNoPendingLabel
		}
		return nil, nil, s.allocationFailed(ctx, err)
	}
	s.allocated(ctx, rec)
	return rec, entry, nil
}

func (s *BarcodePoolService) allocationFailed(ctx context.Context, err error) error {
	if errors.Is(err, storage.ErrPoolExhausted) {
		s.metrics.RecordAllocation(monitoring.ResultExhausted)
		s.log.Warn("barcode pool exhausted")
		s.poolChanged(ctx)
		return fmt.Errorf("%w: please upload more barcodes", ErrPoolExhausted)
	}
	s.metrics.RecordAllocation(monitoring.ResultError)
	return err
}

func (s *BarcodePoolService) allocated(ctx context.Context, rec *domain.BarcodeRecord) {
	s.metrics.RecordAllocation(monitoring.ResultSuccess)
	s.log.Info("barcode allocated", zap.String("barcode_id", rec.ID), zap.String("linear_value", rec.LinearValue))
	s.poolChanged(ctx)
	s.events.Publish(ctx, newEvent(EventBarcodeAllocated, rec))
}

// Stats 返回条码池统计
func (s *BarcodePoolService) Stats(ctx context.Context) (domain.PoolStats, error) {
	stats, err := s.repo.BarcodeStats(ctx)
	if err != nil {
		return domain.PoolStats{}, err
	}
	s.metrics.UpdatePoolStats(stats)
	return stats, nil
}

// RefreshStats 刷新统计指标并推送给管理端
func (s *BarcodePoolService) RefreshStats(ctx context.Context) (domain.PoolStats, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return domain.PoolStats{}, err
	}
	s.events.Publish(ctx, newEvent(EventPoolStatsUpdated, stats))
	return stats, nil
}

// Status 返回统计和下一条待分配条码的预览，结果短暂缓存
func (s *BarcodePoolService) Status(ctx context.Context) (*PoolStatus, error) {
	if s.statusCache != nil {
		if v, ok := s.statusCache.Get(statusCacheKey); ok {
			status := v.(PoolStatus)
			return &status, nil
		}
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}

	status := PoolStatus{Stats: stats}
	next, err := s.repo.PeekNextBarcode(ctx)
	switch {
	case err == nil:
		status.NextAvailable = &NextBarcode{
			ID:          next.ID,
			LinearValue: next.LinearValue,
			GS1Preview:  preview(next.GS1Value),
		}
		status.HasAvailable = true
	case errors.Is(err, storage.ErrPoolExhausted):
	default:
		return nil, err
	}

	if s.statusCache != nil {
		s.statusCache.Set(statusCacheKey, status, statusCacheTTL)
	}
	return &status, nil
}

// List 按创建时间倒序返回全部条码
func (s *BarcodePoolService) List(ctx context.Context) ([]domain.BarcodeRecord, error) {
	return s.repo.ListBarcodes(ctx)
}

// DeleteAll 清空条码池，返回删除数量
func (s *BarcodePoolService) DeleteAll(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteAllBarcodes(ctx)
	if err != nil {
		return 0, err
	}
	s.log.Warn("barcode pool cleared", zap.Int("deleted", n))
	s.poolChanged(ctx)
	s.events.Publish(ctx, newEvent(EventBarcodesCleared, map[string]int{"deleted": n}))
	return n, nil
}

// poolChanged 失效状态缓存并触发告警检查
func (s *BarcodePoolService) poolChanged(ctx context.Context) {
	if s.statusCache != nil {
		s.statusCache.Delete(statusCacheKey)
	}
	if s.watcher != nil {
		s.watcher(ctx)
	}
}

func preview(gs1 string) string {
	r := []rune(gs1)
	if len(r) <= previewLength {
		return gs1
	}
	return string(r[:previewLength]) + "..."
}
