package storage

import (
	"context"
	"errors"
	"time"

	"labelgate/backend/internal/domain"
)

var (
	// ErrKeyNotFound 访问密钥不存在
	ErrKeyNotFound = errors.New("access key not found")
	// ErrDuplicateCode 访问密钥代码冲突
	ErrDuplicateCode = errors.New("access key code already exists")
	// ErrKeyUnavailable 条件自增未命中：密钥不存在、已停用或已用尽
	ErrKeyUnavailable = errors.New("access key unavailable")
	// ErrMaxUsesBelowUsage 条件更新未命中：新的上限小于当前使用次数
	ErrMaxUsesBelowUsage = errors.New("max uses below current usage")
	// ErrBarcodeNotFound 条码不存在
	ErrBarcodeNotFound = errors.New("barcode not found")
	// ErrPoolExhausted 没有未使用的条码
	ErrPoolExhausted = errors.New("barcode pool exhausted")
	// ErrUsageLogNotFound 使用记录不存在
	ErrUsageLogNotFound = errors.New("usage log not found")
)

// AccessKeyRepository 定义访问密钥数据存取操作。
type AccessKeyRepository interface {
	CreateAccessKey(ctx context.Context, key *domain.AccessKey) error
	GetAccessKey(ctx context.Context, id string) (*domain.AccessKey, error)
	GetAccessKeyByCode(ctx context.Context, code string) (*domain.AccessKey, error)
	ListAccessKeys(ctx context.Context) ([]domain.AccessKey, error)
	// IncrementKeyUsage 原子地将 current_uses 加一，达到上限时同时停用；
	// 密钥不可用时返回 ErrKeyUnavailable。
	IncrementKeyUsage(ctx context.Context, id string) (*domain.AccessKey, error)
	// UpdateAccessKey 仅当 maxUses >= current_uses 时更新描述与上限。
	UpdateAccessKey(ctx context.Context, id, description string, maxUses int) (*domain.AccessKey, error)
	SetAccessKeyActive(ctx context.Context, id string, active bool) (*domain.AccessKey, error)
	// DeleteAccessKey 删除密钥及其全部使用记录
	DeleteAccessKey(ctx context.Context, id string) error
}

// BarcodeRepository 定义条码池数据存取操作。
type BarcodeRepository interface {
	// InsertBarcodes 逐条插入，gs1 值已存在的计为重复
	InsertBarcodes(ctx context.Context, candidates []domain.BarcodeCandidate) (domain.IngestResult, error)
	// AllocateBarcode 原子地取出最早的未使用条码并标记为已使用
	AllocateBarcode(ctx context.Context) (*domain.BarcodeRecord, error)
	// AllocateBarcodeForUsage 认领该密钥最近一条尚未关联条码的使用记录并分配条码写入其中，
	// 整体原子完成。没有待认领记录时返回 ErrUsageLogNotFound，池为空时返回
	// ErrPoolExhausted，两种情况都不修改任何数据。
	AllocateBarcodeForUsage(ctx context.Context, keyID string) (*domain.BarcodeRecord, *domain.UsageLogEntry, error)
	// PeekNextBarcode 查看下一条待分配的条码，不修改状态
	PeekNextBarcode(ctx context.Context) (*domain.BarcodeRecord, error)
	BarcodeStats(ctx context.Context) (domain.PoolStats, error)
	ListBarcodes(ctx context.Context) ([]domain.BarcodeRecord, error)
	DeleteAllBarcodes(ctx context.Context) (int, error)
}

// UsageLogRepository 定义使用记录数据存取操作。
type UsageLogRepository interface {
	AppendUsageLog(ctx context.Context, entry *domain.UsageLogEntry) error
	// ListUsageLogs 按 used_at 倒序返回，limit <= 0 表示全部
	ListUsageLogs(ctx context.Context, limit int) ([]domain.UsageLogView, error)
}

// TokenBlacklist 定义管理员令牌吊销操作。
type TokenBlacklist interface {
	AddToBlacklist(ctx context.Context, jti string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// RateLimitRepository 定义固定窗口限流计数。
type RateLimitRepository interface {
	IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Store 聚合所有存储接口
type Store interface {
	AccessKeyRepository
	BarcodeRepository
	UsageLogRepository
	TokenBlacklist
	Close() error
	Health(ctx context.Context) error
}
