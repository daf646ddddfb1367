package postgres

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/storage"
)

// pendingScanDepth 查找待认领记录时向前扫描的条数
const pendingScanDepth = 20

// ========== Usage Log Repository ==========

// AppendUsageLog 追加使用记录
func (s *Store) AppendUsageLog(ctx context.Context, entry *domain.UsageLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.Must(uuid.NewV7()).String()
	}
	if entry.UsedAt.IsZero() {
		entry.UsedAt = s.now()
	}
	if entry.LabelData == nil {
		entry.LabelData = domain.LabelData{}
	}
	return s.db.WithContext(ctx).Create(entry).Error
}

// ListUsageLogs 按 used_at 倒序返回，附带密钥代码
func (s *Store) ListUsageLogs(ctx context.Context, limit int) ([]domain.UsageLogView, error) {
	q := s.db.WithContext(ctx).
		Table("usage_logs AS l").
		Select("l.id, l.key_id, l.used_at, l.ip_address, l.label_data, k.code AS key_code").
		Joins("JOIN access_keys k ON k.id = l.key_id").
		Order("l.used_at DESC, l.id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	logs := []domain.UsageLogView{}
	err := q.Scan(&logs).Error
	return logs, err
}

// usageLogRow 保留 label_data 原文，用于比较并替换
type usageLogRow struct {
	domain.UsageLogEntry
	Raw string `gorm:"column:raw_label_data"`
}

// pendingUsageLog 返回该密钥最近一条尚未关联条码的记录并加行锁
func pendingUsageLog(tx *gorm.DB, keyID string) (*usageLogRow, error) {
	var recent []usageLogRow
	err := tx.Model(&domain.UsageLogEntry{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id, key_id, used_at, ip_address, label_data, label_data AS raw_label_data").
		Where("key_id = ?", keyID).
		Order("used_at DESC, id DESC").
		Limit(pendingScanDepth).
		Scan(&recent).Error
	if err != nil {
		return nil, err
	}
	for i := range recent {
		if !recent[i].LabelData.HasBarcode() {
			return &recent[i], nil
		}
	}
	return nil, storage.ErrUsageLogNotFound
}

// attachBarcode 比较并替换 label_data，把条码写入待认领的记录
func attachBarcode(tx *gorm.DB, row *usageLogRow, ref domain.BarcodeRef) (*domain.UsageLogEntry, error) {
	entry := row.UsageLogEntry
	data := entry.LabelData.Clone()
	data[domain.LabelDataBarcodeKey] = ref

	res := tx.Model(&domain.UsageLogEntry{}).
		Where("id = ? AND label_data = ?", entry.ID, row.Raw).
		Update("label_data", data)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, storage.ErrUsageLogNotFound
	}
	entry.LabelData = data
	return &entry, nil
}
