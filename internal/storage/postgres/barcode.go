package postgres

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/storage"
)

// ========== Barcode Repository ==========

// InsertBarcodes 逐条插入，gs1_hash 冲突的计为重复
func (s *Store) InsertBarcodes(ctx context.Context, candidates []domain.BarcodeCandidate) (domain.IngestResult, error) {
	var res domain.IngestResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		onConflict := clause.OnConflict{Columns: []clause.Column{{Name: "gs1_hash"}}, DoNothing: true}
		for _, c := range candidates {
			rec := domain.BarcodeRecord{
				ID:          uuid.Must(uuid.NewV7()).String(),
				GS1Value:    c.GS1Value,
				GS1Hash:     domain.HashGS1(c.GS1Value),
				LinearValue: c.LinearValue,
				CreatedAt:   s.now(),
			}
			r := tx.Clauses(onConflict).Create(&rec)
			if r.Error != nil {
				return r.Error
			}
			if r.RowsAffected == 0 {
				res.Duplicates++
			} else {
				res.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		return domain.IngestResult{}, err
	}
	return res, nil
}

// AllocateBarcode 锁定最早的未使用条码（跳过已被其他事务锁定的行）并标记为已使用
func (s *Store) AllocateBarcode(ctx context.Context) (*domain.BarcodeRecord, error) {
	var rec *domain.BarcodeRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rec, err = s.takeBarcode(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// AllocateBarcodeForUsage 锁定该密钥待认领的使用记录，取出条码并写入记录，三步在同一事务中完成
func (s *Store) AllocateBarcodeForUsage(ctx context.Context, keyID string) (*domain.BarcodeRecord, *domain.UsageLogEntry, error) {
	var (
		rec   *domain.BarcodeRecord
		entry *domain.UsageLogEntry
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pending, err := pendingUsageLog(tx, keyID)
		if err != nil {
			return err
		}
		if rec, err = s.takeBarcode(tx); err != nil {
			return err
		}
		entry, err = attachBarcode(tx, pending, rec.Ref())
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return rec, entry, nil
}

func (s *Store) takeBarcode(tx *gorm.DB) (*domain.BarcodeRecord, error) {
	var rec domain.BarcodeRecord
	found := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("is_used = ?", false).
		Order("created_at, id").
		Limit(1).
		Find(&rec)
	if found.Error != nil {
		return nil, found.Error
	}
	if found.RowsAffected == 0 {
		return nil, storage.ErrPoolExhausted
	}

	now := s.now()
	upd := tx.Model(&domain.BarcodeRecord{}).
		Where("id = ? AND is_used = ?", rec.ID, false).
		Updates(map[string]any{"is_used": true, "used_at": now})
	if upd.Error != nil {
		return nil, upd.Error
	}
	if upd.RowsAffected == 0 {
		return nil, storage.ErrPoolExhausted
	}
	rec.IsUsed = true
	rec.UsedAt = &now
	return &rec, nil
}

// PeekNextBarcode 查看下一条待分配的条码
func (s *Store) PeekNextBarcode(ctx context.Context) (*domain.BarcodeRecord, error) {
	var rec domain.BarcodeRecord
	r := s.db.WithContext(ctx).Where("is_used = ?", false).Order("created_at, id").Limit(1).Find(&rec)
	if r.Error != nil {
		return nil, r.Error
	}
	if r.RowsAffected == 0 {
		return nil, storage.ErrPoolExhausted
	}
	return &rec, nil
}

// BarcodeStats 统计条码池
func (s *Store) BarcodeStats(ctx context.Context) (domain.PoolStats, error) {
	var row struct {
		Total int
		Used  int
	}
	err := s.db.WithContext(ctx).Model(&domain.BarcodeRecord{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN is_used = TRUE THEN 1 ELSE 0 END), 0) AS used").
		Scan(&row).Error
	if err != nil {
		return domain.PoolStats{}, err
	}
	return domain.NewPoolStats(row.Total, row.Used), nil
}

// ListBarcodes 按创建时间倒序返回全部条码
func (s *Store) ListBarcodes(ctx context.Context) ([]domain.BarcodeRecord, error) {
	records := []domain.BarcodeRecord{}
	err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&records).Error
	return records, err
}

// DeleteAllBarcodes 清空条码池
func (s *Store) DeleteAllBarcodes(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&domain.BarcodeRecord{})
	return int(res.RowsAffected), res.Error
}
