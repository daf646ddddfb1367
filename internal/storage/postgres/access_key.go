package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/storage"
)

// incrementKeySQL is_active 必须写在 current_uses 之前（MySQL 从左到右求值 SET）
const incrementKeySQL = `UPDATE access_keys
	SET is_active = CASE WHEN current_uses + 1 >= max_uses THEN FALSE ELSE is_active END,
		current_uses = current_uses + 1
	WHERE id = ? AND is_active = TRUE AND current_uses < max_uses`

// ========== Access Key Repository ==========

// CreateAccessKey 创建密钥
func (s *Store) CreateAccessKey(ctx context.Context, key *domain.AccessKey) error {
	if key.ID == "" {
		key.ID = uuid.Must(uuid.NewV7()).String()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = s.now()
	}
	err := s.db.WithContext(ctx).Create(key).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrDuplicateCode
	}
	return err
}

// GetAccessKey 根据 ID 获取密钥
func (s *Store) GetAccessKey(ctx context.Context, id string) (*domain.AccessKey, error) {
	return firstKey(s.db.WithContext(ctx).Where("id = ?", id))
}

// GetAccessKeyByCode 根据代码获取密钥
func (s *Store) GetAccessKeyByCode(ctx context.Context, code string) (*domain.AccessKey, error) {
	return firstKey(s.db.WithContext(ctx).Where("code = ?", code))
}

func firstKey(q *gorm.DB) (*domain.AccessKey, error) {
	var key domain.AccessKey
	if err := q.First(&key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrKeyNotFound
		}
		return nil, err
	}
	return &key, nil
}

// ListAccessKeys 按创建时间倒序返回全部密钥
func (s *Store) ListAccessKeys(ctx context.Context) ([]domain.AccessKey, error) {
	keys := []domain.AccessKey{}
	err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&keys).Error
	return keys, err
}

// IncrementKeyUsage 条件自增，未命中返回 storage.ErrKeyUnavailable
func (s *Store) IncrementKeyUsage(ctx context.Context, id string) (*domain.AccessKey, error) {
	var updated *domain.AccessKey
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(incrementKeySQL, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return storage.ErrKeyUnavailable
		}
		var err error
		updated, err = firstKey(tx.Where("id = ?", id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateAccessKey 仅当新上限不低于当前使用次数时更新
func (s *Store) UpdateAccessKey(ctx context.Context, id, description string, maxUses int) (*domain.AccessKey, error) {
	db := s.db.WithContext(ctx)
	res := db.Model(&domain.AccessKey{}).
		Where("id = ? AND current_uses <= ?", id, maxUses).
		Updates(map[string]any{"description": description, "max_uses": maxUses})
	if res.Error != nil {
		return nil, res.Error
	}

	key, err := firstKey(db.Where("id = ?", id))
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 && key.CurrentUses > maxUses {
		return nil, storage.ErrMaxUsesBelowUsage
	}
	return key, nil
}

// SetAccessKeyActive 设置激活状态
func (s *Store) SetAccessKeyActive(ctx context.Context, id string, active bool) (*domain.AccessKey, error) {
	db := s.db.WithContext(ctx)
	if err := db.Model(&domain.AccessKey{}).Where("id = ?", id).Update("is_active", active).Error; err != nil {
		return nil, err
	}
	return firstKey(db.Where("id = ?", id))
}

// DeleteAccessKey 在事务中删除使用记录和密钥
func (s *Store) DeleteAccessKey(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("key_id = ?", id).Delete(&domain.UsageLogEntry{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.AccessKey{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return storage.ErrKeyNotFound
		}
		return nil
	})
}
